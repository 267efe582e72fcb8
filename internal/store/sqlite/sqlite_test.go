package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "finledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id, userID, category, date, total string, dir domain.Direction) *store.TransactionRecord {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	amt := decimal.RequireFromString(total)
	return &store.TransactionRecord{
		ID:          id,
		UserID:      userID,
		Date:        d,
		Description: "TEST ROW",
		Amount:      amt,
		Total:       amt,
		Direction:   dir,
		Category:    category,
		Confidence:  domain.ConfidenceManual,
		Source:      "statement_upload",
		IsImported:  true,
		ReviewedAt:  time.Now(),
		CreatedAt:   time.Now(),
	}
}

func TestStore_CreateAndAggregate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := []*store.TransactionRecord{
		record(uuid.NewString(), "u1", "groceries", "2024-02-05", "100.50", domain.DirectionDebit),
		record(uuid.NewString(), "u1", "groceries", "2024-02-20", "49.50", domain.DirectionDebit),
		record(uuid.NewString(), "u1", "groceries", "2024-03-01", "999.00", domain.DirectionDebit),
		record(uuid.NewString(), "u1", "salary", "2024-02-25", "3000.00", domain.DirectionCredit),
		record(uuid.NewString(), "u2", "groceries", "2024-02-10", "77.00", domain.DirectionDebit),
	}
	for _, r := range rows {
		id, err := s.Create(ctx, r)
		require.NoError(t, err)
		require.Equal(t, r.ID, id)
	}

	month := store.Month{Year: 2024, Month: time.February}
	spent, err := s.AggregateSpent(ctx, "u1", "groceries", month.Start(), month.End())
	require.NoError(t, err)
	require.True(t, spent.Equal(decimal.RequireFromString("150.00")),
		"spent = %s, want 150.00", spent)

	// Credits never count as spend.
	salarySpent, err := s.AggregateSpent(ctx, "u1", "salary", month.Start(), month.End())
	require.NoError(t, err)
	require.True(t, salarySpent.IsZero())
}

func TestStore_CreateWithFees(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fee := decimal.RequireFromString("50.00")
	rec := record(uuid.NewString(), "u1", "transfers", "2024-02-05", "200.00", domain.DirectionDebit)
	rec.Amount = decimal.RequireFromString("150.00")
	rec.Fees = &domain.FeeBreakdown{Service: &fee}

	_, err := s.Create(ctx, rec)
	require.NoError(t, err)

	spent, err := s.AggregateSpent(ctx, "u1", "transfers",
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, spent.Equal(decimal.RequireFromString("200.00")),
		"fee-inclusive total must drive the aggregate, got %s", spent)
}

func TestStore_Budgets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	feb := store.Month{Year: 2024, Month: time.February}
	mar := store.Month{Year: 2024, Month: time.March}

	budgets := []*store.Budget{
		{ID: "b1", UserID: "u1", Category: "groceries", Month: feb,
			Limit: decimal.RequireFromString("500"), CurrentSpent: decimal.Zero},
		{ID: "b2", UserID: "u1", Category: "transport", Month: feb,
			Limit: decimal.RequireFromString("200"), CurrentSpent: decimal.Zero},
		{ID: "b3", UserID: "u1", Category: "groceries", Month: mar,
			Limit: decimal.RequireFromString("500"), CurrentSpent: decimal.Zero},
		{ID: "b4", UserID: "u2", Category: "groceries", Month: feb,
			Limit: decimal.RequireFromString("300"), CurrentSpent: decimal.Zero},
	}
	for _, b := range budgets {
		require.NoError(t, s.CreateBudget(ctx, b))
	}

	touched, err := s.ListTouched(ctx, "u1", []store.Month{feb}, []string{"groceries"})
	require.NoError(t, err)
	require.Len(t, touched, 1)
	require.Equal(t, "b1", touched[0].ID)
	require.Equal(t, feb, touched[0].Month)

	require.NoError(t, s.UpdateSpent(ctx, "b1", decimal.RequireFromString("123.45")))
	touched, err = s.ListTouched(ctx, "u1", []store.Month{feb}, []string{"groceries"})
	require.NoError(t, err)
	require.True(t, touched[0].CurrentSpent.Equal(decimal.RequireFromString("123.45")))

	require.Error(t, s.UpdateSpent(ctx, "no-such-budget", decimal.Zero))
}

func TestStore_Categories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	catalog := domain.Catalog{
		{Value: "groceries", Name: "Groceries", Type: "expense", Active: true},
		{Value: "salary", Name: "Salary", Type: "income", Active: true},
		{Value: "legacy", Name: "Legacy", Type: "expense", Active: false},
	}
	require.NoError(t, s.SeedCategories(ctx, catalog))
	// Seeding twice must be a no-op.
	require.NoError(t, s.SeedCategories(ctx, catalog))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "groceries", active[0].Value)
	require.True(t, active.Contains("salary"))
	require.False(t, active.Contains("legacy"))
}
