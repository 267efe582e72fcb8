// Package bigquery is the hosted storage backend. The client is injected
// so entrypoints own its lifecycle and tests can substitute their own.
package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/store"
)

const (
	transactionsTable = "transactions"
	budgetsTable      = "budgets"
	categoriesTable   = "categories"
)

type Store struct {
	client  *bigquery.Client
	project string
	dataset string
}

func New(client *bigquery.Client, project, dataset string) *Store {
	return &Store{client: client, project: project, dataset: dataset}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) table(name string) *bigquery.Table {
	return s.client.DatasetInProject(s.project, s.dataset).Table(name)
}

func (s *Store) qualified(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.project, s.dataset, name)
}

type transactionRow struct {
	ID           string              `bigquery:"id"`
	UserID       string              `bigquery:"user_id"`
	Date         civil.Date          `bigquery:"date"`
	Description  string              `bigquery:"description"`
	OriginalDesc string              `bigquery:"original_desc"`
	Amount       *big.Rat            `bigquery:"amount"`
	Total        *big.Rat            `bigquery:"total"`
	Direction    string              `bigquery:"direction"`
	Category     string              `bigquery:"category"`
	Confidence   string              `bigquery:"confidence"`
	Fees         bigquery.NullJSON   `bigquery:"fees"`
	Source       string              `bigquery:"source"`
	IsImported   bool                `bigquery:"is_imported"`
	ReviewedAt   bigquery.NullTimestamp `bigquery:"reviewed_at"`
	CreatedAt    time.Time           `bigquery:"created_at"`
}

// Create streams one transaction record into the transactions table.
func (s *Store) Create(ctx context.Context, rec *store.TransactionRecord) (string, error) {
	row := &transactionRow{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Date:         civil.DateOf(rec.Date),
		Description:  rec.Description,
		OriginalDesc: rec.OriginalDesc,
		Amount:       rec.Amount.Rat(),
		Total:        rec.Total.Rat(),
		Direction:    string(rec.Direction),
		Category:     rec.Category,
		Confidence:   string(rec.Confidence),
		Source:       rec.Source,
		IsImported:   rec.IsImported,
		CreatedAt:    rec.CreatedAt,
	}
	if rec.Fees != nil {
		b, err := json.Marshal(rec.Fees)
		if err != nil {
			return "", fmt.Errorf("encode fees: %w", err)
		}
		row.Fees = bigquery.NullJSON{JSONVal: string(b), Valid: true}
	}
	if !rec.ReviewedAt.IsZero() {
		row.ReviewedAt = bigquery.NullTimestamp{Timestamp: rec.ReviewedAt, Valid: true}
	}

	inserter := s.table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, []*transactionRow{row}); err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return rec.ID, nil
}

// AggregateSpent sums imported debit totals for the user and category over
// the half-open range [from, to).
func (s *Store) AggregateSpent(ctx context.Context, userID, category string, from, to time.Time) (decimal.Decimal, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT COALESCE(SUM(total), NUMERIC '0') AS spent
		FROM %s
		WHERE user_id = @user_id
		  AND category = @category
		  AND direction = 'debit'
		  AND date >= @from_date
		  AND date < @to_date
	`, s.qualified(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "category", Value: category},
		{Name: "from_date", Value: civil.DateOf(from)},
		{Name: "to_date", Value: civil.DateOf(to)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query spent: %w", err)
	}

	var row struct {
		Spent *big.Rat `bigquery:"spent"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return decimal.Zero, fmt.Errorf("read spent: %w", err)
	}
	if row.Spent == nil {
		return decimal.Zero, nil
	}
	return ratToDecimal(row.Spent), nil
}

type budgetRow struct {
	ID           string   `bigquery:"id"`
	UserID       string   `bigquery:"user_id"`
	Category     string   `bigquery:"category"`
	Year         int64    `bigquery:"year"`
	Month        int64    `bigquery:"month"`
	SpendLimit   *big.Rat `bigquery:"spend_limit"`
	CurrentSpent *big.Rat `bigquery:"current_spent"`
}

// ListTouched returns the user's budgets matching any of the given months
// and categories.
func (s *Store) ListTouched(ctx context.Context, userID string, months []store.Month, categories []string) ([]store.Budget, error) {
	if len(months) == 0 || len(categories) == 0 {
		return nil, nil
	}

	keys := make([]string, len(months))
	for i, m := range months {
		keys[i] = m.String()
	}

	q := s.client.Query(fmt.Sprintf(`
		SELECT id, user_id, category, year, month, spend_limit, current_spent
		FROM %s
		WHERE user_id = @user_id
		  AND category IN UNNEST(@categories)
		  AND FORMAT('%%04d-%%02d', year, month) IN UNNEST(@months)
	`, s.qualified(budgetsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "categories", Value: categories},
		{Name: "months", Value: keys},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}

	var budgets []store.Budget
	for {
		var r budgetRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read budget: %w", err)
		}
		budgets = append(budgets, store.Budget{
			ID:           r.ID,
			UserID:       r.UserID,
			Category:     r.Category,
			Month:        store.Month{Year: int(r.Year), Month: time.Month(r.Month)},
			Limit:        ratToDecimal(r.SpendLimit),
			CurrentSpent: ratToDecimal(r.CurrentSpent),
		})
	}
	return budgets, nil
}

// UpdateSpent overwrites a budget's current_spent via DML.
func (s *Store) UpdateSpent(ctx context.Context, budgetID string, spent decimal.Decimal) error {
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s SET current_spent = @spent WHERE id = @id
	`, s.qualified(budgetsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "spent", Value: spent.Rat()},
		{Name: "id", Value: budgetID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("update budget spent: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("update budget spent: %w", err)
	}
	if status.Err() != nil {
		return fmt.Errorf("update budget spent: %w", status.Err())
	}
	return nil
}

type categoryRow struct {
	Value  string `bigquery:"value"`
	Name   string `bigquery:"name"`
	Type   string `bigquery:"type"`
	Active bool   `bigquery:"active"`
	Pos    int64  `bigquery:"pos"`
}

// ListActive returns active categories in catalog order.
func (s *Store) ListActive(ctx context.Context) (domain.Catalog, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT value, name, type, active, pos
		FROM %s
		WHERE active
		ORDER BY pos, value
	`, s.qualified(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}

	var catalog domain.Catalog
	for {
		var r categoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read category: %w", err)
		}
		catalog = append(catalog, domain.Category{
			Value:  r.Value,
			Name:   r.Name,
			Type:   r.Type,
			Active: r.Active,
		})
	}
	return catalog, nil
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	// NUMERIC carries nine fractional digits; two suffice for money here.
	return decimal.RequireFromString(r.FloatString(9)).Round(2)
}
