// Package sqlite is the local storage backend, backed by a single database
// file. Money columns hold decimal strings; aggregation happens in Go so
// no amount ever passes through a float.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/store"
)

//go:embed schema.sql
var schema string

const dateFormat = "2006-01-02"

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a transaction record and returns its ID.
func (s *Store) Create(ctx context.Context, rec *store.TransactionRecord) (string, error) {
	var fees any
	if rec.Fees != nil {
		b, err := json.Marshal(rec.Fees)
		if err != nil {
			return "", fmt.Errorf("encode fees: %w", err)
		}
		fees = string(b)
	}

	var reviewedAt any
	if !rec.ReviewedAt.IsZero() {
		reviewedAt = rec.ReviewedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, user_id, date, description, original_desc, amount, total,
			direction, category, confidence, fees, source, is_imported,
			reviewed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.Date.Format(dateFormat), rec.Description,
		rec.OriginalDesc, rec.Amount.String(), rec.Total.String(),
		string(rec.Direction), rec.Category, string(rec.Confidence), fees,
		rec.Source, rec.IsImported, reviewedAt,
		rec.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return rec.ID, nil
}

// AggregateSpent sums debit totals for the user and category over
// [from, to). Totals are summed as decimals in Go.
func (s *Store) AggregateSpent(ctx context.Context, userID, category string, from, to time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT total FROM transactions
		WHERE user_id = ? AND category = ? AND direction = 'debit'
		  AND date >= ? AND date < ?
	`, userID, category, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return decimal.Zero, fmt.Errorf("query spent: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scan total: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse stored total %q: %w", raw, err)
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

// ListTouched returns the budgets matching any of the given months and
// categories for the user.
func (s *Store) ListTouched(ctx context.Context, userID string, months []store.Month, categories []string) ([]store.Budget, error) {
	if len(months) == 0 || len(categories) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, user_id, category, year, month, spend_limit, current_spent
		FROM budgets
		WHERE user_id = ?`
	args := []any{userID}

	query += " AND (" + placeholders(len(months), "(year = ? AND month = ?)", " OR ") + ")"
	for _, m := range months {
		args = append(args, m.Year, int(m.Month))
	}
	query += " AND category IN (" + placeholders(len(categories), "?", ", ") + ")"
	for _, c := range categories {
		args = append(args, c)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var budgets []store.Budget
	for rows.Next() {
		var (
			b           store.Budget
			year, month int
			limit       string
			spent       string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &year, &month, &limit, &spent); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.Month = store.Month{Year: year, Month: time.Month(month)}
		if b.Limit, err = decimal.NewFromString(limit); err != nil {
			return nil, fmt.Errorf("parse budget limit %q: %w", limit, err)
		}
		if b.CurrentSpent, err = decimal.NewFromString(spent); err != nil {
			return nil, fmt.Errorf("parse budget spent %q: %w", spent, err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// UpdateSpent overwrites a budget's current_spent.
func (s *Store) UpdateSpent(ctx context.Context, budgetID string, spent decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET current_spent = ? WHERE id = ?`,
		spent.String(), budgetID)
	if err != nil {
		return fmt.Errorf("update budget spent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("budget %s not found", budgetID)
	}
	return nil
}

// ListActive returns active categories in catalog order.
func (s *Store) ListActive(ctx context.Context) (domain.Catalog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, name, type FROM categories
		WHERE active = 1 ORDER BY pos, value
	`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var catalog domain.Catalog
	for rows.Next() {
		c := domain.Category{Active: true}
		if err := rows.Scan(&c.Value, &c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		catalog = append(catalog, c)
	}
	return catalog, rows.Err()
}

// SeedCategories inserts any missing catalog entries. Used by the local
// entrypoints so a fresh database starts usable.
func (s *Store) SeedCategories(ctx context.Context, catalog domain.Catalog) error {
	for i, c := range catalog {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO categories (value, name, type, active, pos)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (value) DO NOTHING
		`, c.Value, c.Name, c.Type, c.Active, i)
		if err != nil {
			return fmt.Errorf("seed category %s: %w", c.Value, err)
		}
	}
	return nil
}

// CreateBudget inserts a budget row. Exists for the local entrypoints and
// tests; the pipeline itself never creates budgets.
func (s *Store) CreateBudget(ctx context.Context, b *store.Budget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (id, user_id, category, year, month, spend_limit, current_spent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.UserID, b.Category, b.Month.Year, int(b.Month.Month),
		b.Limit.String(), b.CurrentSpent.String())
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

func placeholders(n int, unit, sep string) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += sep
		}
		out += unit
	}
	return out
}
