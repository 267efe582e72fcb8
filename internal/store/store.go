// Package store defines the persistence boundary of the ingestion
// pipeline. The pipeline itself stores nothing; only the importer writes,
// and only through these interfaces.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
)

// TransactionRecord is the durable form of an imported transaction.
type TransactionRecord struct {
	ID           string               `json:"id"`
	UserID       string               `json:"userId"`
	Date         time.Time            `json:"date"`
	Description  string               `json:"description"`
	OriginalDesc string               `json:"originalDesc"`
	Amount       decimal.Decimal      `json:"amount"`
	Total        decimal.Decimal      `json:"total"`
	Direction    domain.Direction     `json:"direction"`
	Category     string               `json:"category"`
	Confidence   domain.Confidence    `json:"confidence"`
	Fees         *domain.FeeBreakdown `json:"fees,omitempty"`
	Source       string               `json:"source"`
	IsImported   bool                 `json:"isImported"`
	ReviewedAt   time.Time            `json:"reviewedAt"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// Month is a calendar month, the granularity budgets are kept at.
type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Start is the first instant of the month in UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month, so ranges are
// half-open [Start, End).
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, 0)
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Budget tracks spending against a limit for one (user, category, month).
type Budget struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Category     string          `json:"category"`
	Month        Month           `json:"month"`
	Limit        decimal.Decimal `json:"limit"`
	CurrentSpent decimal.Decimal `json:"currentSpent"`
}

// TransactionStore commits imported transactions and answers the spend
// aggregation the budget resync needs.
type TransactionStore interface {
	Create(ctx context.Context, rec *TransactionRecord) (string, error)
	// AggregateSpent sums committed debit totals for the user and category
	// over the half-open range [from, to).
	AggregateSpent(ctx context.Context, userID, category string, from, to time.Time) (decimal.Decimal, error)
}

// BudgetStore exposes the budgets an import may have touched.
type BudgetStore interface {
	ListTouched(ctx context.Context, userID string, months []Month, categories []string) ([]Budget, error)
	UpdateSpent(ctx context.Context, budgetID string, spent decimal.Decimal) error
}

// CategoryCatalog supplies the live category list for prompt construction
// and categorization rules. Read-only within a run.
type CategoryCatalog interface {
	ListActive(ctx context.Context) (domain.Catalog, error)
}
