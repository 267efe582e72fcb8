// Package importer commits a reviewed transaction batch. Row failures are
// isolated; the budget resync afterwards is best effort and never fails
// the import.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/store"
)

// ErrBatchTooLarge is returned before any row is written.
var ErrBatchTooLarge = errors.New("batch exceeds the maximum import size")

const defaultMaxBatchSize = 1000

// RowError records one rejected row by its position in the submitted batch.
type RowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Result reports what an import did. Success means every row committed.
type Result struct {
	Success  bool       `json:"success"`
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors,omitempty"`
}

type Options struct {
	// MaxBatchSize caps one import call. Zero means the default of 1000.
	MaxBatchSize int
}

// Importer writes reviewed transactions through the store boundary.
// The budget store may be nil, in which case the resync step is skipped.
type Importer struct {
	transactions store.TransactionStore
	budgets      store.BudgetStore
	maxBatchSize int
	log          zerolog.Logger
	now          func() time.Time
}

func New(transactions store.TransactionStore, budgets store.BudgetStore, opts Options, log zerolog.Logger) *Importer {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = defaultMaxBatchSize
	}
	return &Importer{
		transactions: transactions,
		budgets:      budgets,
		maxBatchSize: opts.MaxBatchSize,
		log:          log.With().Str("component", "importer").Logger(),
		now:          time.Now,
	}
}

type touchedKey struct {
	category string
	month    store.Month
}

// Import commits the batch row by row. One bad row never aborts the rest;
// it lands in Result.Errors with its index so the client can resubmit
// exactly the rows that failed.
func (im *Importer) Import(ctx context.Context, userID, source string, txs []domain.ParsedTransaction) (*Result, error) {
	if len(txs) > im.maxBatchSize {
		return nil, fmt.Errorf("%w: %d rows, maximum %d", ErrBatchTooLarge, len(txs), im.maxBatchSize)
	}

	result := &Result{}
	touched := make(map[touchedKey]struct{})

	for i, tx := range txs {
		rec, err := im.buildRecord(userID, source, tx)
		if err == nil {
			_, err = im.transactions.Create(ctx, rec)
			if err != nil {
				err = fmt.Errorf("saving transaction: %w", err)
			}
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{Index: i, Message: err.Error()})
			im.log.Warn().Err(err).Int("row", i).Msg("import row rejected")
			continue
		}

		result.Imported++
		touched[touchedKey{category: rec.Category, month: store.MonthOf(rec.Date)}] = struct{}{}
	}

	result.Success = result.Failed == 0

	im.resyncBudgets(ctx, userID, touched)

	im.log.Info().
		Str("user_id", userID).
		Int("imported", result.Imported).
		Int("failed", result.Failed).
		Msg("batch import finished")

	return result, nil
}

// buildRecord validates one reviewed row and shapes it for storage.
func (im *Importer) buildRecord(userID, source string, tx domain.ParsedTransaction) (*store.TransactionRecord, error) {
	desc := strings.TrimSpace(tx.Description)
	if desc == "" {
		return nil, errors.New("description is required")
	}
	if !tx.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", tx.Amount)
	}
	date, err := time.Parse("2006-01-02", tx.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", tx.Date)
	}
	if tx.Direction != domain.DirectionDebit && tx.Direction != domain.DirectionCredit {
		return nil, fmt.Errorf("invalid direction %q", tx.Direction)
	}
	if tx.Category == nil || strings.TrimSpace(*tx.Category) == "" {
		return nil, errors.New("category is required")
	}

	total := tx.Amount
	if tx.Fees != nil {
		total = tx.Amount.Add(tx.Fees.Sum())
	}

	original := tx.OriginalDesc
	if original == "" {
		original = desc
	}

	now := im.now()
	return &store.TransactionRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		Date:         date,
		Description:  desc,
		OriginalDesc: original,
		Amount:       tx.Amount,
		Total:        total,
		Direction:    tx.Direction,
		Category:     *tx.Category,
		Confidence:   domain.ConfidenceManual,
		Fees:         tx.Fees,
		Source:       source,
		IsImported:   true,
		ReviewedAt:   now,
		CreatedAt:    now,
	}, nil
}

// resyncBudgets recomputes currentSpent for every budget whose category and
// month the import touched. Failures are logged and swallowed; the rows are
// already committed and the next import will converge the numbers.
func (im *Importer) resyncBudgets(ctx context.Context, userID string, touched map[touchedKey]struct{}) {
	if len(touched) == 0 {
		return
	}
	if im.budgets == nil {
		im.log.Debug().Msg("no budget store configured, resync skipped")
		return
	}

	monthSet := make(map[store.Month]struct{})
	categorySet := make(map[string]struct{})
	for k := range touched {
		monthSet[k.month] = struct{}{}
		categorySet[k.category] = struct{}{}
	}
	months := make([]store.Month, 0, len(monthSet))
	for m := range monthSet {
		months = append(months, m)
	}
	categories := make([]string, 0, len(categorySet))
	for c := range categorySet {
		categories = append(categories, c)
	}

	budgets, err := im.budgets.ListTouched(ctx, userID, months, categories)
	if err != nil {
		im.log.Error().Err(err).Msg("budget resync: listing budgets failed")
		return
	}

	for _, b := range budgets {
		// ListTouched matches on the cross product; skip combinations the
		// import did not actually touch.
		if _, ok := touched[touchedKey{category: b.Category, month: b.Month}]; !ok {
			continue
		}
		spent, err := im.transactions.AggregateSpent(ctx, userID, b.Category, b.Month.Start(), b.Month.End())
		if err != nil {
			im.log.Error().Err(err).
				Str("budget_id", b.ID).
				Msg("budget resync: aggregating spend failed")
			continue
		}
		if err := im.budgets.UpdateSpent(ctx, b.ID, spent); err != nil {
			im.log.Error().Err(err).
				Str("budget_id", b.ID).
				Msg("budget resync: update failed")
			continue
		}
		im.log.Debug().
			Str("budget_id", b.ID).
			Str("spent", spent.String()).
			Msg("budget resynced")
	}
}
