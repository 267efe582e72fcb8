// Package review annotates a parsed batch with flags and review markers.
// It never deletes or merges rows; destructive decisions belong to the
// human reviewer.
package review

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
)

// Options tunes the statistical checks.
type Options struct {
	// OutlierMultiple flags an amount larger than this multiple of the
	// batch median. Zero means the default of 10.
	OutlierMultiple int
}

// Validator runs the row-level checks over a whole batch.
type Validator struct {
	outlierMultiple decimal.Decimal
	log             zerolog.Logger
}

func NewValidator(opts Options, log zerolog.Logger) *Validator {
	if opts.OutlierMultiple <= 0 {
		opts.OutlierMultiple = 10
	}
	return &Validator{
		outlierMultiple: decimal.NewFromInt(int64(opts.OutlierMultiple)),
		log:             log.With().Str("component", "review").Logger(),
	}
}

var onlyNumbersRe = regexp.MustCompile(`^[\d\s\-/.#:]+$`)

// Descriptions that carry no information beyond the transaction type.
var genericDescriptions = map[string]struct{}{
	"transfer":   {},
	"trf":        {},
	"payment":    {},
	"pos":        {},
	"withdrawal": {},
	"deposit":    {},
	"charge":     {},
	"debit":      {},
	"credit":     {},
	"cash":       {},
}

// Validate returns an annotated copy of the batch plus its summary.
// Every transaction keeps its position; flags and NeedsReview are the only
// fields touched.
func (v *Validator) Validate(txs []domain.ParsedTransaction) ([]domain.ParsedTransaction, domain.ValidationSummary) {
	out := make([]domain.ParsedTransaction, len(txs))
	copy(out, txs)

	median := batchMedian(out)
	dupes := duplicateGroups(out)

	summary := domain.ValidationSummary{Total: len(out)}

	for i := range out {
		tx := &out[i]
		tx.Flags = rowFlags(*tx, median, v.outlierMultiple)
		if _, dup := dupes[duplicateKey(*tx)]; dup {
			tx.Flags = append(tx.Flags, domain.FlagDuplicateSuspected)
		}

		tx.NeedsReview = len(tx.Flags) > 0 ||
			tx.Confidence == domain.ConfidenceLow ||
			tx.Confidence == domain.ConfidenceMedium

		if tx.Confidence == domain.ConfidenceHigh {
			summary.AutoCategorized++
		}
		if tx.NeedsReview {
			summary.NeedsReview++
		}
		if len(tx.Flags) > 0 {
			summary.Flagged++
		}
	}

	v.log.Debug().
		Int("total", summary.Total).
		Int("flagged", summary.Flagged).
		Int("needs_review", summary.NeedsReview).
		Msg("batch validated")

	return out, summary
}

func rowFlags(tx domain.ParsedTransaction, median, multiple decimal.Decimal) []domain.Flag {
	var flags []domain.Flag

	desc := strings.TrimSpace(tx.Description)
	switch {
	case desc == "":
		flags = append(flags, domain.FlagNoDescription)
	case onlyNumbersRe.MatchString(desc):
		flags = append(flags, domain.FlagOnlyNumbers)
	case isGeneric(desc):
		flags = append(flags, domain.FlagGenericDescription)
	}

	if !validDirection(tx.Direction) || tx.Category == nil || *tx.Category == "" {
		flags = append(flags, domain.FlagAmbiguous)
	}

	if median.IsPositive() && tx.Amount.GreaterThan(median.Mul(multiple)) {
		flags = append(flags, domain.FlagUnusualAmount)
	}

	return flags
}

func isGeneric(desc string) bool {
	_, ok := genericDescriptions[strings.ToLower(desc)]
	return ok
}

func validDirection(d domain.Direction) bool {
	return d == domain.DirectionDebit || d == domain.DirectionCredit
}

// batchMedian is the median of all amounts in the batch. With fewer than
// three rows there is no meaningful notion of an outlier, so zero is
// returned and the check disabled.
func batchMedian(txs []domain.ParsedTransaction) decimal.Decimal {
	if len(txs) < 3 {
		return decimal.Zero
	}
	amounts := make([]decimal.Decimal, len(txs))
	for i, tx := range txs {
		amounts[i] = tx.Amount
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i].LessThan(amounts[j]) })

	mid := len(amounts) / 2
	if len(amounts)%2 == 1 {
		return amounts[mid]
	}
	return amounts[mid-1].Add(amounts[mid]).Div(decimal.NewFromInt(2))
}

// duplicateGroups returns the keys shared by two or more rows. Every member
// of a group gets flagged, including the first occurrence.
func duplicateGroups(txs []domain.ParsedTransaction) map[string]struct{} {
	counts := make(map[string]int, len(txs))
	for _, tx := range txs {
		counts[duplicateKey(tx)]++
	}
	groups := make(map[string]struct{})
	for key, n := range counts {
		if n > 1 {
			groups[key] = struct{}{}
		}
	}
	return groups
}

func duplicateKey(tx domain.ParsedTransaction) string {
	desc := strings.Join(strings.Fields(strings.ToLower(tx.Description)), " ")
	return tx.Date + "|" + tx.Amount.String() + "|" + desc
}
