// Package categorize re-derives transaction categories deterministically,
// independent of whatever the model guessed. The same description and fee
// shape always yield the same category and confidence, which makes this
// pass reproducible and testable where the model is not.
package categorize

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/domain"
)

// Engine matches transactions against an ordered rule list. Earlier rules
// win ties, so rule order is part of the configuration.
type Engine struct {
	rules []Rule
	log   zerolog.Logger
}

// NewEngine builds an engine from the given rules, dropping any rule whose
// category is not in the catalog. A nil rule slice falls back to the
// compiled-in defaults.
func NewEngine(rules []Rule, catalog domain.Catalog, log zerolog.Logger) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}

	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !catalog.Contains(r.Category) {
			log.Warn().
				Str("category", r.Category).
				Msg("categorization rule references unknown category, dropped")
			continue
		}
		kept = append(kept, r)
	}

	return &Engine{
		rules: kept,
		log:   log.With().Str("component", "categorize").Logger(),
	}
}

// Categorize returns the category value and confidence for one transaction.
//
// Resolution order: a strong keyword match wins with high confidence, then
// a fee-shape signature or weak keyword match yields medium, and when
// nothing applies the transaction lands in miscellaneous with low
// confidence. Manual confidence is reserved for the review path and is
// never produced here.
func (e *Engine) Categorize(tx domain.ParsedTransaction) (string, domain.Confidence) {
	desc := strings.ToLower(tx.Description)

	for _, r := range e.rules {
		if r.Direction != "" && r.Direction != tx.Direction {
			continue
		}
		if matchesAny(desc, r.Strong) {
			return r.Category, domain.ConfidenceHigh
		}
	}

	if cat, ok := feeSignature(tx); ok {
		return cat, domain.ConfidenceMedium
	}

	for _, r := range e.rules {
		if r.Direction != "" && r.Direction != tx.Direction {
			continue
		}
		if matchesAny(desc, r.Weak) {
			return r.Category, domain.ConfidenceMedium
		}
	}

	return domain.CategoryMiscellaneous, domain.ConfidenceLow
}

// Apply categorizes every transaction in the batch and returns a new slice.
// The input is never mutated.
func (e *Engine) Apply(txs []domain.ParsedTransaction) []domain.ParsedTransaction {
	out := make([]domain.ParsedTransaction, len(txs))
	for i, tx := range txs {
		cat, conf := e.Categorize(tx)
		tx.Category = &cat
		tx.Confidence = conf
		out[i] = tx
	}
	return out
}

func matchesAny(desc string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// feeSignature recognizes transactions by their fee shape alone. Stamp
// duty is levied on interbank transfers in every dialect we handle, so its
// presence marks a transfer even when the description says nothing useful.
func feeSignature(tx domain.ParsedTransaction) (string, bool) {
	if tx.Fees == nil {
		return "", false
	}
	if tx.Fees.StampDuty != nil || tx.Fees.Transfer != nil {
		return "transfers", true
	}
	return "", false
}
