// Package pipeline orchestrates the statement ingestion stages: extract,
// format check, clean, segment, categorize, review. Each stage is a pure
// transform over the shared state; only the importer, which runs outside
// this package after human review, writes anything durable.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/domain"
)

// Step is one stage of the ingestion pipeline.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State is the shared state threaded through the steps. Each upload gets
// its own State; nothing here is reused across requests.
type State struct {
	UserID   string
	Filename string

	// Inputs: PDF bytes with an optional password, or text the client
	// extracted itself. When Text is set the extract step is skipped.
	PDFBytes []byte
	Password string
	Text     string

	Catalog domain.Catalog

	Raw          domain.RawStatementText
	Cleaned      *domain.CleanedStatement
	ModelInput   string
	Segmented    *domain.SegmentResult
	Transactions []domain.ParsedTransaction
	Summary      domain.ValidationSummary
}

// Output is what an upload request gets back for human review.
type Output struct {
	BankName      string                       `json:"bankName"`
	AccountNumber string                       `json:"accountNumber,omitempty"`
	Period        string                       `json:"period,omitempty"`
	Dialect       domain.BankDialect           `json:"dialect"`
	Transactions  []domain.ParsedTransaction   `json:"transactions"`
	Summary       domain.ValidationSummary     `json:"summary"`
}

// Pipeline runs steps in order, stopping at the first error.
type Pipeline struct {
	steps []Step
	log   zerolog.Logger
}

func New(log zerolog.Logger, steps ...Step) *Pipeline {
	return &Pipeline{
		steps: steps,
		log:   log.With().Str("component", "pipeline").Logger(),
	}
}

// Execute runs every step against the state. Step errors keep their
// sentinel identity so callers can map them to user-facing failures.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("%T: %w", step, err)
		}
	}
	return nil
}

// Process runs the full pipeline over one upload and shapes the result.
func (p *Pipeline) Process(ctx context.Context, state *State) (*Output, error) {
	if err := p.Execute(ctx, state); err != nil {
		return nil, err
	}

	out := &Output{
		Transactions: state.Transactions,
		Summary:      state.Summary,
		Dialect:      domain.DialectUnknown,
	}
	if state.Segmented != nil {
		out.BankName = state.Segmented.BankName
		out.AccountNumber = state.Segmented.AccountNumber
		out.Period = state.Segmented.Period
	}
	if state.Cleaned != nil {
		out.Dialect = state.Cleaned.Dialect
	}

	p.log.Info().
		Str("user_id", state.UserID).
		Str("bank", out.BankName).
		Int("transactions", len(out.Transactions)).
		Int("needs_review", out.Summary.NeedsReview).
		Msg("statement processed")

	return out, nil
}
