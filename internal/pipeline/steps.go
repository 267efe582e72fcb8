package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/statement"
	"github.com/finledger/finledger/internal/store"
)

// TextExtractor pulls plain text out of PDF bytes.
type TextExtractor interface {
	Extract(pdfBytes []byte, password string) (domain.RawStatementText, error)
}

// Segmenter turns cleaned statement text into candidate transactions.
type Segmenter interface {
	Parse(ctx context.Context, text string, catalog domain.Catalog) (*domain.SegmentResult, error)
}

// Categorizer re-derives categories and confidence deterministically.
type Categorizer interface {
	Apply(txs []domain.ParsedTransaction) []domain.ParsedTransaction
}

// RowValidator annotates the batch with flags and review markers.
type RowValidator interface {
	Validate(txs []domain.ParsedTransaction) ([]domain.ParsedTransaction, domain.ValidationSummary)
}

// Cleaner reconstructs transaction rows and folds fee lines.
type Cleaner interface {
	Clean(raw domain.RawStatementText) (domain.CleanedStatement, error)
}

// ExtractStep turns the uploaded PDF into raw text. Skipped when the
// client supplied pre-extracted text.
type ExtractStep struct {
	Extractor TextExtractor
}

func (s *ExtractStep) Execute(ctx context.Context, state *State) error {
	if state.Text != "" {
		state.Raw = domain.RawStatementText{Text: state.Text}
		return nil
	}
	raw, err := s.Extractor.Extract(state.PDFBytes, state.Password)
	if err != nil {
		return err
	}
	state.Raw = raw
	return nil
}

// FormatCheckStep rejects text that does not look like a bank statement
// before any expensive work happens.
type FormatCheckStep struct{}

func (s *FormatCheckStep) Execute(ctx context.Context, state *State) error {
	verdict := statement.ValidateStatement(state.Raw.Text)
	if !verdict.Valid {
		return fmt.Errorf("%w: %s", statement.ErrNotAStatement, verdict.Reason)
	}
	return nil
}

// CatalogStep loads the live category catalog once per run.
type CatalogStep struct {
	Catalog store.CategoryCatalog
}

func (s *CatalogStep) Execute(ctx context.Context, state *State) error {
	if state.Catalog != nil {
		return nil
	}
	catalog, err := s.Catalog.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading category catalog: %w", err)
	}
	state.Catalog = catalog
	return nil
}

// CleanStep normalizes the raw text. A cleaning failure degrades to the
// raw text rather than aborting the upload.
type CleanStep struct {
	Cleaner Cleaner
	Log     zerolog.Logger
}

func (s *CleanStep) Execute(ctx context.Context, state *State) error {
	cleaned, err := s.Cleaner.Clean(state.Raw)
	if err != nil {
		s.Log.Warn().Err(err).Msg("cleaning failed, using raw text")
		state.ModelInput = state.Raw.Text
		return nil
	}
	state.Cleaned = &cleaned
	state.ModelInput = cleaned.Text
	return nil
}

// SegmentStep calls the model. Its failure is terminal for the request.
type SegmentStep struct {
	Segmenter Segmenter
}

func (s *SegmentStep) Execute(ctx context.Context, state *State) error {
	result, err := s.Segmenter.Parse(ctx, state.ModelInput, state.Catalog)
	if err != nil {
		return err
	}
	state.Segmented = result
	state.Transactions = result.Transactions
	return nil
}

// CategorizeStep overrides the model's category guesses.
type CategorizeStep struct {
	Engine Categorizer
}

func (s *CategorizeStep) Execute(ctx context.Context, state *State) error {
	state.Transactions = s.Engine.Apply(state.Transactions)
	return nil
}

// ReviewStep flags rows and computes the batch summary.
type ReviewStep struct {
	Validator RowValidator
}

func (s *ReviewStep) Execute(ctx context.Context, state *State) error {
	state.Transactions, state.Summary = s.Validator.Validate(state.Transactions)
	return nil
}

// NewIngestionPipeline wires the standard six-step upload pipeline.
func NewIngestionPipeline(
	extractor TextExtractor,
	catalog store.CategoryCatalog,
	cleaner Cleaner,
	segmenter Segmenter,
	engine Categorizer,
	validator RowValidator,
	log zerolog.Logger,
) *Pipeline {
	return New(log,
		&ExtractStep{Extractor: extractor},
		&FormatCheckStep{},
		&CatalogStep{Catalog: catalog},
		&CleanStep{Cleaner: cleaner, Log: log},
		&SegmentStep{Segmenter: segmenter},
		&CategorizeStep{Engine: engine},
		&ReviewStep{Validator: validator},
	)
}
