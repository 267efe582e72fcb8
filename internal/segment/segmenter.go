// Package segment sends cleaned statement text to a language model and
// turns the structured response into candidate transactions. The model is
// an untrusted collaborator: everything it returns is schema-validated
// before any downstream stage sees it.
package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/finledger/finledger/internal/domain"
)

// ErrParsingFailed is the terminal failure of this stage: the model call
// failed, or its output was empty or did not validate.
var ErrParsingFailed = errors.New("segment: model output could not be parsed")

// ErrNoTransactions means the model responded with a well-formed but empty
// transaction list. Distinct from ErrParsingFailed so callers can tell the
// user the document held no transactions rather than blame the model.
var ErrNoTransactions = errors.New("segment: no transactions found")

// ModelClient is the minimal surface the segmenter needs from an LLM
// service. The concrete client is injected at bootstrap, never created by
// module import side effects.
type ModelClient interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GenAIClient is the Gemini-backed ModelClient.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a Gemini client for the given model name. API
// credentials come from the environment, the same way the rest of the
// Google stack picks them up.
func NewGenAIClient(ctx context.Context, model string) (*GenAIClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("segment: create genai client: %w", err)
	}
	return &GenAIClient{client: client, model: model}, nil
}

// GenerateText sends one prompt and returns the raw response text.
func (c *GenAIClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("segment: generate content: %w", err)
	}
	return resp.Text(), nil
}

// Options tunes the segmenter.
type Options struct {
	// MaxPromptBytes caps how much statement text goes into one request.
	MaxPromptBytes int
	// MaxRetries bounds retries of the network call. Parse failures are
	// never retried; only the call itself is.
	MaxRetries int
}

// Segmenter runs stage 4 of the pipeline.
type Segmenter struct {
	client ModelClient
	opts   Options
	log    zerolog.Logger
}

// New creates a Segmenter around an injected model client.
func New(client ModelClient, opts Options, log zerolog.Logger) *Segmenter {
	if opts.MaxPromptBytes <= 0 {
		opts.MaxPromptBytes = 120000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Segmenter{client: client, opts: opts, log: log}
}

// Parse sends the statement text plus the live category catalog to the
// model and returns validated candidate transactions. The result is
// explicitly non-deterministic; callers re-validate everything.
func (s *Segmenter) Parse(ctx context.Context, text string, catalog domain.Catalog) (*domain.SegmentResult, error) {
	prompt := buildPrompt(truncateAtLine(text, s.opts.MaxPromptBytes), catalog)

	var rawText string
	call := func() error {
		var err error
		rawText, err = s.client.GenerateText(ctx, prompt)
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.MaxRetries)), ctx)
	if err := backoff.Retry(call, bo); err != nil {
		return nil, fmt.Errorf("%w: model call: %v", ErrParsingFailed, err)
	}

	if rawText == "" {
		return nil, fmt.Errorf("%w: empty response from model", ErrParsingFailed)
	}

	result, err := decodeResult(rawText, catalog)
	if err != nil {
		s.log.Warn().Err(err).Int("response_bytes", len(rawText)).Msg("model response rejected")
		return nil, err
	}

	s.log.Info().
		Str("bank", result.BankName).
		Int("transactions", len(result.Transactions)).
		Msg("statement segmented")

	return result, nil
}

// truncateAtLine caps s at max bytes, cutting at the last line boundary so
// the model never sees half a transaction row.
func truncateAtLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == '\n' {
			return cut[:i]
		}
	}
	return cut
}
