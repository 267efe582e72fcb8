package segment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/logger"
)

// mockModelClient lets tests script the model's behavior.
type mockModelClient struct {
	GenerateTextFunc func(ctx context.Context, prompt string) (string, error)
	calls            int
}

func (m *mockModelClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	m.calls++
	return m.GenerateTextFunc(ctx, prompt)
}

func testCatalog() domain.Catalog {
	return domain.Catalog{
		{Value: "groceries", Name: "Groceries", Type: "expense", Active: true},
		{Value: "salary", Name: "Salary", Type: "income", Active: true},
		{Value: "miscellaneous", Name: "Miscellaneous", Type: "expense", Active: true},
		{Value: "retired", Name: "Retired", Type: "expense", Active: false},
	}
}

const goodResponse = "```json\n" + `{
  "bank_name": "Acme Bank",
  "account_number": "00123456789",
  "period": "2024-02-01 to 2024-02-29",
  "transactions": [
    {
      "date": "2024-02-01",
      "description": "TRANSFER TO JOHN SMITH",
      "amount": 150.00,
      "direction": "debit",
      "category": null,
      "fees": {"service_charge": 50.00}
    },
    {
      "date": "2024-02-02",
      "description": "SALARY JANUARY",
      "amount": 3000.00,
      "direction": "credit",
      "category": "salary",
      "fees": null
    }
  ]
}` + "\n```"

func TestSegmenter_Parse(t *testing.T) {
	client := &mockModelClient{
		GenerateTextFunc: func(ctx context.Context, prompt string) (string, error) {
			// The prompt must carry the active catalog and the text.
			if !strings.Contains(prompt, `"groceries"`) {
				t.Error("prompt missing catalog value")
			}
			if strings.Contains(prompt, `"retired"`) {
				t.Error("prompt must not carry inactive categories")
			}
			if !strings.Contains(prompt, "TRANSFER TO JOHN") {
				t.Error("prompt missing statement text")
			}
			return goodResponse, nil
		},
	}
	s := New(client, Options{}, logger.New())

	result, err := s.Parse(context.Background(), "01/02/2024 TRANSFER TO JOHN 150.00", testCatalog())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if result.BankName != "Acme Bank" {
		t.Errorf("BankName = %q", result.BankName)
	}
	if len(result.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(result.Transactions))
	}

	first := result.Transactions[0]
	if first.Direction != domain.DirectionDebit {
		t.Errorf("direction = %q, want debit", first.Direction)
	}
	if first.Category != nil {
		t.Errorf("category = %v, want nil", *first.Category)
	}
	if first.Fees == nil || first.Fees.Service == nil {
		t.Fatal("expected service charge in fee breakdown")
	}
	if first.Total == nil || !first.Total.Equal(decimal.RequireFromString("200.00")) {
		t.Errorf("total = %v, want 200.00", first.Total)
	}

	second := result.Transactions[1]
	if second.Category == nil || *second.Category != "salary" {
		t.Errorf("category = %v, want salary", second.Category)
	}
	if second.Total != nil {
		t.Errorf("total = %v, want nil when no fees", second.Total)
	}
	if second.Fees != nil {
		t.Errorf("fees = %+v, want nil", second.Fees)
	}
}

func TestSegmenter_Parse_EmptyTransactionList(t *testing.T) {
	client := &mockModelClient{
		GenerateTextFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"bank_name": null, "transactions": []}`, nil
		},
	}
	s := New(client, Options{}, logger.New())

	_, err := s.Parse(context.Background(), "text", testCatalog())
	if !errors.Is(err, ErrNoTransactions) {
		t.Errorf("Parse() error = %v, want ErrNoTransactions", err)
	}
	if errors.Is(err, ErrParsingFailed) {
		t.Error("an empty list is not a parse failure")
	}
}

func TestSegmenter_Parse_InvalidDate(t *testing.T) {
	client := &mockModelClient{
		GenerateTextFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"transactions": [{"date": "02/01/2024", "description": "X", "amount": 1.0, "direction": "debit"}]}`, nil
		},
	}
	s := New(client, Options{}, logger.New())

	_, err := s.Parse(context.Background(), "text", testCatalog())
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("Parse() error = %v, want ErrParsingFailed", err)
	}
}

func TestSegmenter_Parse_SignedAmountRecovered(t *testing.T) {
	client := &mockModelClient{
		GenerateTextFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"transactions": [{"date": "2024-02-01", "description": "POS", "amount": -42.50, "direction": null}]}`, nil
		},
	}
	s := New(client, Options{}, logger.New())

	result, err := s.Parse(context.Background(), "text", testCatalog())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tx := result.Transactions[0]
	if tx.Amount.IsNegative() {
		t.Errorf("amount = %v, want non-negative magnitude", tx.Amount)
	}
	if tx.Direction != domain.DirectionDebit {
		t.Errorf("direction = %q, want debit recovered from the sign", tx.Direction)
	}
}

func TestSegmenter_Parse_RetriesModelCall(t *testing.T) {
	client := &mockModelClient{
		GenerateTextFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("transient network failure")
		},
	}
	s := New(client, Options{MaxRetries: 1}, logger.New())

	_, err := s.Parse(context.Background(), "text", testCatalog())
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("Parse() error = %v, want ErrParsingFailed", err)
	}
	if client.calls < 2 {
		t.Errorf("model called %d times, want at least one retry", client.calls)
	}
}

func TestTruncateAtLine(t *testing.T) {
	text := "line one\nline two\nline three"
	got := truncateAtLine(text, 15)
	if got != "line one" {
		t.Errorf("truncateAtLine() = %q, want cut at the last full line", got)
	}
	if truncateAtLine(text, 1000) != text {
		t.Error("short input must pass through untouched")
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", "Here you go:\n{\"a\":1}\nHope that helps!", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.in); got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
