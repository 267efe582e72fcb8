package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/extract"
	"github.com/finledger/finledger/internal/importer"
	"github.com/finledger/finledger/internal/logger"
	"github.com/finledger/finledger/internal/pipeline"
	"github.com/finledger/finledger/internal/segment"
	"github.com/finledger/finledger/internal/statement"
)

type mockProcessor struct {
	ProcessFunc func(ctx context.Context, state *pipeline.State) (*pipeline.Output, error)
}

func (m *mockProcessor) Process(ctx context.Context, state *pipeline.State) (*pipeline.Output, error) {
	return m.ProcessFunc(ctx, state)
}

type mockImporter struct {
	ImportFunc func(ctx context.Context, userID, source string, txs []domain.ParsedTransaction) (*importer.Result, error)
}

func (m *mockImporter) Import(ctx context.Context, userID, source string, txs []domain.ParsedTransaction) (*importer.Result, error) {
	return m.ImportFunc(ctx, userID, source, txs)
}

func multipartBody(t *testing.T, fields map[string]string, filename string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(fileData); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	return env
}

func TestStatementsHandler_Upload(t *testing.T) {
	cat := "transport"
	processor := &mockProcessor{
		ProcessFunc: func(ctx context.Context, state *pipeline.State) (*pipeline.Output, error) {
			if state.UserID != "u42" {
				t.Errorf("UserID = %q", state.UserID)
			}
			if len(state.PDFBytes) == 0 || state.Password != "hunter2" {
				t.Errorf("pdf bytes or password not forwarded")
			}
			return &pipeline.Output{
				BankName: "Acme Bank",
				Transactions: []domain.ParsedTransaction{{
					Date:        "2024-02-01",
					Description: "UBER TRIP",
					Amount:      decimal.RequireFromString("25.00"),
					Direction:   domain.DirectionDebit,
					Category:    &cat,
					Confidence:  domain.ConfidenceHigh,
				}},
				Summary: domain.ValidationSummary{Total: 1, AutoCategorized: 1},
			}, nil
		},
	}
	h := NewStatementsHandler(processor, &mockImporter{}, nil, nil, logger.New())

	body, contentType := multipartBody(t, map[string]string{"password": "hunter2"}, "feb.pdf", []byte("%PDF-1.7 fake"))
	req := httptest.NewRequest(http.MethodPost, "/api/statements/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "u42")
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env["success"] != true {
		t.Errorf("success = %v", env["success"])
	}
	if !strings.Contains(rec.Body.String(), "Acme Bank") {
		t.Error("response missing pipeline output")
	}
}

func TestStatementsHandler_Upload_NoFile(t *testing.T) {
	h := NewStatementsHandler(&mockProcessor{}, &mockImporter{}, nil, nil, logger.New())

	body, contentType := multipartBody(t, nil, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/statements/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env["code"] != "NO_FILE" {
		t.Errorf("code = %v", env["code"])
	}
}

func TestStatementsHandler_Upload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"password required", extract.ErrPasswordRequired, http.StatusUnauthorized, "PASSWORD_REQUIRED"},
		{"password incorrect", extract.ErrPasswordIncorrect, http.StatusUnauthorized, "PASSWORD_INCORRECT"},
		{"invalid format", extract.ErrInvalidFormat, http.StatusBadRequest, "INVALID_FORMAT"},
		{"extraction failed", extract.ErrExtractionFailed, http.StatusUnprocessableEntity, "EXTRACTION_FAILED"},
		{"not a statement", statement.ErrNotAStatement, http.StatusUnprocessableEntity, "NOT_A_STATEMENT"},
		{"no transactions", segment.ErrNoTransactions, http.StatusUnprocessableEntity, "NO_TRANSACTIONS"},
		{"parsing failed", segment.ErrParsingFailed, http.StatusUnprocessableEntity, "PARSING_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockProcessor{
				ProcessFunc: func(ctx context.Context, state *pipeline.State) (*pipeline.Output, error) {
					// Stage errors arrive wrapped by the pipeline runner.
					return nil, fmt.Errorf("step: %w", tt.err)
				},
			}
			h := NewStatementsHandler(processor, &mockImporter{}, nil, nil, logger.New())

			body, contentType := multipartBody(t, nil, "feb.pdf", []byte("%PDF-"))
			req := httptest.NewRequest(http.MethodPost, "/api/statements/upload", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			h.Upload(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if env := decodeEnvelope(t, rec); env["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", env["code"], tt.wantCode)
			}
		})
	}
}

func TestStatementsHandler_Upload_PreExtractedText(t *testing.T) {
	processor := &mockProcessor{
		ProcessFunc: func(ctx context.Context, state *pipeline.State) (*pipeline.Output, error) {
			if state.Text == "" || len(state.PDFBytes) != 0 {
				t.Error("text uploads must carry no PDF bytes")
			}
			return &pipeline.Output{}, nil
		},
	}
	h := NewStatementsHandler(processor, &mockImporter{}, nil, nil, logger.New())

	body, contentType := multipartBody(t, map[string]string{"text": "ACME BANK statement text"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/statements/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStatementsHandler_Import(t *testing.T) {
	imp := &mockImporter{
		ImportFunc: func(ctx context.Context, userID, source string, txs []domain.ParsedTransaction) (*importer.Result, error) {
			if source != "statement_upload" {
				t.Errorf("source = %q", source)
			}
			return &importer.Result{
				Success:  false,
				Imported: 1,
				Failed:   1,
				Errors:   []importer.RowError{{Index: 1, Message: "amount must be positive"}},
			}, nil
		},
	}
	h := NewStatementsHandler(&mockProcessor{}, imp, nil, nil, logger.New())

	cat := "groceries"
	payload, _ := json.Marshal(importRequest{
		Transactions: []domain.ParsedTransaction{
			{Date: "2024-02-01", Description: "A", Amount: decimal.RequireFromString("5.00"),
				Direction: domain.DirectionDebit, Category: &cat},
			{Date: "2024-02-02", Description: "B", Amount: decimal.Zero,
				Direction: domain.DirectionDebit, Category: &cat},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/statements/import", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Import(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "amount must be positive") {
		t.Error("per-row errors must reach the client")
	}
}

func TestStatementsHandler_Import_BatchTooLarge(t *testing.T) {
	imp := &mockImporter{
		ImportFunc: func(ctx context.Context, userID, source string, txs []domain.ParsedTransaction) (*importer.Result, error) {
			return nil, fmt.Errorf("%w: 1001 rows", importer.ErrBatchTooLarge)
		},
	}
	h := NewStatementsHandler(&mockProcessor{}, imp, nil, nil, logger.New())

	cat := "groceries"
	payload, _ := json.Marshal(importRequest{
		Transactions: []domain.ParsedTransaction{
			{Date: "2024-02-01", Description: "A", Amount: decimal.RequireFromString("5.00"),
				Direction: domain.DirectionDebit, Category: &cat},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/statements/import", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Import(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env["code"] != "BATCH_TOO_LARGE" {
		t.Errorf("code = %v", env["code"])
	}
}

func TestStatementsHandler_Import_EmptyBody(t *testing.T) {
	h := NewStatementsHandler(&mockProcessor{}, &mockImporter{}, nil, nil, logger.New())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/import", strings.NewReader(`{"transactions":[]}`))
	rec := httptest.NewRecorder()

	h.Import(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
