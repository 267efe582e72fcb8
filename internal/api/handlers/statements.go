// Package handlers wires the ingestion pipeline and the importer to HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/api/middleware"
	"github.com/finledger/finledger/internal/archive"
	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/extract"
	"github.com/finledger/finledger/internal/importer"
	"github.com/finledger/finledger/internal/jobs"
	"github.com/finledger/finledger/internal/pipeline"
	"github.com/finledger/finledger/internal/segment"
	"github.com/finledger/finledger/internal/statement"
)

// maxUploadBytes caps the multipart form we are willing to parse.
const maxUploadBytes = 32 << 20

// Processor runs the ingestion pipeline over one upload.
type Processor interface {
	Process(ctx context.Context, state *pipeline.State) (*pipeline.Output, error)
}

// BatchImporter commits a reviewed batch.
type BatchImporter interface {
	Import(ctx context.Context, userID, source string, txs []domain.ParsedTransaction) (*importer.Result, error)
}

// StatementsHandler serves the upload and import endpoints.
type StatementsHandler struct {
	processor Processor
	importer  BatchImporter
	archive   archive.Service
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewStatementsHandler builds the handler. archive and publisher may be
// nil: archiving is skipped and async uploads are rejected respectively.
func NewStatementsHandler(processor Processor, imp BatchImporter, arc archive.Service, publisher jobs.Publisher, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		processor: processor,
		importer:  imp,
		archive:   arc,
		publisher: publisher,
		log:       log,
	}
}

// Upload handles POST /api/statements/upload. The multipart form carries
// either a PDF under "file" (with optional "password") or client-extracted
// text under "text".
func (h *StatementsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form", "INVALID_FORM")
		return
	}

	state := &pipeline.State{
		UserID:   userID(r),
		Password: r.FormValue("password"),
		Text:     r.FormValue("text"),
	}

	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Could not read uploaded file", "INVALID_FILE")
			return
		}
		state.PDFBytes = data
		state.Filename = header.Filename
	}

	if len(state.PDFBytes) == 0 && state.Text == "" {
		middleware.WriteError(w, http.StatusBadRequest, "No file was uploaded", "NO_FILE")
		return
	}

	h.archiveOriginal(ctx, state)

	out, err := h.processor.Process(ctx, state)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, out)
}

// archiveOriginal retains the uploaded PDF. Best effort only.
func (h *StatementsHandler) archiveOriginal(ctx context.Context, state *pipeline.State) {
	if h.archive == nil || len(state.PDFBytes) == 0 {
		return
	}
	uri, err := h.archive.Store(ctx, state.UserID, state.Filename, state.PDFBytes)
	if err != nil {
		h.log.Warn().Err(err).Msg("archiving original statement failed")
		return
	}
	h.log.Debug().Str("uri", uri).Msg("original statement archived")
}

// writePipelineError maps stage failures onto the upload status contract.
func (h *StatementsHandler) writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extract.ErrNoFile):
		middleware.WriteError(w, http.StatusBadRequest, "No file was uploaded", "NO_FILE")
	case errors.Is(err, extract.ErrInvalidFormat):
		middleware.WriteError(w, http.StatusBadRequest, "The uploaded file is not a PDF", "INVALID_FORMAT")
	case errors.Is(err, extract.ErrPasswordRequired):
		middleware.WriteError(w, http.StatusUnauthorized, "This PDF is password protected", "PASSWORD_REQUIRED")
	case errors.Is(err, extract.ErrPasswordIncorrect):
		middleware.WriteError(w, http.StatusUnauthorized, "The supplied password is incorrect", "PASSWORD_INCORRECT")
	case errors.Is(err, extract.ErrExtractionFailed):
		middleware.WriteError(w, http.StatusUnprocessableEntity, "Text could not be extracted from the PDF", "EXTRACTION_FAILED")
	case errors.Is(err, statement.ErrNotAStatement):
		middleware.WriteError(w, http.StatusUnprocessableEntity, "The document does not look like a bank statement", "NOT_A_STATEMENT")
	case errors.Is(err, segment.ErrNoTransactions):
		middleware.WriteError(w, http.StatusUnprocessableEntity, "No transactions were found in the statement", "NO_TRANSACTIONS")
	case errors.Is(err, segment.ErrParsingFailed):
		middleware.WriteError(w, http.StatusUnprocessableEntity, "The statement could not be parsed", "PARSING_FAILED")
	default:
		h.log.Error().Err(err).Msg("statement processing failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Statement processing failed", "")
	}
}

type importRequest struct {
	Source       string                     `json:"source"`
	Transactions []domain.ParsedTransaction `json:"transactions"`
}

// Import handles POST /api/statements/import: the human-reviewed batch.
func (h *StatementsHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if len(req.Transactions) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No transactions to import", "")
		return
	}
	if req.Source == "" {
		req.Source = "statement_upload"
	}

	result, err := h.importer.Import(ctx, userID(r), req.Source, req.Transactions)
	if err != nil {
		if errors.Is(err, importer.ErrBatchTooLarge) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error(), "BATCH_TOO_LARGE")
			return
		}
		h.log.Error().Err(err).Msg("import failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Import failed", "")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

// UploadAsync handles POST /api/statements/upload-async. The PDF is
// archived and a processing job enqueued; clients poll /api/jobs/{id}.
func (h *StatementsHandler) UploadAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.publisher == nil || h.archive == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "Asynchronous uploads are not configured", "")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form", "INVALID_FORM")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "No file was uploaded", "NO_FILE")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Could not read uploaded file", "INVALID_FILE")
		return
	}

	uid := userID(r)
	uri, err := h.archive.Store(ctx, uid, header.Filename, data)
	if err != nil {
		h.log.Error().Err(err).Msg("archiving for async processing failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Could not store the statement", "")
		return
	}

	job := &jobs.ProcessStatementJob{
		UserID:     uid,
		ArchiveURI: uri,
		Filename:   header.Filename,
		Password:   r.FormValue("password"),
	}
	if err := h.publisher.PublishProcessStatement(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("enqueueing processing job failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Could not enqueue the statement", "")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// userID resolves the acting user. Authentication is owned by the outer
// application; this service trusts the X-User-ID header and falls back to
// a form field, then a fixed local user.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if id := r.FormValue("user_id"); id != "" {
		return id
	}
	return "local"
}
