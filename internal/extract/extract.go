// Package extract turns uploaded PDF bytes into plain statement text.
// It is stateless; every failure is reported as one of the tagged
// sentinel errors so callers can prompt the user differently for a
// missing password versus a wrong one.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/finledger/finledger/internal/domain"
)

var (
	// ErrNoFile means no file content was supplied at all.
	ErrNoFile = errors.New("extract: no file supplied")
	// ErrInvalidFormat means the bytes are not a readable PDF.
	ErrInvalidFormat = errors.New("extract: not a valid PDF")
	// ErrPasswordRequired means the PDF is encrypted and no password was given.
	ErrPasswordRequired = errors.New("extract: password required")
	// ErrPasswordIncorrect means the supplied password did not decrypt the PDF.
	ErrPasswordIncorrect = errors.New("extract: password incorrect")
	// ErrExtractionFailed means the PDF opened but its text could not be
	// fully recovered. Partial success is treated as full failure so no
	// truncated text travels down the pipeline.
	ErrExtractionFailed = errors.New("extract: text extraction failed")
)

// Extractor pulls text out of PDF statements.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the statement text of the given PDF, with per-page
// boundaries. An optional password unlocks encrypted documents.
func (e *Extractor) Extract(pdfBytes []byte, password string) (raw domain.RawStatementText, err error) {
	if len(pdfBytes) == 0 {
		return domain.RawStatementText{}, ErrNoFile
	}
	if !bytes.HasPrefix(pdfBytes, []byte("%PDF-")) {
		return domain.RawStatementText{}, ErrInvalidFormat
	}

	// The pdf package panics on some malformed inputs; fold those into
	// the extraction-failed kind instead of crashing the request.
	defer func() {
		if r := recover(); r != nil {
			raw = domain.RawStatementText{}
			err = fmt.Errorf("%w: %v", ErrExtractionFailed, r)
		}
	}()

	reader, err := openReader(pdfBytes, password)
	if err != nil {
		return domain.RawStatementText{}, err
	}

	pages := make([]string, 0, reader.NumPage())
	var all strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return domain.RawStatementText{}, fmt.Errorf("%w: page %d: %v", ErrExtractionFailed, i, err)
		}
		pages = append(pages, text)
		all.WriteString(text)
		all.WriteString("\n")
	}

	text := all.String()
	if strings.TrimSpace(text) == "" {
		return domain.RawStatementText{}, fmt.Errorf("%w: document contains no text", ErrExtractionFailed)
	}

	return domain.RawStatementText{Text: text, Pages: pages}, nil
}

func openReader(pdfBytes []byte, password string) (*pdf.Reader, error) {
	// The password callback is polled until it returns ""; hand over the
	// supplied password exactly once.
	tried := false
	pw := func() string {
		if tried || password == "" {
			return ""
		}
		tried = true
		return password
	}

	reader, err := pdf.NewReaderEncrypted(bytes.NewReader(pdfBytes), int64(len(pdfBytes)), pw)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			if password == "" {
				return nil, ErrPasswordRequired
			}
			return nil, ErrPasswordIncorrect
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return reader, nil
}
