package extract

import (
	"errors"
	"testing"
)

func TestExtract_NoFile(t *testing.T) {
	_, err := New().Extract(nil, "")
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("Extract(nil) error = %v, want ErrNoFile", err)
	}
}

func TestExtract_NotAPDF(t *testing.T) {
	_, err := New().Extract([]byte("hello,world\n1,2\n"), "")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Extract(csv) error = %v, want ErrInvalidFormat", err)
	}
}

func TestExtract_TruncatedPDF(t *testing.T) {
	// Correct magic but nothing behind it. Must fail with a tagged error,
	// never with a password kind and never with a panic.
	_, err := New().Extract([]byte("%PDF-1.7\ngarbage"), "")
	if err == nil {
		t.Fatal("Extract(truncated) expected error, got nil")
	}
	if errors.Is(err, ErrPasswordRequired) || errors.Is(err, ErrPasswordIncorrect) {
		t.Errorf("Extract(truncated) error = %v, want a non-password kind", err)
	}
	if !errors.Is(err, ErrInvalidFormat) && !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("Extract(truncated) error = %v, want ErrInvalidFormat or ErrExtractionFailed", err)
	}
}
