// Package archive retains the original uploaded statements in a storage
// bucket. Archiving is best effort: callers log a failed archive and move
// on, the pipeline result does not depend on it.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Service is the archiving boundary, kept small so handlers can mock it.
type Service interface {
	Store(ctx context.Context, userID, filename string, data []byte) (string, error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// GCSArchive stores statements in a Google Cloud Storage bucket. The
// client is injected; the caller owns its lifecycle.
type GCSArchive struct {
	client *storage.Client
	bucket string
}

func NewGCSArchive(client *storage.Client, bucket string) *GCSArchive {
	return &GCSArchive{client: client, bucket: bucket}
}

// Store uploads the statement bytes and returns the object's gs:// URI.
// Object names carry the upload date and a uuid so repeated uploads of the
// same file never collide.
func (a *GCSArchive) Store(ctx context.Context, userID, filename string, data []byte) (string, error) {
	if filename == "" {
		filename = "statement.pdf"
	}
	objectName := fmt.Sprintf("statements/%s/%s-%s-%s",
		userID, time.Now().UTC().Format("20060102"), uuid.NewString(), path.Base(filename))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write to storage: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}

// Fetch downloads the archived statement at the given gs:// URI.
func (a *GCSArchive) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// parseURI splits gs://bucket/path/to/object into its parts.
func parseURI(uri string) (bucket, object string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid storage URI: %s", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid storage URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
