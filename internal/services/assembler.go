package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/inkstream/pdfocr/internal/gcp"
	"github.com/inkstream/pdfocr/internal/models"
)

// Assemble concatenates per-page results into the final text document. Each
// segment is preceded by a page-boundary marker carrying the page number, so
// the output stays auditable against the source. Failed pages keep their
// position with an inline failure marker.
func Assemble(results []models.PageResult) string {
	var b strings.Builder
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "----- Page %d -----\n", res.PageNumber)
		if res.Failed() {
			fmt.Fprintf(&b, "[OCR FAILED: page %d: %v]", res.PageNumber, res.Err)
		} else {
			b.WriteString(res.Text)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// WriteOutput writes the assembled document to dest, which is either a local
// path or a gs://bucket/object URI. storageClient may be nil for local
// destinations.
func WriteOutput(ctx context.Context, storageClient *storage.Client, dest, content string) error {
	bucket, object, isGCS, err := gcp.ParseGCSURI(dest)
	if err != nil {
		return err
	}
	if isGCS {
		if storageClient == nil {
			return fmt.Errorf("no storage client available for destination %s", dest)
		}
		if err := gcp.SaveToGCSAtomically(ctx, storageClient.Bucket(bucket), object, content); err != nil {
			return fmt.Errorf("failed to write output to %s: %w", dest, err)
		}
		slog.Info("Output written.", "destination", dest)
		return nil
	}
	if err := writeFileAtomically(dest, content); err != nil {
		return fmt.Errorf("failed to write output to %s: %w", dest, err)
	}
	slog.Info("Output written.", "destination", dest)
	return nil
}

// writeFileAtomically writes via a temp file in the destination directory
// and renames it into place, so an I/O failure never leaves a partial file.
func writeFileAtomically(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
