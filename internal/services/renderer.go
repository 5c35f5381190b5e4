package services

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/inkstream/pdfocr/internal/models"
)

// PageImage is one rendered page, backed by a PNG file on disk. The file
// belongs to the page's processing scope and is removed when the page
// finishes, unless image retention was requested.
type PageImage struct {
	PageNumber int
	Path       string
	Zoom       float64
}

// Renderer rasterizes single document pages to image files.
type Renderer interface {
	RenderPage(ctx context.Context, pageNumber int) (*PageImage, error)
	Close() error
}

// FitzRenderer renders pages with MuPDF at dpi = 72 * zoom.
type FitzRenderer struct {
	// MuPDF contexts are not safe for concurrent page rendering.
	mu sync.Mutex

	doc      *fitz.Document
	baseName string
	imageDir string
	zoom     float64
}

// NewFitzRenderer opens the document for rasterization. Rendered PNGs are
// written into imageDir, which must already exist.
func NewFitzRenderer(pdfPath, imageDir string, zoom float64) (*FitzRenderer, error) {
	if zoom <= 0 {
		return nil, fmt.Errorf("zoom must be greater than 0, got %g", zoom)
	}
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for rendering: %w", pdfPath, err)
	}

	base := filepath.Base(pdfPath)
	base = base[:len(base)-len(filepath.Ext(base))]

	return &FitzRenderer{
		doc:      doc,
		baseName: base,
		imageDir: imageDir,
		zoom:     zoom,
	}, nil
}

// RenderPage rasterizes the 1-based pageNumber to a PNG file.
func (r *FitzRenderer) RenderPage(ctx context.Context, pageNumber int) (*PageImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageNumber < 1 || pageNumber > r.doc.NumPage() {
		return nil, &models.RenderError{
			PageNumber: pageNumber,
			Err:        fmt.Errorf("page out of bounds (document has %d pages)", r.doc.NumPage()),
		}
	}

	r.mu.Lock()
	img, err := r.doc.ImageDPI(pageNumber-1, 72*r.zoom)
	r.mu.Unlock()
	if err != nil {
		return nil, &models.RenderError{PageNumber: pageNumber, Err: err}
	}

	outPath := filepath.Join(r.imageDir, fmt.Sprintf("%s_page_%04d.png", r.baseName, pageNumber))
	f, err := os.Create(outPath)
	if err != nil {
		return nil, &models.RenderError{PageNumber: pageNumber, Err: err}
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return nil, &models.RenderError{PageNumber: pageNumber, Err: fmt.Errorf("failed to encode PNG: %w", err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(outPath)
		return nil, &models.RenderError{PageNumber: pageNumber, Err: err}
	}

	slog.Debug("Rendered page.", "page", pageNumber, "image", filepath.Base(outPath), "zoom", r.zoom)
	return &PageImage{PageNumber: pageNumber, Path: outPath, Zoom: r.zoom}, nil
}

func (r *FitzRenderer) Close() error {
	return r.doc.Close()
}
