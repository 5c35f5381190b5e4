package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/inkstream/pdfocr/internal/models"
)

// Document is an opened source PDF. Opened once at pipeline start, owned by
// the pipeline's caller.
type Document struct {
	Path      string
	PageCount int
}

// OpenDocument validates the PDF and reads its page count. A document that
// fails relaxed validation is unusable and fatal for the whole run.
func OpenDocument(path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("PDF file %s not found: %w", path, err)
	}
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to validate PDF %s: %w", path, err)
	}
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	return &Document{Path: path, PageCount: pageCount}, nil
}

// Pipeline drives one page worker per page in the requested range and
// collects the results in page order.
type Pipeline struct {
	renderer   Renderer
	recognizer Recognizer
	jobs       int
	keepImages bool
}

// NewPipeline wires a renderer and recognizer into a page pipeline. jobs
// bounds the worker pool; values below 1 mean sequential processing.
func NewPipeline(renderer Renderer, recognizer Recognizer, jobs int, keepImages bool) *Pipeline {
	if jobs < 1 {
		jobs = 1
	}
	return &Pipeline{
		renderer:   renderer,
		recognizer: recognizer,
		jobs:       jobs,
		keepImages: keepImages,
	}
}

// Run processes every page in rng and returns one PageResult per page, in
// ascending page order regardless of completion order. Page-scoped failures
// are recorded in their slot; only range validation and cancellation are
// fatal.
func (p *Pipeline) Run(ctx context.Context, doc *Document, rng models.PageRange) ([]models.PageResult, error) {
	if err := rng.Validate(doc.PageCount); err != nil {
		return nil, fmt.Errorf("invalid page range: %w", err)
	}

	slog.Info("Starting page processing.",
		"document", doc.Path,
		"firstPage", rng.First,
		"lastPage", rng.Last,
		"jobs", p.jobs,
	)

	// Each worker writes only its own slot, so the assembled order is the
	// page order no matter when workers finish.
	results := make([]models.PageResult, rng.Count())
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.jobs)

	for i := 0; i < rng.Count(); i++ {
		slot := i
		pageNumber := rng.First + i
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[slot] = p.processPage(gctx, pageNumber)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("page processing aborted: %w", err)
	}
	// A cancelled run must not fall through to assembly with half-finished
	// results.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("page processing aborted: %w", err)
	}

	var failed int
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	slog.Info("Page processing complete.", "pages", len(results), "failed", failed)
	return results, nil
}

// processPage runs one page through rendering and recognition. It always
// yields exactly one PageResult; errors become failure markers instead of
// propagating.
func (p *Pipeline) processPage(ctx context.Context, pageNumber int) models.PageResult {
	logCtx := slog.With("page", pageNumber)

	logCtx.Info("Rendering page.")
	img, err := p.renderer.RenderPage(ctx, pageNumber)
	if err != nil {
		logCtx.Error("Failed to render page.", "error", err)
		return models.PageResult{PageNumber: pageNumber, Err: asRenderError(pageNumber, err)}
	}
	if !p.keepImages {
		defer func() {
			if err := os.Remove(img.Path); err != nil {
				logCtx.Warn("Failed to remove page image.", "image", img.Path, "error", err)
			}
		}()
	}

	logCtx.Info("Recognizing page.")
	text, err := p.recognizer.Recognize(ctx, img)
	if err != nil {
		logCtx.Error("Failed to recognize page.", "error", err)
		return models.PageResult{PageNumber: pageNumber, Err: err}
	}

	if text == "" {
		logCtx.Warn("No text extracted. Treating as empty page.")
	}
	logCtx.Info("Page done.")
	return models.PageResult{PageNumber: pageNumber, Text: text}
}

func asRenderError(pageNumber int, err error) error {
	if _, ok := err.(*models.RenderError); ok {
		return err
	}
	return &models.RenderError{PageNumber: pageNumber, Err: err}
}
