package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/inkstream/pdfocr/internal/gcp"
	"github.com/inkstream/pdfocr/internal/models"
	"github.com/inkstream/pdfocr/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Local .env files are optional, matching dotenv-style configuration.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:      "pdfocr",
		Usage:     "extract text from a PDF by rendering pages and running Gemini OCR on each",
		ArgsUsage: "<pdf-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "destination for the extracted text (local path or gs:// URI); defaults to <pdf-name>_ocr.txt",
			},
			&cli.Float64Flag{
				Name:    "zoom",
				Aliases: []string{"z"},
				Value:   2.0,
				Usage:   "scale factor applied when rasterizing pages",
			},
			&cli.IntFlag{
				Name:    "first-page",
				Aliases: []string{"f"},
				Value:   1,
				Usage:   "1-based first page to process",
			},
			&cli.IntFlag{
				Name:    "last-page",
				Aliases: []string{"l"},
				Usage:   "1-based last page to process; defaults to the final page",
			},
			&cli.BoolFlag{
				Name:    "keep-images",
				Aliases: []string{"k"},
				Usage:   "retain rendered page images after the run",
			},
			&cli.StringFlag{
				Name:    "prompt",
				Aliases: []string{"p"},
				Usage:   "extra instructions appended to the built-in OCR prompt",
			},
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Value:   1,
				Usage:   "number of pages processed concurrently",
			},
		},
		Action: run,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("Run failed.", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one PDF file must be given, got %d arguments", c.NArg())
	}
	pdfPath := c.Args().First()

	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")
	modelName := gcp.GetEnv("GEMINI_MODEL", gcp.DefaultRecognizerModel)

	zoom := c.Float64("zoom")
	if zoom <= 0 {
		return fmt.Errorf("zoom must be greater than 0, got %g", zoom)
	}

	doc, err := services.OpenDocument(pdfPath)
	if err != nil {
		return err
	}

	rng := models.PageRange{First: c.Int("first-page"), Last: c.Int("last-page")}
	if rng.Last == 0 {
		rng.Last = doc.PageCount
	}
	if err := rng.Validate(doc.PageCount); err != nil {
		return fmt.Errorf("invalid page range: %w", err)
	}

	keepImages := c.Bool("keep-images")
	imageDir, cleanupImages, err := prepareImageDir(pdfPath, keepImages)
	if err != nil {
		return err
	}
	defer cleanupImages()

	renderer, err := services.NewFitzRenderer(pdfPath, imageDir, zoom)
	if err != nil {
		return err
	}
	defer func() {
		if err := renderer.Close(); err != nil {
			slog.Warn("Failed to close renderer.", "error", err)
		}
	}()

	ctx := c.Context
	vertexClient, err := gcp.NewVertexClient(ctx, projectID, region, modelName)
	if err != nil {
		return fmt.Errorf("failed to create vertex client: %w", err)
	}
	defer func() {
		if err := vertexClient.Close(); err != nil {
			slog.Warn("Failed to close vertex client.", "error", err)
		}
	}()

	policy := services.RetryPolicy{
		MaxAttempts:    gcp.GetEnvInt("OCR_MAX_ATTEMPTS", services.DefaultRetryPolicy.MaxAttempts),
		Backoff:        gcp.GetEnvDuration("OCR_RETRY_BACKOFF", services.DefaultRetryPolicy.Backoff),
		AttemptTimeout: gcp.GetEnvDuration("OCR_ATTEMPT_TIMEOUT", services.DefaultRetryPolicy.AttemptTimeout),
	}
	recognizer := services.NewGeminiRecognizer(vertexClient.RecognizerModel, c.String("prompt"), policy)

	pipeline := services.NewPipeline(renderer, recognizer, c.Int("jobs"), keepImages)
	results, err := pipeline.Run(ctx, doc, rng)
	if err != nil {
		return err
	}

	dest := c.String("output")
	if dest == "" {
		dest = defaultOutputPath(pdfPath)
	}

	storageClient, err := storageClientFor(ctx, dest)
	if err != nil {
		return err
	}
	if storageClient != nil {
		defer func() {
			if err := storageClient.Close(); err != nil {
				slog.Warn("Failed to close storage client.", "error", err)
			}
		}()
	}

	return services.WriteOutput(ctx, storageClient, dest, services.Assemble(results))
}

// prepareImageDir chooses where rendered page images live. With retention on
// they go into a directory beside the source and survive the run; otherwise
// a temp directory is used and removed afterwards.
func prepareImageDir(pdfPath string, keepImages bool) (string, func(), error) {
	if keepImages {
		dir := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + "_images"
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("failed to create image directory: %w", err)
		}
		slog.Info("Retaining rendered images.", "directory", dir)
		return dir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "pdfocr-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove temp image directory.", "directory", dir, "error", err)
		}
	}, nil
}

func defaultOutputPath(pdfPath string) string {
	return strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + "_ocr.txt"
}

func storageClientFor(ctx context.Context, dest string) (*storage.Client, error) {
	if !strings.HasPrefix(dest, "gs://") {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}
