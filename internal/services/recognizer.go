package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/inkstream/pdfocr/internal/gcp"
	"github.com/inkstream/pdfocr/internal/models"
)

// RetryPolicy bounds the external recognition call: a fixed attempt budget,
// a doubling backoff between attempts, and a per-attempt timeout.
type RetryPolicy struct {
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is conservative: the upstream behaviour is not
// documented, so the constants are configurable via the environment.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	Backoff:        2 * time.Second,
	AttemptTimeout: 90 * time.Second,
}

// Recognizer turns one page image into extracted text. An empty string is a
// legal result for a page with no recognizable text.
type Recognizer interface {
	Recognize(ctx context.Context, img *PageImage) (string, error)
}

// contentGenerator is the narrow slice of the Gemini model the recognizer
// drives.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiRecognizer sends page images to Gemini on Vertex AI. The remote
// service is treated as unreliable; every call runs under the retry policy.
type GeminiRecognizer struct {
	model  contentGenerator
	prompt string
	policy RetryPolicy
}

// NewGeminiRecognizer wraps a configured generative model. extraPrompt, if
// non-empty, is appended to the built-in OCR prompt.
func NewGeminiRecognizer(model contentGenerator, extraPrompt string, policy RetryPolicy) *GeminiRecognizer {
	prompt := strings.TrimSpace(extraPrompt)
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &GeminiRecognizer{
		model:  model,
		prompt: prompt,
		policy: policy,
	}
}

// Recognize submits the page image and returns the transcribed text.
// Transient failures are retried up to the policy's attempt budget; after
// exhaustion the failure surfaces as a RecognitionError.
func (r *GeminiRecognizer) Recognize(ctx context.Context, img *PageImage) (string, error) {
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return "", &models.RecognitionError{
			PageNumber: img.PageNumber,
			Attempts:   0,
			Err:        fmt.Errorf("failed to read page image: %w", err),
		}
	}

	prompt := genaiPrompt(r.prompt)
	parts := []genai.Part{genai.ImageData("png", data), genai.Text(prompt)}

	backoff := r.policy.Backoff
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		text, err := r.generateOnce(ctx, parts)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if isRefusal(err) {
			// The model declining to transcribe is not transient.
			return "", &models.RecognitionError{PageNumber: img.PageNumber, Attempts: attempt, Err: err}
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		slog.Warn(
			"Recognition attempt failed, will retry.",
			"page", img.PageNumber,
			"attempt", attempt,
			"maxAttempts", r.policy.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", &models.RecognitionError{PageNumber: img.PageNumber, Attempts: attempt, Err: ctx.Err()}
		}
	}

	return "", &models.RecognitionError{
		PageNumber: img.PageNumber,
		Attempts:   r.policy.MaxAttempts,
		Err:        lastErr,
	}
}

func (r *GeminiRecognizer) generateOnce(ctx context.Context, parts []genai.Part) (string, error) {
	attemptCtx := ctx
	if r.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()
	}

	resp, err := r.model.GenerateContent(attemptCtx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := extractText(resp)

	// Sanity check for LLM refusal. A refusal must not be silently written
	// out as page text.
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", fmt.Errorf("%w: %q", errRefusal, text)
		}
	}
	return text, nil
}

var errRefusal = errors.New("gemini response indicates refusal")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

func isRefusal(err error) bool {
	return errors.Is(err, errRefusal)
}

// extractText parses the model's response and robustly extracts text content.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var content strings.Builder
	var textPartsFound int
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			content.WriteString(string(txt))
			textPartsFound++
		}
	}
	if textPartsFound > 1 {
		slog.Warn("Gemini response contained multiple text parts; they have been concatenated.", "parts", textPartsFound)
	}

	contentStr := strings.TrimSpace(content.String())
	contentStr = strings.TrimPrefix(contentStr, "```text")
	contentStr = strings.TrimPrefix(contentStr, "```")
	contentStr = strings.TrimSuffix(contentStr, "```")
	return strings.TrimSpace(contentStr)
}

func genaiPrompt(extra string) string {
	if extra == "" {
		return gcp.RecognizerUserPrompt
	}
	return gcp.RecognizerUserPrompt + "\n" + extra
}
