package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkstream/pdfocr/internal/models"
)

type fakeModel struct {
	mu       sync.Mutex
	calls    int
	failures int
	text     string
}

func (f *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("rpc error: code = ResourceExhausted")
	}
	return textResponse(f.text), nil
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}}},
		},
	}
}

func testPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: time.Millisecond, AttemptTimeout: time.Second}
}

func testPageImage(t *testing.T, pageNumber int) *PageImage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(path, []byte("not a real png"), 0o644))
	return &PageImage{PageNumber: pageNumber, Path: path, Zoom: 2.0}
}

func TestRecognizeSucceedsWithinRetryBudget(t *testing.T) {
	model := &fakeModel{failures: 2, text: "page seven text"}
	rec := NewGeminiRecognizer(model, "", testPolicy(3))

	text, err := rec.Recognize(context.Background(), testPageImage(t, 7))
	require.NoError(t, err)
	assert.Equal(t, "page seven text", text)
	assert.Equal(t, 3, model.callCount())
}

func TestRecognizeFailsAfterRetryExhaustion(t *testing.T) {
	model := &fakeModel{failures: 10}
	rec := NewGeminiRecognizer(model, "", testPolicy(2))

	_, err := rec.Recognize(context.Background(), testPageImage(t, 4))
	require.Error(t, err)

	var recErr *models.RecognitionError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 4, recErr.PageNumber)
	assert.Equal(t, 2, recErr.Attempts)
	assert.Equal(t, 2, model.callCount())
}

func TestRecognizeRefusalIsNotRetried(t *testing.T) {
	model := &fakeModel{text: "I cannot provide a transcription of this document."}
	rec := NewGeminiRecognizer(model, "", testPolicy(3))

	_, err := rec.Recognize(context.Background(), testPageImage(t, 1))
	require.Error(t, err)

	var recErr *models.RecognitionError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 1, model.callCount())
}

func TestRecognizeEmptyPageIsLegal(t *testing.T) {
	model := &fakeModel{text: ""}
	rec := NewGeminiRecognizer(model, "", testPolicy(3))

	text, err := rec.Recognize(context.Background(), testPageImage(t, 2))
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Equal(t, 1, model.callCount())
}

func TestRecognizeMissingImageFile(t *testing.T) {
	model := &fakeModel{text: "unreachable"}
	rec := NewGeminiRecognizer(model, "", testPolicy(3))

	img := &PageImage{PageNumber: 3, Path: filepath.Join(t.TempDir(), "gone.png")}
	_, err := rec.Recognize(context.Background(), img)
	require.Error(t, err)

	var recErr *models.RecognitionError
	require.ErrorAs(t, err, &recErr)
	assert.Zero(t, model.callCount())
}

func TestRecognizeCancelledDuringBackoff(t *testing.T) {
	model := &fakeModel{failures: 10}
	rec := NewGeminiRecognizer(model, "", RetryPolicy{MaxAttempts: 5, Backoff: time.Minute, AttemptTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rec.Recognize(ctx, testPageImage(t, 9))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, model.callCount())
}

func TestExtractTextTrimsCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello world", want: "hello world"},
		{name: "fenced", in: "```\nhello world\n```", want: "hello world"},
		{name: "text fence", in: "```text\nhello world\n```", want: "hello world"},
		{name: "whitespace", in: "  hello world \n", want: "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractText(textResponse(tt.in)))
		})
	}
}

func TestExtractTextEmptyResponse(t *testing.T) {
	assert.Empty(t, extractText(nil))
	assert.Empty(t, extractText(&genai.GenerateContentResponse{}))
}
