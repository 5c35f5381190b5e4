package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Recognizer Model Prompts ---
const RecognizerSystemPrompt = "You are an OCR engine. Your task is to transcribe the text contained in an image of a single document page. Accuracy and completeness are of utmost importance."
const RecognizerUserPrompt = `Extract all text contained in this image.

Follow these instructions:

Transcribe every piece of text visible on the page, completely and accurately.
Preserve line breaks and paragraph structure as they appear in the original.
Keep tables, lists, and headings in their reading order.
Do not add commentary, summaries, or descriptions of the page.
If the page contains no recognizable text, return an empty response.

Return ONLY the transcribed text. Do not surround the output with backtick fences.`

// DefaultRecognizerModel is the Gemini model used when GEMINI_MODEL is not set.
const DefaultRecognizerModel = "gemini-2.0-flash"

// VertexClient holds the pre-configured generative model for OCR.
type VertexClient struct {
	RecognizerModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding the recognizer model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultRecognizerModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	recognizerModel := baseClient.GenerativeModel(modelName)
	recognizerModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(RecognizerSystemPrompt)},
	}
	recognizerModel.GenerationConfig = genai.GenerationConfig{
		// Low temp for deterministic transcription.
		Temperature: genai.Ptr[float32](0.0),
	}
	recognizerModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		RecognizerModel: recognizerModel,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
