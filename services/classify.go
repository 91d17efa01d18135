package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"google.golang.org/genai"
)

// LLMModelName is the GenAI model to use for classification calls.
type LLMModelName int32

const (
	Flash25 LLMModelName = iota
	FlashLite25
	Flash20
)

func (t LLMModelName) String() string {
	switch t {
	case Flash25:
		return "gemini-2.5-flash"
	case FlashLite25:
		return "gemini-2.5-flash-lite-preview-06-17"
	case Flash20:
		return "gemini-2.0-flash"
	default:
		return "gemini-2.0-flash"
	}
}

func floatPointer(f float32) *float32 {
	return &f
}

type clothingTypeResponse struct {
	ClothingType string `json:"clothing_type"`
}

// ClothingClassifierProvider labels a garment crop when the segmenter emits
// an unknown label.
type ClothingClassifierProvider interface {
	ClassifyClothing(ctx context.Context, image []byte, modelName LLMModelName) (string, error)
}

type GoogleClothingClassifier struct{}

func (GoogleClothingClassifier) ClassifyClothing(ctx context.Context, image []byte, modelName LLMModelName) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %v", err)
	}

	mimeType := http.DetectContentType(image)
	parts := []*genai.Part{
		{
			InlineData: &genai.Blob{
				MIMEType: mimeType,
				Data:     image,
			},
		},
		{
			Text: "Classify the single clothing item in the image. Pick exactly one type from: " +
				strings.Join(ClothingTypes, ", ") + `. If none fits return "unknown".`,
		},
	}

	result, err := client.Models.GenerateContent(ctx, modelName.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		CandidateCount:   1,
		MaxOutputTokens:  200,
		Temperature:      floatPointer(0),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You are a fashion catalog tagger. Return the response in JSON format with a single field "clothing_type".`},
			},
		},
		ResponseSchema: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"clothing_type": {
					Type: "string",
				},
			},
			Required: []string{"clothing_type"},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return "", fmt.Errorf("%v", err)
	}
	if result.PromptFeedback != nil {
		fmt.Println(result.PromptFeedback.BlockReason)
		fmt.Println(result.PromptFeedback.BlockReasonMessage)
		return "", fmt.Errorf("content violation: %s", result.PromptFeedback.BlockReasonMessage)
	}

	var parsed clothingTypeResponse
	if err := json.Unmarshal([]byte(result.Text()), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse classifier response: %v", err)
	}
	label := strings.ToLower(strings.TrimSpace(parsed.ClothingType))
	if !IsKnownClothingType(label) {
		return "", fmt.Errorf("classifier returned unknown clothing type: %s", label)
	}
	return label, nil
}
