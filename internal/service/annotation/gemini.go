package annotation

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
)

// contentGenerator is the slice of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClassifier 使用 Gemini 完成合规分析。
type GeminiClassifier struct {
	models contentGenerator
	model  string
	items  checklist.Store
}

// NewGeminiClassifier creates a Gemini API backed classifier.
func NewGeminiClassifier(ctx context.Context, apiKey, model string, items checklist.Store) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required for the gemini provider")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClassifier{models: client.Models, model: model, items: items}, nil
}

// Annotate sends the snapshot with the checklist as system instruction.
func (c *GeminiClassifier) Annotate(ctx context.Context, conversationText string) (string, error) {
	text, err := normalizeInput(conversationText)
	if err != nil {
		return "", err
	}

	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text("Conversation so far:\n"+text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(c.items), genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	annotation := strings.TrimSpace(resp.Text())
	if annotation == "" {
		return "", ErrEmptyResponse
	}
	return annotation, nil
}
