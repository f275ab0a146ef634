package annotation

import (
	"context"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/analysis/compliance"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
)

// KeywordClassifier runs the offline keyword heuristic. Used when no model is configured.
type KeywordClassifier struct {
	items checklist.Store
}

// NewKeywordClassifier creates a heuristic classifier over the checklist.
func NewKeywordClassifier(items checklist.Store) *KeywordClassifier {
	return &KeywordClassifier{items: items}
}

// Annotate 基于关键词给出清单覆盖报告。
func (c *KeywordClassifier) Annotate(ctx context.Context, conversationText string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := normalizeInput(conversationText)
	if err != nil {
		return "", err
	}

	var items []checklist.Item
	if c.items != nil {
		items = c.items.List()
	} else {
		items = checklist.Seed()
	}

	return compliance.Analyze(text, items).Report(), nil
}
