package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/config"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
)

var (
	// ErrEmptyConversation is returned when there is nothing to annotate.
	ErrEmptyConversation = errors.New("conversation text is empty")
	// ErrEmptyResponse is returned when a classifier produced no annotation.
	ErrEmptyResponse = errors.New("annotation response is empty")
)

// Service 对会话快照做合规分析，返回给智能体参考的文本。实现必须是无状态的。
type Service interface {
	Annotate(ctx context.Context, conversationText string) (string, error)
}

// New 根据配置选择合规分析实现。
func New(ctx context.Context, cfg config.AnnotationConfig, items checklist.Store) (Service, error) {
	switch cfg.Provider {
	case config.ProviderHTTP:
		return NewHTTPClient(cfg.URL, cfg.Timeout), nil
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewLLMClassifier(ctx, chatModel, items)
	case config.ProviderGemini:
		return NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, items)
	case config.ProviderKeyword:
		return NewKeywordClassifier(items), nil
	default:
		return nil, fmt.Errorf("unknown annotation provider %q", cfg.Provider)
	}
}

// systemPrompt is shared by the model-backed classifiers.
func systemPrompt(items checklist.Store) string {
	var builder strings.Builder
	builder.WriteString("You are a surgical safety compliance monitor listening to an operating room conversation.\n")
	builder.WriteString("The transcript is given as \"role: text\" lines separated by \" | \". ")
	builder.WriteString("Compare it against the WHO surgical safety checklist below and report, in at most four short sentences, ")
	builder.WriteString("which items are still outstanding, anything that appears skipped or out of order, and the next item the team should address.\n")
	builder.WriteString("Do not invent events that are not in the transcript.\n\nChecklist:\n")

	if items != nil {
		for _, item := range items.List() {
			status := "open"
			if item.Completed {
				status = "done"
			}
			builder.WriteString(fmt.Sprintf("- [%s] (%s) %s\n", status, item.Phase, item.Text))
		}
	}
	return builder.String()
}

func normalizeInput(conversationText string) (string, error) {
	text := strings.TrimSpace(conversationText)
	if text == "" {
		return "", ErrEmptyConversation
	}
	return text, nil
}
