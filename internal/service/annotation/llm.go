package annotation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
)

// LLMClassifier 使用 eino 链调用大模型完成合规分析。
type LLMClassifier struct {
	items checklist.Store
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewLLMClassifier compiles the prompt → model chain.
func NewLLMClassifier(ctx context.Context, chatModel model.ChatModel, items checklist.Store) (*LLMClassifier, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("Conversation so far:\n{conversation}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile compliance chain: %w", err)
	}

	return &LLMClassifier{items: items, chain: runnable}, nil
}

// Annotate runs the chain once over the conversation snapshot.
func (c *LLMClassifier) Annotate(ctx context.Context, conversationText string) (string, error) {
	text, err := normalizeInput(conversationText)
	if err != nil {
		return "", err
	}

	response, err := c.chain.Invoke(ctx, map[string]any{
		"system":       systemPrompt(c.items),
		"conversation": text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run compliance chain: %w", err)
	}

	annotation := strings.TrimSpace(response.Content)
	if annotation == "" {
		return "", ErrEmptyResponse
	}

	log.Printf("[annotation] llm produced %d chars for %d chars of conversation", len(annotation), len(text))
	return annotation, nil
}
