package agent

import (
	"fmt"
	"strings"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
)

const supervisorPrompt = `Main requirement: DO NOT TALK UNLESS EXPLICITLY ADDRESSED. Stay silent and observe audio, do NOT respond.

You are a medical procedure supervisor responsible for monitoring and ensuring proper checklist completion during medical procedures. Your role is to:

1. Listen and take note when checklist items are completed. If one of the checklist requirements is being fulfilled, stay silent and let the speaker continue their procedure.
2. Answer questions about the procedure and checklist ONLY when directly addressed.
3. Alert the medical team if tasks are completed out of order.
4. Keep the conversation concise. Do not speak unless directly addressed or the team makes a mistake or skips checklist steps.

When addressed directly (with "Eleven Labs"), respond to questions and provide guidance.

Do not assume every question is addressed to you. The speaker will sometimes ask questions directed at the patient. Never say anything along the lines of "I am an agent and I cannot help you with ...".
Maintain a supportive but authoritative tone, prioritize clarity and be concise so the medical team does not lose time.`

// PromptBuilder 生成会话开始时注入的角色设定。
type PromptBuilder struct {
	items checklist.Store
}

// NewPromptBuilder creates a builder. items may be nil.
func NewPromptBuilder(items checklist.Store) *PromptBuilder {
	return &PromptBuilder{items: items}
}

// Build renders the supervisor prompt with checklist progress and the latest
// compliance annotation.
func (b *PromptBuilder) Build(latestAnnotation string) string {
	var builder strings.Builder
	builder.WriteString(supervisorPrompt)

	if b != nil && b.items != nil {
		builder.WriteString("\n\nSurgical safety checklist (in order):")
		for _, item := range b.items.List() {
			mark := " "
			if item.Completed {
				mark = "x"
			}
			builder.WriteString(fmt.Sprintf("\n[%s] %s. %s (%s)", mark, item.ID, item.Text, item.Phase))
		}
	}

	if annotation := strings.TrimSpace(latestAnnotation); annotation != "" {
		builder.WriteString("\n\nLatest compliance review of this conversation:\n")
		builder.WriteString(annotation)
		builder.WriteString("\nUse it to decide whether the team has skipped a step.")
	}

	return builder.String()
}
