package compliance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
)

// Level 表示启发式检测给出的整体合规等级。
type Level string

const (
	Compliant Level = "compliant"
	Partial   Level = "partial"
	AtRisk    Level = "at-risk"
)

// Decision 给出基于关键词的清单覆盖情况。
type Decision struct {
	Level    Level
	Covered  []checklist.Item
	Missing  []checklist.Item
	Concerns []string
	Score    int
}

// Phrases that suggest a step is being skipped or rushed.
var concernKeywords = []string{
	"skip", "skipping", "no time", "later", "forgot", "forget", "don't need", "not necessary",
	"hurry", "rush", "let's just", "ignore", "not sure", "unknown", "missing", "no imaging",
}

// Analyze 根据会话文本推断哪些清单项已被提及，以及是否存在跳过步骤的风险。
func Analyze(conversationText string, items []checklist.Item) Decision {
	normalized := strings.ToLower(strings.TrimSpace(conversationText))

	decision := Decision{}
	if normalized == "" {
		decision.Missing = append(decision.Missing, items...)
		decision.Level = AtRisk
		return decision
	}

	for _, item := range items {
		if item.Completed || mentions(normalized, item.Keywords) {
			decision.Covered = append(decision.Covered, item)
			decision.Score += 3
			continue
		}
		decision.Missing = append(decision.Missing, item)
	}

	seen := make(map[string]struct{})
	for _, word := range concernKeywords {
		if strings.Contains(normalized, word) {
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			decision.Concerns = append(decision.Concerns, word)
			decision.Score -= 4
		}
	}
	sort.Strings(decision.Concerns)

	switch {
	case len(decision.Concerns) > 0:
		decision.Level = AtRisk
	case len(decision.Missing) == 0:
		decision.Level = Compliant
	default:
		decision.Level = Partial
	}

	return decision
}

// Report 将检测结果渲染为给智能体参考的简短文本。
func (d Decision) Report() string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Compliance level: %s (%d covered, %d outstanding).", d.Level, len(d.Covered), len(d.Missing)))

	if len(d.Missing) > 0 {
		builder.WriteString("\nOutstanding checklist items by phase:")
		for _, phase := range []checklist.Phase{checklist.PhaseSignIn, checklist.PhaseTimeOut, checklist.PhaseSignOut} {
			texts := make([]string, 0)
			for _, item := range d.Missing {
				if item.Phase == phase {
					texts = append(texts, item.Text)
				}
			}
			if len(texts) == 0 {
				continue
			}
			builder.WriteString(fmt.Sprintf("\n- %s: %s", phase, strings.Join(texts, "; ")))
		}
	}

	if len(d.Concerns) > 0 {
		builder.WriteString("\nPossible shortcuts mentioned: ")
		builder.WriteString(strings.Join(d.Concerns, ", "))
		builder.WriteString(". Remind the team to complete each step before proceeding.")
	}

	return builder.String()
}

func mentions(text string, keywords []string) bool {
	for _, word := range keywords {
		if word == "" {
			continue
		}
		if containsWord(text, strings.ToLower(word)) {
			return true
		}
	}
	return false
}

// containsWord matches short keywords on word boundaries so "ct" does not match "correct".
func containsWord(text, word string) bool {
	if len(word) > 3 {
		return strings.Contains(text, word)
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(word)
		if (idx == 0 || !isLetter(text[idx-1])) && (end == len(text) || !isLetter(text[end])) {
			return true
		}
		start = idx + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
