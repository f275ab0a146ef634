package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role 标识一条消息的说话方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two transcript roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole normalizes a raw speaker label. The agent platform reports its own
// turns as "ai" or "agent".
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return RoleUser, true
	case "assistant", "ai", "agent":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// MessageItem is one logged utterance of a conversation.
type MessageItem struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Transcript     string    `json:"transcript"`
	CreatedAt      time.Time `json:"createdAt"`
	// Seq is the store-assigned position, zero until persisted.
	Seq int64 `json:"seq,omitempty"`
}

// Key 返回去重使用的 (role, transcript) 组合键。
func (m MessageItem) Key() Key {
	return Key{Role: m.Role, Transcript: m.Transcript}
}

// Line 按 "role: transcript" 格式输出。
func (m MessageItem) Line() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Transcript)
}

// Key identifies message content for duplicate suppression.
type Key struct {
	Role       Role
	Transcript string
}

// LineSeparator joins message lines in an annotation snapshot.
const LineSeparator = " | "

// JoinLines renders items as "role: text | role: text".
func JoinLines(items []MessageItem) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Line())
	}
	return strings.Join(lines, LineSeparator)
}
