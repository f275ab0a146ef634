package conversation

import "time"

// ComplianceAnnotation 记录一次合规分析的结果以及它所对应的会话快照。
type ComplianceAnnotation struct {
	ConversationID string    `json:"conversationId"`
	Seq            uint64    `json:"seq"`
	AsOfText       string    `json:"asOfText"`
	Annotation     string    `json:"annotation"`
	ProducedAt     time.Time `json:"producedAt"`
}

// Snapshot is the archived body for one annotation.
type Snapshot struct {
	Conversation string `json:"conversation"`
	Compliance   string `json:"compliance"`
	Timestamp    string `json:"timestamp"`
}

// Snapshot converts the annotation into its archive representation.
func (a ComplianceAnnotation) Snapshot() Snapshot {
	return Snapshot{
		Conversation: a.AsOfText,
		Compliance:   a.Annotation,
		Timestamp:    a.ProducedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Summary groups the stored transcript of one conversation.
type Summary struct {
	ConversationID string        `json:"conversationId"`
	Messages       []MessageItem `json:"messages"`
}
