package conversation

// SessionState 描述实时语音通道的连接状态。
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateDisconnecting SessionState = "disconnecting"
)

// SpeechState tracks whether the remote agent is producing audio.
type SpeechState string

const (
	SpeechSilent    SpeechState = "silent"
	SpeechListening SpeechState = "listening"
	SpeechSpeaking  SpeechState = "speaking"
)

// Status is a point-in-time view of one conversation session.
type Status struct {
	ConversationID   string        `json:"conversationId"`
	State            SessionState  `json:"state"`
	Speech           SpeechState   `json:"speech"`
	CurrentText      string        `json:"currentText"`
	LatestAnnotation string        `json:"latestAnnotation,omitempty"`
	Messages         []MessageItem `json:"messages"`
}
