package agent

import "context"

// Speaker 表示流式事件的说话方。
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "ai"
)

// Message is one utterance event emitted by the streaming client.
type Message struct {
	Speaker Speaker `json:"source"`
	Text    string  `json:"message"`
	// Tentative marks display-only agent text: partial responses and corrections.
	Tentative bool `json:"tentative,omitempty"`
}

// Callbacks receives session lifecycle and content signals. Nil fields are skipped.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnError      func(err error)
	OnMessage    func(msg Message)
	OnModeChange func(speaking bool)
	OnAudio      func(chunk []byte)
}

// Connect invokes OnConnect if set.
func (c Callbacks) Connect() {
	if c.OnConnect != nil {
		c.OnConnect()
	}
}

// Disconnect invokes OnDisconnect if set.
func (c Callbacks) Disconnect(reason string) {
	if c.OnDisconnect != nil {
		c.OnDisconnect(reason)
	}
}

// Error invokes OnError if set.
func (c Callbacks) Error(err error) {
	if c.OnError != nil && err != nil {
		c.OnError(err)
	}
}

// Message invokes OnMessage if set.
func (c Callbacks) Message(msg Message) {
	if c.OnMessage != nil {
		c.OnMessage(msg)
	}
}

// ModeChange invokes OnModeChange if set.
func (c Callbacks) ModeChange(speaking bool) {
	if c.OnModeChange != nil {
		c.OnModeChange(speaking)
	}
}

// Audio invokes OnAudio if set.
func (c Callbacks) Audio(chunk []byte) {
	if c.OnAudio != nil {
		c.OnAudio(chunk)
	}
}

// Session is a live agent conversation opened by a streaming client.
type Session interface {
	// EndSession closes the conversation. It must be safe to call more than once.
	EndSession(ctx context.Context) error
}
