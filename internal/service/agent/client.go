package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	agentmodel "github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/agent"
)

const (
	readTimeout     = 60 * time.Second
	writeTimeout    = 5 * time.Second
	speakingHoldoff = 600 * time.Millisecond
)

// Client 打开与 ElevenLabs Conversational AI 的实时会话。
type Client struct {
	dialer  *websocket.Dialer
	holdoff time.Duration
}

// NewClient creates a streaming client. The timeout bounds the websocket handshake.
func NewClient(cfg agentmodel.AgentConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		holdoff: speakingHoldoff,
	}
}

// StartSession dials the signed URL, sends the initiation payload and starts the
// read and audio loops. OnConnect fires once the agent acknowledges the session.
func (c *Client) StartSession(ctx context.Context, cfg agentmodel.SessionConfig, cb agentmodel.Callbacks) (agentmodel.Session, error) {
	if strings.TrimSpace(cfg.Credential) == "" {
		return nil, fmt.Errorf("session credential is required")
	}

	conn, _, err := c.dialer.DialContext(ctx, cfg.Credential, nil)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	conv := &Conversation{
		conn:    conn,
		cb:      cb,
		holdoff: c.holdoff,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	initiation := initiationMessage{Type: "conversation_initiation_client_data"}
	if cfg.PromptOverride != "" {
		initiation.ConfigOverride = &configOverride{Agent: agentOverride{Prompt: promptOverride{Prompt: cfg.PromptOverride}}}
	}
	if err := conv.writeJSON(initiation); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send initiation: %w", err)
	}

	go conv.readLoop()
	if cfg.Audio != nil {
		go conv.audioLoop(cfg.Audio)
	}

	return conv, nil
}

// Conversation is one live agent session.
type Conversation struct {
	conn    *websocket.Conn
	cb      agentmodel.Callbacks
	holdoff time.Duration

	writeMu sync.Mutex

	modeMu    sync.Mutex
	speaking  bool
	quietTime *time.Timer

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	endedMu sync.Mutex
	ended   bool
}

type initiationMessage struct {
	Type           string          `json:"type"`
	ConfigOverride *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	Prompt promptOverride `json:"prompt"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type serverEvent struct {
	Type string `json:"type"`

	UserTranscript *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Correction *struct {
		Original  string `json:"original_agent_response"`
		Corrected string `json:"corrected_agent_response"`
	} `json:"agent_response_correction_event,omitempty"`

	Tentative *struct {
		Response string `json:"tentative_agent_response"`
	} `json:"tentative_agent_response_internal_event,omitempty"`

	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	Ping *struct {
		EventID int64 `json:"event_id"`
		PingMS  int64 `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Message string `json:"message,omitempty"`
}

// EndSession closes the websocket and waits for the read loop to finish or ctx to expire.
func (c *Conversation) EndSession(ctx context.Context) error {
	c.endedMu.Lock()
	c.ended = true
	c.endedMu.Unlock()

	c.shutdown()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("end session: %w", ctx.Err())
	}
}

func (c *Conversation) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
		c.writeMu.Unlock()

		_ = c.conn.Close()

		c.modeMu.Lock()
		if c.quietTime != nil {
			c.quietTime.Stop()
		}
		c.modeMu.Unlock()
	})
}

func (c *Conversation) endedByClient() bool {
	c.endedMu.Lock()
	defer c.endedMu.Unlock()
	return c.ended
}

func (c *Conversation) readLoop() {
	reason := "connection closed"
	defer func() {
		c.shutdown()
		close(c.done)
		if c.endedByClient() {
			reason = "client"
		}
		c.cb.Disconnect(reason)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				reason = strings.TrimSpace(fmt.Sprintf("code=%d %s", closeErr.Code, closeErr.Text))
			case !c.endedByClient():
				reason = err.Error()
				c.cb.Error(fmt.Errorf("agent read: %w", err))
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var event serverEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[agent] ignoring malformed event: %v", err)
			continue
		}
		c.handleEvent(&event)
	}
}

func (c *Conversation) handleEvent(event *serverEvent) {
	switch event.Type {
	case "conversation_initiation_metadata":
		if event.Metadata != nil {
			log.Printf("[agent] conversation started id=%s", event.Metadata.ConversationID)
		}
		c.cb.Connect()
	case "user_transcript":
		if event.UserTranscript != nil {
			c.cb.Message(agentmodel.Message{Speaker: agentmodel.SpeakerUser, Text: event.UserTranscript.UserTranscript})
		}
	case "agent_response":
		if event.AgentResponse != nil {
			c.cb.Message(agentmodel.Message{Speaker: agentmodel.SpeakerAgent, Text: event.AgentResponse.AgentResponse})
		}
	case "agent_response_correction":
		if event.Correction != nil {
			c.cb.Message(agentmodel.Message{Speaker: agentmodel.SpeakerAgent, Text: event.Correction.Corrected, Tentative: true})
		}
	case "internal_tentative_agent_response":
		if event.Tentative != nil {
			c.cb.Message(agentmodel.Message{Speaker: agentmodel.SpeakerAgent, Text: event.Tentative.Response, Tentative: true})
		}
	case "audio":
		if event.Audio == nil {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(event.Audio.AudioBase64)
		if err != nil {
			c.cb.Error(fmt.Errorf("decode agent audio: %w", err))
			return
		}
		c.markSpeaking()
		c.cb.Audio(chunk)
	case "interruption":
		c.setSpeaking(false)
	case "ping":
		if event.Ping == nil {
			return
		}
		if err := c.writeJSON(map[string]any{"type": "pong", "event_id": event.Ping.EventID}); err != nil {
			c.cb.Error(fmt.Errorf("send pong: %w", err))
		}
	case "error":
		c.cb.Error(fmt.Errorf("agent error: %s", event.Message))
	}
}

// markSpeaking flips mode to speaking and schedules the return to listening.
func (c *Conversation) markSpeaking() {
	c.modeMu.Lock()
	if c.quietTime != nil {
		c.quietTime.Stop()
	}
	c.quietTime = time.AfterFunc(c.holdoff, func() {
		c.setSpeaking(false)
	})
	c.modeMu.Unlock()

	c.setSpeaking(true)
}

func (c *Conversation) setSpeaking(speaking bool) {
	c.modeMu.Lock()
	changed := c.speaking != speaking
	c.speaking = speaking
	c.modeMu.Unlock()

	if changed {
		c.cb.ModeChange(speaking)
	}
}

func (c *Conversation) audioLoop(audio <-chan []byte) {
	for {
		select {
		case <-c.closed:
			return
		case chunk, ok := <-audio:
			if !ok {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			payload := map[string]string{"user_audio_chunk": base64.StdEncoding.EncodeToString(chunk)}
			if err := c.writeJSON(payload); err != nil {
				select {
				case <-c.closed:
				default:
					c.cb.Error(fmt.Errorf("send audio: %w", err))
				}
				return
			}
		}
	}
}

func (c *Conversation) writeJSON(payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(payload)
}
