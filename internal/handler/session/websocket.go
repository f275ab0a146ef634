package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	sessionsvc "github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/session"
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// audioFrame 麦克风音频帧（16kHz PCM，base64）
type audioFrame struct {
	Audio string `json:"audio"`
}

type outgoingMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Data           any    `json:"data,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// wsConn serializes writes; gorilla allows a single concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// handleWebSocket 操作员连接：上行麦克风音频与控制指令，下行会话事件。
// 连接关闭时无条件断开会话并释放麦克风。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	conversationID := o.ID()
	log.Printf("[websocket] operator connected conversation=%s", conversationID)

	mic := h.mics.Attach(conversationID)
	defer h.mics.Detach(conversationID, mic)
	defer func() {
		if err := o.Disconnect(context.Background()); err != nil {
			log.Printf("[websocket] disconnect on close conversation=%s: %v", conversationID, err)
		}
	}()

	// 等待进行中的 connect/disconnect 完成后再执行上面的清理
	var pending sync.WaitGroup
	defer pending.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go h.pingLoop(ctx, ws)
	go h.forwardEvents(ctx, cancel, ws, events)

	h.send(ws, conversationID, sessionsvc.EventState, o.Status())

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		h.handleMessage(ctx, ws, o, mic, &pending, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, ws *wsConn, o *sessionsvc.Orchestrator, mic *sessionsvc.Microphone, pending *sync.WaitGroup, msg *inboundMessage) {
	switch msg.Type {
	case "microphone":
		mic.Grant()
		h.send(ws, o.ID(), "microphone", map[string]bool{"granted": true})
	case "audio":
		var frame audioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			h.sendError(ws, o.ID(), "invalid audio payload")
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.Audio)
		if err != nil {
			h.sendError(ws, o.ID(), "audio must be base64")
			return
		}
		mic.Push(pcm)
	case "connect":
		// 建连可能耗时，避免阻塞音频读取
		pending.Add(1)
		go func() {
			defer pending.Done()
			if err := o.Connect(context.WithoutCancel(ctx)); err != nil {
				// 其余错误已作为 error 事件广播
				if errors.Is(err, sessionsvc.ErrInvalidState) {
					h.sendError(ws, o.ID(), err.Error())
				}
			}
		}()
	case "disconnect":
		pending.Add(1)
		go func() {
			defer pending.Done()
			_ = o.Disconnect(ctx)
		}()
	case "status":
		h.send(ws, o.ID(), sessionsvc.EventState, o.Status())
	default:
		h.sendError(ws, o.ID(), "unknown message type: "+msg.Type)
	}
}

func (h *Handler) forwardEvents(ctx context.Context, cancel context.CancelFunc, ws *wsConn, events <-chan sessionsvc.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				cancel()
				return
			}
			if err := ws.writeJSON(ev); err != nil {
				log.Printf("[websocket] write event failed: %v", err)
				cancel()
				return
			}
		}
	}
}

func (h *Handler) send(ws *wsConn, conversationID, msgType string, data any) {
	msg := outgoingMessage{
		Type:           msgType,
		ConversationID: conversationID,
		Data:           data,
		Timestamp:      time.Now().UnixMilli(),
	}
	if err := ws.writeJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msgType, err)
	}
}

func (h *Handler) sendError(ws *wsConn, conversationID, message string) {
	h.send(ws, conversationID, sessionsvc.EventError, sessionsvc.ErrorPayload{Kind: "request", Message: message})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}
