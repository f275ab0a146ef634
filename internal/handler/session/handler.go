package session

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	sessionsvc "github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/session"
	"github.com/SeanZCai/treehacks-agentic-surgeon/pkg/utils"
)

// Handler 会话控制相关的HTTP处理器
type Handler struct {
	sessions *sessionsvc.Manager
	mics     *sessionsvc.MediaRegistry
	upgrader websocket.Upgrader
}

// New 创建会话处理器
func New(sessions *sessionsvc.Manager, mics *sessionsvc.MediaRegistry) *Handler {
	return &Handler{
		sessions: sessions,
		mics:     mics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册会话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions/{conversationID}", func(r chi.Router) {
		r.Get("/", h.handleStatus)
		r.Post("/connect", h.handleConnect)
		r.Post("/disconnect", h.handleDisconnect)
		r.Get("/events", h.handleEvents)
		r.Get("/ws", h.handleWebSocket)
	})
}

func (h *Handler) orchestrator(w http.ResponseWriter, r *http.Request) (*sessionsvc.Orchestrator, bool) {
	id := chi.URLParam(r, "conversationID")
	o, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		respondSessionError(w, err)
		return nil, false
	}
	return o, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, o.Status())
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	if err := o.Connect(r.Context()); err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, o.Status())
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	if err := o.Disconnect(r.Context()); err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, o.Status())
}

// handleEvents 只读的SSE事件流，供旁观页面使用
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	events, cancel := o.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] opening event stream for conversation=%s", o.ID())

	if err := utils.SendSSEEvent(w, flusher, sessionsvc.EventState, o.Status()); err != nil {
		log.Printf("[sse] %v", err)
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing event stream for conversation=%s", o.ID())
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				log.Printf("[sse] %v", err)
				return
			}
		case t := <-heartbeat.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat "+t.UTC().Format(time.RFC3339)); err != nil {
				return
			}
		}
	}
}

// respondSessionError 将会话错误映射为HTTP状态码
func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionsvc.ErrPermissionDenied):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, sessionsvc.ErrCredential), errors.Is(err, sessionsvc.ErrStream):
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, sessionsvc.ErrInvalidState), errors.Is(err, sessionsvc.ErrConnectAborted):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sessionsvc.ErrClosed):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("[session] unexpected error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "session error")
	}
}
