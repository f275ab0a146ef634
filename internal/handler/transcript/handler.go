package transcript

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/transcript"
	"github.com/SeanZCai/treehacks-agentic-surgeon/pkg/utils"
)

// Handler 转写日志的HTTP处理器
type Handler struct {
	store transcript.Store
}

// New 创建转写处理器
func New(store transcript.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册转写相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/c", h.handleList)
	r.Post("/c", h.handleAppend)
	r.Get("/conversations", h.handleConversations)
}

type contentPart struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

// itemPayload 兼容两种格式：{role, transcript} 以及 realtime item 的 content 数组
type itemPayload struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Transcript string        `json:"transcript"`
	Content    []contentPart `json:"content"`
	CreatedAt  *time.Time    `json:"createdAt,omitempty"`
}

func (p itemPayload) text() string {
	if t := strings.TrimSpace(p.Transcript); t != "" {
		return t
	}
	parts := make([]string, 0, len(p.Content))
	for _, c := range p.Content {
		if t := strings.TrimSpace(c.Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

type appendRequest struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Item           itemPayload `json:"item"`
}

func (r appendRequest) conversationID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ID
}

// messageView 同时输出 content_transcript，兼容旧前端
type messageView struct {
	conversation.MessageItem
	ContentTranscript string `json:"content_transcript"`
}

func toViews(items []conversation.MessageItem) []messageView {
	views := make([]messageView, 0, len(items))
	for _, item := range items {
		views = append(views, messageView{MessageItem: item, ContentTranscript: item.Transcript})
	}
	return views
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	id := query.Get("conversationId")
	if id == "" {
		id = query.Get("id")
	}
	if strings.TrimSpace(id) == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId query parameter is required")
		return
	}

	items, err := h.store.List(r.Context(), id)
	if err != nil {
		log.Printf("[transcript] list conversation=%s: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	utils.RespondJSON(w, http.StatusOK, toViews(items))
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	role, ok := conversation.ParseRole(req.Item.Role)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}
	text := req.Item.text()
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "transcript is required")
		return
	}

	item := conversation.MessageItem{
		ID:             req.Item.ID,
		ConversationID: req.conversationID(),
		Role:           role,
		Transcript:     text,
	}
	if req.Item.CreatedAt != nil {
		item.CreatedAt = req.Item.CreatedAt.UTC()
	}

	stored, err := h.store.Append(r.Context(), item)
	if err != nil {
		if errors.Is(err, transcript.ErrInvalidItem) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[transcript] append conversation=%s: %v", item.ConversationID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, messageView{MessageItem: stored, ContentTranscript: stored.Transcript})
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.Conversations(r.Context())
	if err != nil {
		log.Printf("[transcript] list conversations: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}
