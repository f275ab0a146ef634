package compliance

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/annotation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/pkg/utils"
)

// Handler 对外提供合规分析接口，供其他前端或工具直接调用
type Handler struct {
	annotator annotation.Service
}

// New 创建合规分析处理器
func New(annotator annotation.Service) *Handler {
	return &Handler{annotator: annotator}
}

// RegisterRoutes 注册合规分析路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/compliance", h.handleProcess)
}

type processRequest struct {
	ConversationText string `json:"conversationText"`
	// Conversation 旧字段名
	Conversation string `json:"conversation"`
}

type processResponse struct {
	Response string `json:"response"`
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	if h.annotator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "compliance analysis unavailable")
		return
	}

	var req processRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(req.ConversationText)
	if text == "" {
		text = strings.TrimSpace(req.Conversation)
	}
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationText is required")
		return
	}

	result, err := h.annotator.Annotate(r.Context(), text)
	if err != nil {
		if errors.Is(err, annotation.ErrEmptyConversation) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[compliance] annotate failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "compliance analysis failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, processResponse{Response: result})
}
