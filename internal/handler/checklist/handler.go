package checklist

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
	"github.com/SeanZCai/treehacks-agentic-surgeon/pkg/utils"
)

// Handler 手术安全核查表处理器
type Handler struct {
	items checklist.Store
}

// New 创建核查表处理器
func New(items checklist.Store) *Handler {
	return &Handler{items: items}
}

// RegisterRoutes 注册核查表路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/checklist", h.handleList)
	r.Post("/checklist/{itemID}/toggle", h.handleToggle)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.items.List())
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	item, ok := h.items.Toggle(chi.URLParam(r, "itemID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "checklist item not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, item)
}
