package credential

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SeanZCai/treehacks-agentic-surgeon/pkg/utils"
)

// Issuer issues one-session agent credentials.
type Issuer interface {
	Issue(ctx context.Context) (string, error)
}

// Handler 会话凭证签发处理器
type Handler struct {
	issuer Issuer
}

// New 创建凭证处理器
func New(issuer Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// RegisterRoutes 注册凭证路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/i", h.handleIssue)
}

type issueResponse struct {
	Credential string `json:"credential"`
	// APIKey 与旧版前端保持兼容，值同 Credential
	APIKey string `json:"apiKey"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	credential, err := h.issuer.Issue(r.Context())
	if err != nil {
		log.Printf("[credential] issue failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, issueResponse{Credential: credential, APIKey: credential})
}
