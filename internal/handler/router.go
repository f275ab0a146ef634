package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	checklistHandler "github.com/SeanZCai/treehacks-agentic-surgeon/internal/handler/checklist"
	complianceHandler "github.com/SeanZCai/treehacks-agentic-surgeon/internal/handler/compliance"
	credentialHandler "github.com/SeanZCai/treehacks-agentic-surgeon/internal/handler/credential"
	recordingHandler "github.com/SeanZCai/treehacks-agentic-surgeon/internal/handler/recording"
	sessionHandler "github.com/SeanZCai/treehacks-agentic-surgeon/internal/handler/session"
	transcriptHandler "github.com/SeanZCai/treehacks-agentic-surgeon/internal/handler/transcript"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/metrics"
	middlewarePkg "github.com/SeanZCai/treehacks-agentic-surgeon/internal/middleware"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/annotation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/recording"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/session"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/transcript"
	"github.com/SeanZCai/treehacks-agentic-surgeon/pkg/utils"
)

// Services 路由依赖的核心服务，可选项为 nil 时对应路由不注册
type Services struct {
	Sessions    *session.Manager
	Microphones *session.MediaRegistry
	Transcripts transcript.Store
	Credentials credentialHandler.Issuer
	Annotator   annotation.Service
	Checklist   checklist.Store
	Recordings  *recording.Store
	Metrics     *metrics.Metrics
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if svc.Metrics != nil {
		r.Handle("/metrics", svc.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		transcriptHandler.New(svc.Transcripts).RegisterRoutes(api)
		credentialHandler.New(svc.Credentials).RegisterRoutes(api)
		complianceHandler.New(svc.Annotator).RegisterRoutes(api)

		if svc.Checklist != nil {
			checklistHandler.New(svc.Checklist).RegisterRoutes(api)
		}

		if svc.Sessions != nil && svc.Microphones != nil {
			sessionHandler.New(svc.Sessions, svc.Microphones).RegisterRoutes(api)
		}
	})

	// 录屏接口保持原有的根路径
	if svc.Recordings != nil {
		recordingHandler.New(svc.Recordings).RegisterRoutes(r)
	}

	return r
}
