package recording

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/recording"
	"github.com/SeanZCai/treehacks-agentic-surgeon/pkg/utils"
)

// maxUploadSize 单个录屏上传上限
const maxUploadSize = 512 << 20

// Handler 录屏文件的HTTP处理器
type Handler struct {
	store *recording.Store
}

// New 创建录屏处理器
func New(store *recording.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册录屏路由以及静态文件目录
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/recordings", h.handleList)
	r.Post("/recordings", h.handleUpload)

	files := http.StripPrefix(recording.URLPrefix, http.FileServer(http.Dir(h.store.Dir())))
	r.Get(recording.URLPrefix+"*", files.ServeHTTP)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	recordings, err := h.store.List()
	if err != nil {
		log.Printf("[recording] list failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to fetch recordings")
		return
	}
	utils.RespondJSON(w, http.StatusOK, recordings)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, _, err := r.FormFile("recording")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	saved, err := h.store.Save(file)
	if err != nil {
		if errors.Is(err, recording.ErrEmptyRecording) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[recording] save failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save recording")
		return
	}

	log.Printf("[recording] saved %s", saved.Filename)
	utils.RespondJSON(w, http.StatusCreated, saved)
}
