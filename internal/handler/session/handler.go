package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/viva/backend/internal/model/viva"
	vivaservice "github.com/zhouzirui/viva/backend/internal/service/viva"
	"github.com/zhouzirui/viva/backend/pkg/utils"
)

// Handler 只读的会话查询接口
type Handler struct {
	store *vivaservice.Store
}

// New 创建会话处理器
func New(store *vivaservice.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Get("/sessions/{sessionID}", h.handleGet)
}

type listResponse struct {
	Sessions []model.SessionInfo `json:"sessions"`
	Stats    vivaservice.Stats   `json:"stats"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.List()
	infos := make([]model.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	utils.RespondJSON(w, http.StatusOK, listResponse{Sessions: infos, Stats: h.store.Stats()})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s, ok := h.store.Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Info())
}
