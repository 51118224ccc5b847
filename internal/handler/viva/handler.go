package viva

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zhouzirui/viva/backend/internal/logger"
	"github.com/zhouzirui/viva/backend/internal/service/questions"
	vivaservice "github.com/zhouzirui/viva/backend/internal/service/viva"
	"github.com/zhouzirui/viva/backend/pkg/utils"
)

const maxUploadBytes = 4 << 20

// Options 连接级参数
type Options struct {
	Orchestrator  vivaservice.Config
	MaxAudioBytes int
	ScratchDir    string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	// Seed 非空时所有会话使用相同的出题顺序，便于复现
	Seed *uint64
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.ReadTimeout {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	return o
}

// Handler 提供 viva websocket 以及题库上传、健康检查等 HTTP 接口
type Handler struct {
	store    *vivaservice.Store
	bank     *questions.Bank
	deps     vivaservice.Collaborators
	opts     Options
	upgrader websocket.Upgrader
}

// New 创建 viva 处理器
func New(store *vivaservice.Store, bank *questions.Bank, deps vivaservice.Collaborators, opts Options) *Handler {
	return &Handler{
		store: store,
		bank:  bank,
		deps:  deps,
		opts:  opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册根路径下的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/ws", h.serveWS)
	r.Post("/upload_questions/", h.handleUpload)
}

// RegisterAPIRoutes 注册 /api 下的题库接口
func (h *Handler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/questions", h.handleListQuestions)
	r.Post("/questions", h.handleUpload)
}

type rootResponse struct {
	Message           string `json:"message"`
	WebsocketEndpoint string `json:"websocket_endpoint"`
}

type healthResponse struct {
	Status            string  `json:"status"`
	ActiveSessions    int     `json:"active_sessions"`
	OpenedSessions    int64   `json:"opened_sessions"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

type uploadResponse struct {
	Status         string `json:"status"`
	QuestionsCount int    `json:"questions_count"`
}

type questionsResponse struct {
	Questions []string `json:"questions"`
	Count     int      `json:"count"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, rootResponse{
		Message:           "Viva WebSocket Server",
		WebsocketEndpoint: "/ws",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()
	resp := healthResponse{
		Status:         "healthy",
		ActiveSessions: stats.Active,
		OpenedSessions: stats.Opened,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryUsedPercent = vm.UsedPercent
	} else {
		logger.Debug("viva health memory stats unavailable", "err", err)
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	qs := h.bank.Questions()
	utils.RespondJSON(w, http.StatusOK, questionsResponse{Questions: qs, Count: len(qs)})
}

// handleUpload 替换默认题库：接受 multipart 的 file 字段或原始文本请求体，每行一道题
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	src, err := uploadSource(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "questions file is required")
		return
	}
	defer src.Close()

	items, err := questions.Parse(src)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid questions file")
		return
	}

	n, err := h.bank.Replace(r.Context(), items)
	if err != nil {
		if errors.Is(err, questions.ErrEmptyQuestionSet) {
			utils.RespondError(w, http.StatusBadRequest, "questions file contains no questions")
			return
		}
		logger.Error("viva question upload failed", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to store questions")
		return
	}

	logger.Info("viva default questions replaced", "count", n)
	utils.RespondJSON(w, http.StatusOK, uploadResponse{Status: "ok", QuestionsCount: n})
}

func uploadSource(r *http.Request) (io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, nil
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	return file, nil
}
