package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/viva/backend/internal/logger"
	"github.com/zhouzirui/viva/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/viva/backend/internal/service/speech"
	"github.com/zhouzirui/viva/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc       SpeechService
	defaultLanguage string
}

// New 创建语音处理器，language 为请求未指定时的识别语言
func New(speechSvc SpeechService, language string) *Handler {
	return &Handler{speechSvc: speechSvc, defaultLanguage: strings.TrimSpace(language)}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(sr chi.Router) {
		sr.Post("/transcribe", h.handleTranscribe)
		sr.Post("/transcribe/{sessionID}", h.handleTranscribe)

		sr.Post("/synthesize", h.handleSynthesize)
		sr.Post("/synthesize/{sessionID}", h.handleSynthesize)

		sr.Get("/health", h.handleHealth)
	})
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, chi.URLParam(r, "sessionID"))
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, chi.URLParam(r, "sessionID"))
}

func (h *Handler) processTranscribe(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := firstNonEmpty(overrideSessionID, r.FormValue("sessionId"), "default")
	language := firstNonEmpty(r.FormValue("language"), h.defaultLanguage)

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    inferAudioFormat(header.Filename),
		Language:  language,
	})
	if err != nil {
		if errors.Is(err, speechsvc.ErrTranscriptionDisabled) {
			utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		logger.Warn("speech transcription failed", "session", sessionID, "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	var req speech.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	req.SessionID = firstNonEmpty(overrideSessionID, req.SessionID, "default")

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		if errors.Is(err, speechsvc.ErrSynthesisDisabled) {
			utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		logger.Warn("speech synthesis failed", "session", req.SessionID, "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}

	if len(resp.AudioData) == 0 {
		utils.RespondJSON(w, http.StatusOK, resp)
		return
	}

	format := resp.Format
	if format == "" {
		format = "octet-stream"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		logger.Debug("write audio response failed", "session", req.SessionID, "err", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "speech",
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".m4a", ".aac", ".ogg", ".flac":
		return ext[1:]
	default:
		return "wav"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
