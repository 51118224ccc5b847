package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/zhouzirui/viva/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/viva/backend/internal/service/speech"
)

type fakeSpeechService struct {
	transcribe *speechmodel.ASRRequest
	synth      *speechmodel.TTSRequest
	audio      []byte
	err        error
}

func (f *fakeSpeechService) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	f.transcribe = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.ASRResponse{SessionID: req.SessionID, Text: "ok"}, nil
}

func (f *fakeSpeechService) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.synth = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: f.audio, Format: "mp3"}, nil
}

func newRouter(svc SpeechService) http.Handler {
	r := chi.NewRouter()
	New(svc, "en-US").RegisterRoutes(r)
	return r
}

func audioForm(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField err: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestTranscribeUsesPathSession(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	body, contentType := audioForm(t, "sample.mp3", map[string]string{"sessionId": "ignored"})

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe/session-override", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	newRouter(fakeSvc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	if fakeSvc.transcribe.SessionID != "session-override" {
		t.Fatalf("expected override session, got %s", fakeSvc.transcribe.SessionID)
	}
	if fakeSvc.transcribe.Format != "mp3" || fakeSvc.transcribe.Language != "en-US" {
		t.Fatalf("unexpected request: %+v", fakeSvc.transcribe)
	}
}

func TestTranscribeFormFields(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	body, contentType := audioForm(t, "clip.bin", map[string]string{"sessionId": "s-7", "language": "zh-CN"})

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	newRouter(fakeSvc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if fakeSvc.transcribe.SessionID != "s-7" || fakeSvc.transcribe.Language != "zh-CN" || fakeSvc.transcribe.Format != "wav" {
		t.Fatalf("unexpected request: %+v", fakeSvc.transcribe)
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name       string
		svcErr     error
		noFile     bool
		wantStatus int
	}{
		{name: "missing audio", noFile: true, wantStatus: http.StatusBadRequest},
		{name: "disabled", svcErr: speechsvc.ErrTranscriptionDisabled, wantStatus: http.StatusServiceUnavailable},
		{name: "backend failure", svcErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		var (
			body        *bytes.Buffer
			contentType string
		)
		if tt.noFile {
			body = &bytes.Buffer{}
			w := multipart.NewWriter(body)
			w.WriteField("sessionId", "x")
			w.Close()
			contentType = w.FormDataContentType()
		} else {
			body, contentType = audioForm(t, "a.wav", nil)
		}

		req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		newRouter(&fakeSpeechService{err: tt.svcErr}).ServeHTTP(rr, req)

		if rr.Code != tt.wantStatus {
			t.Fatalf("%s: status = %d, want %d", tt.name, rr.Code, tt.wantStatus)
		}
	}
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	fakeSvc := &fakeSpeechService{audio: []byte("mp3-bytes")}
	buf, _ := json.Marshal(map[string]any{"text": "hello", "voice": "en_default"})

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize/sess-1", bytes.NewReader(buf))
	rr := httptest.NewRecorder()
	newRouter(fakeSvc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mp3" {
		t.Fatalf("content type = %q", got)
	}
	if rr.Body.String() != "mp3-bytes" {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if fakeSvc.synth.SessionID != "sess-1" || fakeSvc.synth.Voice != "en_default" {
		t.Fatalf("unexpected request: %+v", fakeSvc.synth)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
	}{
		{name: "invalid json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "blank text", body: `{"text":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "disabled", body: `{"text":"hi"}`, svcErr: speechsvc.ErrSynthesisDisabled, wantStatus: http.StatusServiceUnavailable},
		{name: "failure", body: `{"text":"hi"}`, svcErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
		{name: "no audio", body: `{"text":"hi"}`, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewBufferString(tt.body))
		rr := httptest.NewRecorder()
		newRouter(&fakeSpeechService{err: tt.svcErr}).ServeHTTP(rr, req)
		if rr.Code != tt.wantStatus {
			t.Fatalf("%s: status = %d, want %d", tt.name, rr.Code, tt.wantStatus)
		}
	}
}

func TestSpeechHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(&fakeSpeechService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}
