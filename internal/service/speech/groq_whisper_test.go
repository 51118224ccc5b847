package speech

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	speechmodel "github.com/zhouzirui/viva/backend/internal/model/speech"
)

func TestGroqTranscriberSendsMultipartForm(t *testing.T) {
	var (
		gotAuth  string
		gotPath  string
		fields   = map[string]string{}
		fileName string
		fileBody string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		fileName, fileBody = header.Filename, string(data)

		w.Header().Set("X-Request-Id", "req-42")
		w.Write([]byte(`{"text":"  the answer is four  "}`))
	}))
	defer srv.Close()

	tr := NewGroqTranscriber(&speechmodel.SpeechConfig{GroqAPIKey: "gsk", GroqBaseURL: srv.URL + "/", GroqSTTLanguage: "en"})
	resp, err := tr.TranscribeAudio(context.Background(), &speechmodel.ASRRequest{
		SessionID: "s1",
		AudioData: strings.NewReader("RIFF"),
		Format:    "wav",
		Language:  "zh-CN",
	})
	if err != nil {
		t.Fatalf("TranscribeAudio: %v", err)
	}

	if resp.Text != "the answer is four" || resp.Provider != speechmodel.ProviderGroq || resp.RequestID != "req-42" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotAuth != "Bearer gsk" || gotPath != "/audio/transcriptions" {
		t.Fatalf("auth=%q path=%q", gotAuth, gotPath)
	}
	if fields["model"] != defaultGroqSTTModel || fields["language"] != "zh" || fields["response_format"] != "json" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fileName != "audio.wav" || fileBody != "RIFF" {
		t.Fatalf("file %q = %q", fileName, fileBody)
	}
}

func TestGroqTranscriberErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		cfg     *speechmodel.SpeechConfig
		audio   string
		wantErr string
	}{
		{name: "missing key", cfg: &speechmodel.SpeechConfig{}, audio: "x", wantErr: "api key"},
		{name: "empty audio", cfg: &speechmodel.SpeechConfig{GroqAPIKey: "k", GroqBaseURL: srv.URL}, audio: "", wantErr: "no audio"},
		{name: "http status", cfg: &speechmodel.SpeechConfig{GroqAPIKey: "k", GroqBaseURL: srv.URL}, audio: "x", wantErr: "rate limited"},
	}

	for _, tt := range tests {
		_, err := NewGroqTranscriber(tt.cfg).TranscribeAudio(context.Background(), &speechmodel.ASRRequest{AudioData: strings.NewReader(tt.audio)})
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: expected error containing %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestWhisperLanguage(t *testing.T) {
	tests := []struct {
		requested, fallback, want string
	}{
		{"zh-CN", "en", "zh"},
		{"", "en", "en"},
		{"", "", ""},
		{"EN_us", "", "en"},
	}
	for _, tt := range tests {
		if got := whisperLanguage(tt.requested, tt.fallback); got != tt.want {
			t.Fatalf("whisperLanguage(%q, %q) = %q, want %q", tt.requested, tt.fallback, got, tt.want)
		}
	}
}
