package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/zhouzirui/viva/backend/internal/model/speech"
)

type stubASR struct {
	got  *speech.ASRRequest
	body string
	text string
}

func (s *stubASR) TranscribeAudio(_ context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	s.got = req
	data, _ := io.ReadAll(req.AudioData)
	s.body = string(data)
	return &speech.ASRResponse{SessionID: req.SessionID, Text: s.text}, nil
}

type stubTTS struct {
	got *speech.TTSRequest
}

func (s *stubTTS) SynthesizeSpeech(_ context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	s.got = req
	return &speech.TTSResponse{AudioData: []byte("audio:" + req.Text)}, nil
}

func TestNewServiceSelectsProvider(t *testing.T) {
	tests := []struct {
		name         string
		cfg          *speech.SpeechConfig
		wantProvider string
		wantASR      bool
		wantTTS      bool
		wantErr      bool
	}{
		{name: "nothing configured", cfg: &speech.SpeechConfig{}},
		{name: "nil config", cfg: nil},
		{name: "volcengine", cfg: &speech.SpeechConfig{AppID: "a", AccessToken: "b"}, wantProvider: speech.ProviderVolcengine, wantASR: true, wantTTS: true},
		{name: "groq only", cfg: &speech.SpeechConfig{GroqAPIKey: "g"}, wantProvider: speech.ProviderGroq, wantASR: true},
		{name: "groq forced with volcengine tts", cfg: &speech.SpeechConfig{AppID: "a", APIKey: "b", GroqAPIKey: "g", TranscribeProvider: "GROQ"}, wantProvider: speech.ProviderGroq, wantASR: true, wantTTS: true},
		{name: "volcengine forced without creds", cfg: &speech.SpeechConfig{TranscribeProvider: "volcengine"}, wantErr: true},
		{name: "groq forced without key", cfg: &speech.SpeechConfig{TranscribeProvider: "groq"}, wantErr: true},
		{name: "unknown provider", cfg: &speech.SpeechConfig{TranscribeProvider: "deepgram"}, wantErr: true},
	}

	for _, tt := range tests {
		svc, err := NewService(tt.cfg)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if svc.Provider() != tt.wantProvider || svc.CanTranscribe() != tt.wantASR || svc.CanSynthesize() != tt.wantTTS {
			t.Fatalf("%s: provider=%q asr=%v tts=%v", tt.name, svc.Provider(), svc.CanTranscribe(), svc.CanSynthesize())
		}
	}
}

func TestServiceDisabledBackends(t *testing.T) {
	svc, err := NewService(&speech.SpeechConfig{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.Transcribe(context.Background(), "s", strings.NewReader("x"), "wav"); !errors.Is(err, ErrTranscriptionDisabled) {
		t.Fatalf("expected ErrTranscriptionDisabled, got %v", err)
	}
	if _, err := svc.Synthesize(context.Background(), "s", "hi"); !errors.Is(err, ErrSynthesisDisabled) {
		t.Fatalf("expected ErrSynthesisDisabled, got %v", err)
	}
}

func TestServiceSessionAdapters(t *testing.T) {
	asr := &stubASR{text: "forty two"}
	tts := &stubTTS{}
	svc := &Service{config: &speech.SpeechConfig{}, asr: asr, tts: tts}

	text, err := svc.Transcribe(context.Background(), "sess-3", strings.NewReader("pcm"), "wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "forty two" || asr.body != "pcm" || asr.got.SessionID != "sess-3" || asr.got.Format != "wav" {
		t.Fatalf("unexpected transcription: %q %+v", text, asr.got)
	}

	audio, err := svc.Synthesize(context.Background(), "sess-3", "next question")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "audio:next question" || tts.got.SessionID != "sess-3" {
		t.Fatalf("unexpected synthesis: %q %+v", audio, tts.got)
	}
}
