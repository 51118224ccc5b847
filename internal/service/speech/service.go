package speech

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zhouzirui/viva/backend/internal/model/speech"
)

var (
	// ErrTranscriptionDisabled 没有可用的转写后端
	ErrTranscriptionDisabled = errors.New("speech transcription is not configured")
	// ErrSynthesisDisabled 没有配置火山引擎 TTS
	ErrSynthesisDisabled = errors.New("speech synthesis is not configured")
)

type transcriber interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
}

type synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Service 语音服务：按配置组合转写与合成后端
type Service struct {
	config   *speech.SpeechConfig
	provider string
	asr      transcriber
	tts      synthesizer
}

// NewService 根据配置选择转写后端；TTS 只在火山引擎凭证齐全时启用
func NewService(config *speech.SpeechConfig) (*Service, error) {
	if config == nil {
		config = &speech.SpeechConfig{}
	}
	s := &Service{config: config, provider: config.ResolveTranscribeProvider()}

	switch s.provider {
	case speech.ProviderVolcengine:
		if !config.VolcengineEnabled() {
			return nil, fmt.Errorf("transcribe provider %q: %w", s.provider, errMissingCredentials)
		}
		s.asr = NewVolcengineTranscriber(config)
	case speech.ProviderGroq:
		if !config.GroqEnabled() {
			return nil, fmt.Errorf("transcribe provider %q: GROQ_API_KEY is empty", s.provider)
		}
		s.asr = NewGroqTranscriber(config)
	case "":
	default:
		return nil, fmt.Errorf("unknown transcribe provider %q", s.provider)
	}

	if config.VolcengineEnabled() {
		s.tts = NewVolcengineSynthesizer(config)
	}
	return s, nil
}

// Provider 当前转写后端名称，未配置时为空
func (s *Service) Provider() string {
	return s.provider
}

func (s *Service) CanTranscribe() bool { return s.asr != nil }

func (s *Service) CanSynthesize() bool { return s.tts != nil }

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if s.asr == nil {
		return nil, ErrTranscriptionDisabled
	}
	return s.asr.TranscribeAudio(ctx, req)
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if s.tts == nil {
		return nil, ErrSynthesisDisabled
	}
	return s.tts.SynthesizeSpeech(ctx, req)
}

// Transcribe 供答辩会话使用：整段音频识别为文本
func (s *Service) Transcribe(ctx context.Context, sessionID string, audio io.Reader, format string) (string, error) {
	resp, err := s.TranscribeAudio(ctx, &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: audio,
		Format:    format,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Synthesize 供答辩会话使用：返回完整音频字节
func (s *Service) Synthesize(ctx context.Context, sessionID, text string) ([]byte, error) {
	resp, err := s.SynthesizeSpeech(ctx, &speech.TTSRequest{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return nil, err
	}
	return resp.AudioData, nil
}
