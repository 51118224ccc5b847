package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/viva/backend/internal/logger"
	speechmodel "github.com/zhouzirui/viva/backend/internal/model/speech"
)

// asrSuccessCode v3 接口成功状态码
const asrSuccessCode = 20000000

var errNoAudio = errors.New("no audio data to send")

// VolcengineTranscriber 火山引擎大模型 ASR 客户端（流式输入模式）
type VolcengineTranscriber struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer

	// 每包 6400 字节约为 16kHz/16bit/单声道 200ms
	chunkBytes int
	pace       time.Duration
}

// NewVolcengineTranscriber 创建火山引擎 ASR 客户端
func NewVolcengineTranscriber(config *speechmodel.SpeechConfig) *VolcengineTranscriber {
	return &VolcengineTranscriber{
		config:     config,
		dialer:     newDialer(config),
		chunkBytes: 6400,
		pace:       100 * time.Millisecond,
	}
}

type asrRequestPayload struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrResultPayload struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

func (p *asrResultPayload) text() string {
	if t := strings.TrimSpace(p.Result.Text); t != "" {
		return t
	}
	parts := make([]string, 0, len(p.Result.Utterances))
	for _, u := range p.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// TranscribeAudio 一次完整的识别：发送配置帧，按包推送音频，等待最终结果
func (t *VolcengineTranscriber) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errNoAudio
	}

	resourceID := "volc.bigasr.sauc.duration"
	if t.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}
	connectID := uuid.NewString()

	conn, err := dialVolcengine(ctx, t.dialer, t.config, asrPath, resourceID, connectID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()

	payload, err := json.Marshal(t.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	if err := writeFrame(conn, configFrame(payload, true)); err != nil {
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	go func() {
		if err := t.streamAudio(ctx, conn, audio); err != nil {
			logger.Debug("volcengine asr audio upload stopped", "session", req.SessionID, "err", err)
		}
	}()

	resp, err := t.collect(conn, req.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	logger.Debug("volcengine asr finished", "session", req.SessionID, "bytes", len(audio), "duration_ms", resp.Duration)
	return resp, nil
}

func (t *VolcengineTranscriber) buildRequest(req *speechmodel.ASRRequest) *asrRequestPayload {
	p := &asrRequestPayload{}
	p.User.UID = req.SessionID

	p.Audio.Format = req.Format
	if p.Audio.Format == "" {
		p.Audio.Format = "wav"
	}
	p.Audio.Language = req.Language
	if p.Audio.Language == "" {
		p.Audio.Language = t.config.ASRLanguage
	}
	p.Audio.Codec = "raw"
	p.Audio.Rate = 16000
	p.Audio.Bits = 16
	p.Audio.Channel = 1

	p.Request.ModelName = "bigmodel"
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

// streamAudio 首帧占用序号 1，音频从 2 开始
func (t *VolcengineTranscriber) streamAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	seq := int32(2)
	for off := 0; off < len(audio); off += t.chunkBytes {
		end := min(off+t.chunkBytes, len(audio))
		last := end == len(audio)

		if err := writeFrame(conn, audioFrame(audio[off:end], seq, last)); err != nil {
			return fmt.Errorf("chunk %d: %w", seq, err)
		}
		seq++

		if last || t.pace <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.pace):
		}
	}
	return nil
}

func (t *VolcengineTranscriber) collect(conn *websocket.Conn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		f, err := readFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("read asr response: %w", err)
		}

		switch f.kind {
		case kindError:
			return nil, fmt.Errorf("asr error %d: %s", f.code, f.payload)

		case kindFullResponse:
			var result asrResultPayload
			if len(f.payload) > 0 {
				if err := json.Unmarshal(f.payload, &result); err != nil {
					logger.Warn("volcengine asr payload undecodable", "session", sessionID, "err", err)
				} else {
					if result.Code != 0 && result.Code != asrSuccessCode {
						return nil, fmt.Errorf("asr api error %d: %s", result.Code, result.Message)
					}
					if candidate := result.text(); candidate != "" {
						text = candidate
					}
					if result.AudioInfo.Duration > 0 {
						duration = result.AudioInfo.Duration
					}
				}
			}

			if f.last() || result.Sequence < 0 {
				return &speechmodel.ASRResponse{
					SessionID:  sessionID,
					Text:       text,
					Confidence: estimateConfidence(text),
					Duration:   duration,
					Provider:   speechmodel.ProviderVolcengine,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}
