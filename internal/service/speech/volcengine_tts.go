package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/viva/backend/internal/logger"
	speechmodel "github.com/zhouzirui/viva/backend/internal/model/speech"
)

const defaultTTSVoice = "zh_female_vv_uranus_bigtts"

// 3000 为旧版 TTS 的成功码
const ttsLegacySuccessCode = 3000

var errEmptyTTSText = errors.New("tts text is empty")

// VolcengineSynthesizer 火山引擎单向流式 TTS 客户端
type VolcengineSynthesizer struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
}

// NewVolcengineSynthesizer 创建 TTS 客户端
func NewVolcengineSynthesizer(config *speechmodel.SpeechConfig) *VolcengineSynthesizer {
	return &VolcengineSynthesizer{config: config, dialer: newDialer(config)}
}

type ttsRequestPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// SynthesizeSpeech 依次尝试候选音色与资源 ID，资源不匹配时换下一个
func (s *VolcengineSynthesizer) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errEmptyTTSText
	}

	encoding := ttsEncoding(req.Format)
	fallback := strings.TrimSpace(s.config.TTSVoice)
	if fallback == "" {
		fallback = defaultTTSVoice
	}
	speakers := resolveTTSSpeakerCandidates(strings.TrimSpace(req.Voice), fallback)

	var lastMismatch error
	for speakerIdx, speaker := range speakers {
		for resourceIdx, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, err := s.synthesizeWith(ctx, req, speaker, encoding, resourceID)
			if err == nil {
				if resourceIdx > 0 || speakerIdx > 0 {
					logger.Info("volcengine tts fallback succeeded", "voice", speaker, "resource", resourceID)
				}
				return resp, nil
			}
			if !isResourceMismatchError(err) {
				return nil, err
			}
			logger.Warn("volcengine tts resource mismatch", "voice", speaker, "resource", resourceID, "err", err)
			lastMismatch = err
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("tts synthesis failed: no compatible resource for voices %v", speakers)
}

func (s *VolcengineSynthesizer) synthesizeWith(ctx context.Context, req *speechmodel.TTSRequest, speaker, encoding, resourceID string) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	conn, err := dialVolcengine(ctx, s.dialer, s.config, ttsPath, resourceID, connectID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()

	payload, err := json.Marshal(s.buildRequest(req, speaker, encoding))
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := writeFrame(conn, configFrame(payload, false)); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	resp, err := s.collect(conn, encoding)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	resp.SessionID = req.SessionID
	if resp.RequestID == "" {
		resp.RequestID = connectID
	}
	return resp, nil
}

func (s *VolcengineSynthesizer) collect(conn *websocket.Conn, encoding string) (*speechmodel.TTSResponse, error) {
	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	done := func() (*speechmodel.TTSResponse, error) {
		if audio.Len() == 0 {
			return nil, errors.New("tts audio is empty")
		}
		return &speechmodel.TTSResponse{
			AudioData: audio.Bytes(),
			Duration:  duration,
			Format:    encoding,
			RequestID: reqID,
			CreatedAt: time.Now(),
		}, nil
	}

	for {
		f, err := readFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("read tts response: %w", err)
		}

		switch f.kind {
		case kindError:
			return nil, fmt.Errorf("tts error %d: %s", f.code, f.payload)

		case kindAudioResponse:
			audio.Write(f.payload)
			if f.last() {
				return done()
			}

		case kindFullResponse:
			if f.hasEvent() && f.event == eventSessionFailed {
				return nil, fmt.Errorf("tts session failed: %s", f.payload)
			}

			var msg ttsServerMessage
			if len(f.payload) > 0 {
				if err := json.Unmarshal(f.payload, &msg); err != nil {
					logger.Warn("volcengine tts payload undecodable", "err", err)
				} else {
					if msg.Code != 0 && msg.Code != ttsLegacySuccessCode {
						return nil, fmt.Errorf("tts api error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if msg.Addition.Duration != "" {
						if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
							duration = ms
						}
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode tts audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := f.hasEvent() && f.event == eventSessionFinished
			if finished || f.last() || msg.Sequence < 0 {
				return done()
			}

		default:
			logger.Debug("volcengine tts unexpected frame", "kind", f.kind)
		}
	}
}

func (s *VolcengineSynthesizer) buildRequest(req *speechmodel.TTSRequest, speaker, encoding string) *ttsRequestPayload {
	p := &ttsRequestPayload{}

	p.User.UID = strings.TrimSpace(req.SessionID)
	if p.User.UID == "" {
		p.User.UID = uuid.NewString()
	}

	p.ReqParams.Speaker = speaker
	p.ReqParams.Text = req.Text
	p.ReqParams.AudioParams = ttsAudioParams{
		Format:          encoding,
		SampleRate:      24000,
		EnableTimestamp: true,
	}

	speed := req.Speed
	if speed <= 0 {
		speed = s.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		p.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = s.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		p.ReqParams.AudioParams.VolumeRatio = volume
	}

	p.ReqParams.Language = strings.TrimSpace(req.Language)
	if p.ReqParams.Language == "" {
		p.ReqParams.Language = strings.TrimSpace(s.config.TTSLanguage)
	}

	p.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return p
}

// ttsEncoding 服务端不支持 wav 输出，统一回落到 mp3
func ttsEncoding(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "mp3", "ogg_opus", "pcm":
		return f
	default:
		return "mp3"
	}
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	aliases := map[string]string{
		"default":    fallback,
		"en_default": "en_female_amy_jupiter_bigtts",
	}

	var candidates []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := aliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	if len(candidates) == 0 {
		return []string{defaultTTSVoice}
	}
	return candidates
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
