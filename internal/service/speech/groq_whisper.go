package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	speechmodel "github.com/zhouzirui/viva/backend/internal/model/speech"
)

const scopeName = "github.com/zhouzirui/viva/backend/internal/service/speech"

var tracer = otel.Tracer(scopeName)

const (
	defaultGroqBaseURL  = "https://api.groq.com/openai/v1"
	defaultGroqSTTModel = "whisper-large-v3-turbo"
)

// GroqTranscriber 通过 Groq 的 OpenAI 兼容接口调用 Whisper
type GroqTranscriber struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	client   *http.Client
}

// NewGroqTranscriber 创建 Groq Whisper 客户端
func NewGroqTranscriber(cfg *speechmodel.SpeechConfig) *GroqTranscriber {
	t := &GroqTranscriber{
		apiKey:   strings.TrimSpace(cfg.GroqAPIKey),
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.GroqBaseURL), "/"),
		model:    strings.TrimSpace(cfg.GroqSTTModel),
		language: strings.TrimSpace(cfg.GroqSTTLanguage),
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if t.baseURL == "" {
		t.baseURL = defaultGroqBaseURL
	}
	if t.model == "" {
		t.model = defaultGroqSTTModel
	}
	if cfg.Timeout > 0 {
		t.client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return t
}

type whisperResponse struct {
	Text string `json:"text"`
}

// TranscribeAudio 上传整段音频，返回识别文本
func (t *GroqTranscriber) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	ctx, span := tracer.Start(ctx, "groq transcription")
	defer span.End()

	fail := func(err error) (*speechmodel.ASRResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if t.apiKey == "" {
		return fail(errors.New("groq api key is not configured"))
	}

	body, contentType, err := t.buildForm(req)
	if err != nil {
		return fail(err)
	}

	url := t.baseURL + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fail(fmt.Errorf("error creating HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	span.SetAttributes(attribute.String("request.url", url), attribute.String("stt.model", t.model))

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fail(fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("error reading response body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, strings.TrimSpace(string(raw))))
	}

	var out whisperResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail(fmt.Errorf("error unmarshalling response: %w", err))
	}

	text := strings.TrimSpace(out.Text)
	return &speechmodel.ASRResponse{
		SessionID:  req.SessionID,
		Text:       text,
		Confidence: estimateConfidence(text),
		Provider:   speechmodel.ProviderGroq,
		RequestID:  resp.Header.Get("X-Request-Id"),
		CreatedAt:  time.Now(),
	}, nil
}

func (t *GroqTranscriber) buildForm(req *speechmodel.ASRRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	format := strings.TrimSpace(req.Format)
	if format == "" {
		format = "wav"
	}
	part, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(part, req.AudioData)
	if err != nil {
		return nil, "", fmt.Errorf("copy audio: %w", err)
	}
	if n == 0 {
		return nil, "", errNoAudio
	}

	fields := map[string]string{
		"model":           t.model,
		"response_format": "json",
	}
	if lang := whisperLanguage(req.Language, t.language); lang != "" {
		fields["language"] = lang
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// whisperLanguage Whisper 只接受 ISO-639-1，zh-CN 取 zh
func whisperLanguage(requested, fallback string) string {
	lang := strings.TrimSpace(requested)
	if lang == "" {
		lang = fallback
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
