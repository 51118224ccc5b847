package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/zhouzirui/viva/backend/internal/service/ai"

var tracer = otel.Tracer(scopeName)

const (
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultGroqModel   = "llama-3.3-70b-versatile"
)

// GroqConfig Groq OpenAI 兼容接口配置
type GroqConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   *int
}

// GroqChatModel 实现 eino 的 BaseChatModel
type GroqChatModel struct {
	cfg    GroqConfig
	client *http.Client
}

func NewGroqChatModel(cfg GroqConfig) *GroqChatModel {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGroqBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGroqModel
	}
	return &GroqChatModel{
		cfg:    cfg,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

var _ model.BaseChatModel = (*GroqChatModel)(nil)

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func (g *GroqChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	ctx, span := tracer.Start(ctx, "groq chat completion")
	defer span.End()

	fail := func(err error) (*schema.Message, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, err := json.Marshal(g.buildRequest(input, opts...))
	if err != nil {
		return fail(fmt.Errorf("error marshalling request: %w", err))
	}

	url := g.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("error creating HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	span.SetAttributes(attribute.String("request.url", url), attribute.String("llm.model", g.cfg.Model))

	resp, err := g.client.Do(req)
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

	var out groqResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail(fmt.Errorf("error unmarshalling response: %w", err))
	}
	if len(out.Choices) == 0 {
		return fail(errors.New("groq returned no choices"))
	}
	if out.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", out.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", out.Usage.CompletionTokens),
		)
	}

	return schema.AssistantMessage(out.Choices[0].Message.Content, nil), nil
}

// Stream 不走 SSE，整段结果包装成单元素流
func (g *GroqChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := g.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (g *GroqChatModel) buildRequest(input []*schema.Message, opts ...model.Option) *groqRequest {
	temperature := float32(g.cfg.Temperature)
	options := model.GetCommonOptions(&model.Options{
		Model:       &g.cfg.Model,
		Temperature: &temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}, opts...)

	req := &groqRequest{
		Model:       g.cfg.Model,
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	for _, m := range input {
		if m == nil {
			continue
		}
		req.Messages = append(req.Messages, groqMessage{Role: string(m.Role), Content: m.Content})
	}
	return req
}
