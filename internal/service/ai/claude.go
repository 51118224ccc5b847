package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/viva/backend/internal/logger"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-20250514"
	defaultClaudeMaxTokens = 1024

	claudeMaxAttempts = 3
)

// ClaudeConfig Anthropic Messages 接口配置
type ClaudeConfig struct {
	APIKey    string
	Model     string
	MaxTokens *int
	// BaseURL 仅测试时覆盖
	BaseURL string
}

// ClaudeChatModel 基于 anthropic-sdk-go 的 BaseChatModel 实现
type ClaudeChatModel struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	baseDelay time.Duration
}

func NewClaudeChatModel(cfg ClaudeConfig) *ClaudeChatModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	c := &ClaudeChatModel{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: defaultClaudeMaxTokens,
		baseDelay: 2 * time.Second,
	}
	if c.model == "" {
		c.model = defaultClaudeModel
	}
	if cfg.MaxTokens != nil && *cfg.MaxTokens > 0 {
		c.maxTokens = int64(*cfg.MaxTokens)
	}
	return c
}

var _ model.BaseChatModel = (*ClaudeChatModel)(nil)

func (c *ClaudeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	ctx, span := tracer.Start(ctx, "claude messages")
	defer span.End()

	params := c.buildParams(input, opts...)

	var (
		resp *anthropic.Message
		err  error
	)
	for attempt := range claudeMaxAttempts {
		resp, err = c.client.Messages.New(ctx, params)
		if err == nil || !isRetryableError(err) || attempt == claudeMaxAttempts-1 {
			break
		}
		delay := c.baseDelay * time.Duration(1<<attempt)
		logger.Warn("claude overloaded, retrying", "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
			continue
		}
		break
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("claude returned no text content")
	}
	return schema.AssistantMessage(text.String(), nil), nil
}

func (c *ClaudeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := c.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// buildParams system 消息单独放入 System 字段
func (c *ClaudeChatModel) buildParams(input []*schema.Message, opts ...model.Option) anthropic.MessageNewParams {
	options := model.GetCommonOptions(&model.Options{Model: &c.model}, opts...)
	modelName := c.model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	params := anthropic.MessageNewParams{
		Model:     modelName,
		MaxTokens: c.maxTokens,
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		params.MaxTokens = int64(*options.MaxTokens)
	}

	for _, m := range input {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case schema.Assistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return params
}

func isRetryableError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 529, http.StatusServiceUnavailable, http.StatusBadGateway:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "529") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "Overloaded") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "502")
}
