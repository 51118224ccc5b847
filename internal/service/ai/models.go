package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/viva/backend/internal/config"
)

// NewChatModel 按 AI_PROVIDER 选择模型实现
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	switch provider := cfg.ResolveProvider(); provider {
	case config.ProviderArk:
		return newArkModel(ctx, cfg)
	case config.ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY is required for provider %q", provider)
		}
		return NewGroqChatModel(GroqConfig{
			APIKey:      cfg.GroqAPIKey,
			BaseURL:     cfg.GroqBaseURL,
			Model:       cfg.GroqModel,
			Temperature: cfg.GroqTemperature,
			MaxTokens:   cfg.MaxTokens,
		}), nil
	case config.ProviderClaude:
		if cfg.ClaudeAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", provider)
		}
		return NewClaudeChatModel(ClaudeConfig{
			APIKey:    cfg.ClaudeAPIKey,
			Model:     cfg.ClaudeModel,
			MaxTokens: cfg.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", provider)
	}
}

func newArkModel(ctx context.Context, c config.AIConfig) (model.BaseChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature, topP *float32
	if c.Temperature != nil {
		v := float32(*c.Temperature)
		temperature = &v
	}
	if c.TopP != nil {
		v := float32(*c.TopP)
		topP = &v
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}
