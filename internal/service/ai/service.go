package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/viva/backend/internal/config"
	"github.com/zhouzirui/viva/backend/internal/logger"
	viva "github.com/zhouzirui/viva/backend/internal/model/viva"
)

// Service 面试官回复生成：system 为面试说明，user 为结构化上下文 JSON
type Service struct {
	provider string
	chain    compose.Runnable[map[string]any, *schema.Message]
}

// NewService 按配置创建底层模型并编译 chain
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, cfg.ResolveProvider(), chatModel)
}

// NewServiceWithModel 使用给定模型构建服务，测试时可注入假模型
func NewServiceWithModel(ctx context.Context, provider string, chatModel model.BaseChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &Service{provider: provider, chain: runnable}, nil
}

// Provider 当前使用的模型后端
func (s *Service) Provider() string {
	return s.provider
}

// Generate 生成一轮面试官回复
func (s *Service) Generate(ctx context.Context, systemPrompt string, turn viva.TurnContext) (string, error) {
	query, err := turn.Encode()
	if err != nil {
		return "", err
	}

	msg, err := s.chain.Invoke(ctx, map[string]any{
		"system": systemPrompt,
		"query":  query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if msg == nil {
		return "", errors.New("chat model returned no message")
	}

	reply := strings.TrimSpace(msg.Content)
	logger.Debug("ai reply generated", "provider", s.provider, "history", len(turn.ConversationHistory), "length", len(reply))
	return reply, nil
}
