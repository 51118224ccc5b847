package viva

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role 标识历史记录中的发言方
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 会话历史中的一条记录
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Phase 会话所处的阶段
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseProcessing
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseProcessing:
		return "processing"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Snapshot 是 get_state 返回给客户端的会话快照
type Snapshot struct {
	SessionID      string `json:"session_id"`
	QuestionsCount int    `json:"questions_count"`
	AskedCount     int    `json:"asked_count"`
	Initialized    bool   `json:"initialized"`
}

// SessionInfo 供 HTTP 查询接口使用的扩展视图
type SessionInfo struct {
	Snapshot
	ClientID     string    `json:"client_id,omitempty"`
	Phase        string    `json:"phase"`
	LastQuestion string    `json:"last_question,omitempty"`
	HistoryLen   int       `json:"history_len"`
	PendingAudio int       `json:"pending_audio_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

// TurnContext 是交给回复生成器的结构化用户上下文
type TurnContext struct {
	StudentLastAnswer      string  `json:"student_last_answer"`
	NextPredefinedQuestion *string `json:"next_predefined_question"`
	ConversationHistory    []Turn  `json:"conversation_history"`
}

// Encode 序列化为 JSON 文本，作为生成请求中的用户消息
func (tc TurnContext) Encode() (string, error) {
	if tc.ConversationHistory == nil {
		tc.ConversationHistory = []Turn{}
	}
	data, err := json.Marshal(tc)
	if err != nil {
		return "", fmt.Errorf("encode turn context: %w", err)
	}
	return string(data), nil
}
