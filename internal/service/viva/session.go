package viva

import (
	"math/rand/v2"
	"sync"
	"time"

	model "github.com/zhouzirui/viva/backend/internal/model/viva"
	"github.com/zhouzirui/viva/backend/internal/service/questions"
)

// Session 是单个连接的 viva 状态，只由所属连接的编排器修改。
type Session struct {
	ID        string
	ClientID  string
	CreatedAt time.Time

	audio *UtteranceBuffer

	mu           sync.Mutex
	phase        model.Phase
	questions    []string
	asked        map[int]struct{}
	history      []model.Turn
	lastQuestion string
	initialized  bool
	rng          *rand.Rand
}

// NewSession 在连接建立时创建空会话
func NewSession(id, clientID string, audioLimit int, rng *rand.Rand) *Session {
	if rng == nil {
		rng = questions.NewRand(nil)
	}
	return &Session{
		ID:        id,
		ClientID:  clientID,
		CreatedAt: time.Now().UTC(),
		audio:     NewUtteranceBuffer(audioLimit),
		phase:     model.PhaseIdle,
		asked:     make(map[int]struct{}),
		rng:       rng,
	}
}

// AppendAudio 缓存一段二进制音频
func (s *Session) AppendAudio(fragment []byte) error {
	return s.audio.Append(fragment)
}

// Snapshot 返回 get_state 所需的只读快照
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Snapshot{
		SessionID:      s.ID,
		QuestionsCount: len(s.questions),
		AskedCount:     len(s.asked),
		Initialized:    s.initialized,
	}
}

// Info 返回 HTTP 查询使用的扩展视图
func (s *Session) Info() model.SessionInfo {
	snap := s.Snapshot()
	pending := s.audio.Len()

	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionInfo{
		Snapshot:     snap,
		ClientID:     s.ClientID,
		Phase:        s.phase.String(),
		LastQuestion: s.lastQuestion,
		HistoryLen:   len(s.history),
		PendingAudio: pending,
		CreatedAt:    s.CreatedAt,
	}
}

// Phase 当前阶段
func (s *Session) Phase() model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// History 返回完整历史的副本
func (s *Session) History() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Turn(nil), s.history...)
}

func (s *Session) enter(p model.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == model.PhaseEnded {
		return
	}
	s.phase = p
}

// settle 一轮结束后回到 active 或 idle
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.phase == model.PhaseEnded:
	case s.initialized:
		s.phase = model.PhaseActive
	default:
		s.phase = model.PhaseIdle
	}
}

func (s *Session) hasQuestions() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions) > 0
}

// begin 标记会话已开始；题目只在尚未加载时写入。
func (s *Session) begin(qs []string, marker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.questions) == 0 && len(qs) > 0 {
		s.questions = append([]string(nil), qs...)
	}
	s.initialized = true
	s.history = append(s.history, model.Turn{Role: model.RoleSystem, Content: marker})
}

// ensureInitialized 未 start 时隐式开始，返回是否发生了初始化
func (s *Session) ensureInitialized(marker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return false
	}
	s.initialized = true
	s.history = append(s.history, model.Turn{Role: model.RoleSystem, Content: marker})
	return true
}

func (s *Session) appendTurn(role model.Role, content string) {
	s.mu.Lock()
	s.history = append(s.history, model.Turn{Role: role, Content: content})
	s.mu.Unlock()
}

func (s *Session) recentHistory(limit int) []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if limit > 0 && len(s.history) > limit {
		start = len(s.history) - limit
	}
	return append([]model.Turn(nil), s.history[start:]...)
}

func (s *Session) questionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.questions...)
}

// pickNext 选出下一题但不标记为已提问
func (s *Session) pickNext() (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := questions.Next(s.questions, s.asked, s.rng)
	if !ok {
		return -1, "", false
	}
	return idx, s.questions[idx], true
}

// markAsked 记录题目已下发，并写入 system 历史
func (s *Session) markAsked(idx int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.questions) {
		return ""
	}
	text := s.questions[idx]
	s.asked[idx] = struct{}{}
	s.lastQuestion = text
	s.history = append(s.history, model.Turn{Role: model.RoleSystem, Content: text})
	return text
}

// resetAsked 开始新一轮题目
func (s *Session) resetAsked() {
	s.mu.Lock()
	s.asked = make(map[int]struct{})
	s.mu.Unlock()
}

func (s *Session) end() {
	s.mu.Lock()
	s.phase = model.PhaseEnded
	s.mu.Unlock()
	s.audio.Reset()
}
