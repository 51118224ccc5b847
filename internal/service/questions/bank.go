package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zhouzirui/viva/backend/internal/logger"
)

// DefaultObject 默认题库在对象存储中的文件名
const DefaultObject = "default-questions.txt"

// ErrEmptyQuestionSet 上传内容没有任何非空行
var ErrEmptyQuestionSet = errors.New("question set is empty")

// ObjectStore 题库持久化所需的最小对象存储能力
type ObjectStore interface {
	Upload(ctx context.Context, bucket, name string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, name string) ([]byte, error)
}

// Bank 保存最近一次上传的默认题库，供未携带题目的 start 使用。
type Bank struct {
	mu        sync.RWMutex
	questions []string

	store  ObjectStore
	bucket string
	object string
}

// Option 配置 Bank
type Option func(*Bank)

// WithObjectStore 让题库在每次替换后写入对象存储，并可在启动时恢复。
func WithObjectStore(store ObjectStore, bucket string) Option {
	return func(b *Bank) {
		b.store = store
		b.bucket = bucket
	}
}

// NewBank 创建题库，seed 可为空。
func NewBank(seed []string, opts ...Option) *Bank {
	b := &Bank{
		questions: Normalize(seed),
		object:    DefaultObject,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Questions 返回当前默认题库的副本
func (b *Bank) Questions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.questions...)
}

// Len 返回当前默认题目数量
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.questions)
}

// Replace 用新题目覆盖默认题库并返回题目数量。
// 空集合会被拒绝且不修改现有题库；持久化失败只记录日志。
func (b *Bank) Replace(ctx context.Context, items []string) (int, error) {
	cleaned := Normalize(items)
	if len(cleaned) == 0 {
		return 0, ErrEmptyQuestionSet
	}

	b.mu.Lock()
	b.questions = cleaned
	b.mu.Unlock()

	if b.store != nil {
		data := []byte(strings.Join(cleaned, "\n") + "\n")
		if err := b.store.Upload(ctx, b.bucket, b.object, data, "text/plain"); err != nil {
			logger.Warn("question bank persist failed", "bucket", b.bucket, "err", err)
		}
	}

	return len(cleaned), nil
}

// Restore 从对象存储恢复上一次上传的题库；未配置存储时直接返回。
func (b *Bank) Restore(ctx context.Context) (int, error) {
	if b.store == nil {
		return 0, nil
	}

	data, err := b.store.Download(ctx, b.bucket, b.object)
	if err != nil {
		return 0, fmt.Errorf("restore question bank: %w", err)
	}

	items, err := Parse(strings.NewReader(string(data)))
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	b.questions = items
	b.mu.Unlock()

	return len(items), nil
}
