package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zhouzirui/viva/backend/internal/logger"
	vivaservice "github.com/zhouzirui/viva/backend/internal/service/viva"
)

// LiveSessions 用于判断临时目录是否仍属于在线会话
type LiveSessions interface {
	Has(id string) bool
	Count() int
}

// Janitor 定期清理已断开会话遗留的临时语音目录
type Janitor struct {
	root     string
	maxAge   time.Duration
	schedule string
	sessions LiveSessions
	now      func() time.Time

	cron *cron.Cron
}

// New 创建清理任务；schedule 使用 robfig/cron 语法，如 "@every 10m"
func New(root, schedule string, maxAge time.Duration, sessions LiveSessions) *Janitor {
	if root == "" {
		root = os.TempDir()
	}
	return &Janitor{
		root:     root,
		maxAge:   maxAge,
		schedule: schedule,
		sessions: sessions,
		now:      time.Now,
	}
}

// Start 注册定时任务并启动调度器
func (j *Janitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			logger.Warn("scratch sweep failed", "root", j.root, "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	logger.Info("janitor started", "schedule", j.schedule, "max_age", j.maxAge, "root", j.root)
	return nil
}

// Stop 停止调度并等待正在执行的清理结束
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep 删除超过 maxAge 且不属于在线会话的临时目录，返回删除数量
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		return 0, fmt.Errorf("read scratch root: %w", err)
	}

	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		id, ok := vivaservice.SessionIDFromScratch(entry.Name())
		if !ok || j.sessions.Has(id) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("remove orphaned scratch failed", "path", path, "err", err)
			continue
		}
		removed++
	}

	logger.Info("scratch sweep finished", "removed", removed, "active_sessions", j.sessions.Count())
	return removed, nil
}
