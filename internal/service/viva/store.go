package viva

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Store 进程级会话注册表：连接建立时注册，断开时注销。
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*storeEntry
	wg       sync.WaitGroup

	opened atomic.Int64
	closed atomic.Int64
}

type storeEntry struct {
	session *Session
	cancel  func()
	once    sync.Once
}

// Stats 会话计数
type Stats struct {
	Active int   `json:"active"`
	Opened int64 `json:"opened"`
	Closed int64 `json:"closed"`
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*storeEntry)}
}

// Register 登记会话并返回注销函数。
// 注销函数可重复调用，只有第一次会真正移除并返回 true。
func (s *Store) Register(session *Session, cancel func()) (deregister func() bool) {
	entry := &storeEntry{session: session, cancel: cancel}

	s.mu.Lock()
	old := s.sessions[session.ID]
	s.sessions[session.ID] = entry
	s.wg.Add(1)
	s.mu.Unlock()
	s.opened.Add(1)

	if old != nil {
		s.remove(session.ID, old)
	}

	return func() bool { return s.remove(session.ID, entry) }
}

func (s *Store) remove(id string, entry *storeEntry) bool {
	removed := false
	entry.once.Do(func() {
		s.mu.Lock()
		if s.sessions[id] == entry {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		s.closed.Add(1)
		s.wg.Done()
		removed = true
	})
	return removed
}

// Get 按 id 查找存活的会话
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Has 判断会话是否仍然存活
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Count 当前存活会话数
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List 按创建时间排序返回存活会话
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, entry := range s.sessions {
		out = append(out, entry.session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Stats() Stats {
	return Stats{
		Active: s.Count(),
		Opened: s.opened.Load(),
		Closed: s.closed.Load(),
	}
}

// CancelAll 取消所有存活会话的连接上下文，用于优雅退出。
func (s *Store) CancelAll() int {
	var cancels []func()
	s.mu.RLock()
	for _, entry := range s.sessions {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	s.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Wait 等待所有会话注销，ctx 到期时返回 false。
func (s *Store) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
