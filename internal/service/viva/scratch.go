package viva

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ScratchPrefix 会话临时目录名前缀，janitor 依此识别孤儿目录
const ScratchPrefix = "viva-"

// Scratch 单个会话的临时目录，用于落盘待转写的语音
type Scratch struct {
	dir string
}

// NewScratch 在 root 下为会话创建独立目录
func NewScratch(root, sessionID string) (*Scratch, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, ScratchPrefix+sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// SessionIDFromScratch 从目录名解析会话 id
func SessionIDFromScratch(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, ScratchPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (s *Scratch) Dir() string {
	return s.dir
}

// Spool 把一段完整语音写入临时文件
func (s *Scratch) Spool(data []byte, format string) (*Blob, error) {
	if format == "" {
		format = "wav"
	}
	f, err := os.CreateTemp(s.dir, "utterance-*."+format)
	if err != nil {
		return nil, fmt.Errorf("create audio blob: %w", err)
	}

	blob := &Blob{Path: f.Name(), Size: len(data), Format: format}
	if _, err := f.Write(data); err != nil {
		f.Close()
		blob.Release()
		return nil, fmt.Errorf("write audio blob: %w", err)
	}
	if err := f.Close(); err != nil {
		blob.Release()
		return nil, fmt.Errorf("close audio blob: %w", err)
	}
	return blob, nil
}

// Remove 删除整个会话目录
func (s *Scratch) Remove() error {
	return os.RemoveAll(s.dir)
}

// Blob 一轮处理使用的落盘语音
type Blob struct {
	Path   string
	Size   int
	Format string
}

func (b *Blob) Open() (*os.File, error) {
	return os.Open(b.Path)
}

// Release 删除临时文件，可重复调用
func (b *Blob) Release() error {
	if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
