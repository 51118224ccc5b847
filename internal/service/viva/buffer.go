package viva

import "sync"

// UtteranceBuffer 累积同一段语音的二进制分片，直到收到边界事件。
// 连接读循环追加、处理协程取出，两者通过互斥锁保证边界与下一帧不会交错。
type UtteranceBuffer struct {
	mu        sync.Mutex
	fragments [][]byte
	size      int
	limit     int
	overflow  bool
}

// NewUtteranceBuffer limit<=0 表示不限制总大小
func NewUtteranceBuffer(limit int) *UtteranceBuffer {
	return &UtteranceBuffer{limit: limit}
}

// Append 追加一个分片，调用方不应再修改该切片。
// 超过上限的分片会被丢弃；同一段语音只在第一次溢出时返回 ErrAudioLimit。
func (b *UtteranceBuffer) Append(fragment []byte) error {
	if len(fragment) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && b.size+len(fragment) > b.limit {
		if b.overflow {
			return nil
		}
		b.overflow = true
		return ErrAudioLimit
	}

	b.fragments = append(b.fragments, fragment)
	b.size += len(fragment)
	return nil
}

// Flush 按到达顺序拼接所有分片并清空缓冲区；没有数据时返回 ErrNoAudio。
func (b *UtteranceBuffer) Flush() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil, ErrNoAudio
	}

	out := make([]byte, 0, b.size)
	for _, f := range b.fragments {
		out = append(out, f...)
	}
	b.resetLocked()
	return out, nil
}

// Reset 丢弃所有未处理的音频
func (b *UtteranceBuffer) Reset() {
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()
}

// Len 返回当前缓存的字节数
func (b *UtteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *UtteranceBuffer) resetLocked() {
	b.fragments = nil
	b.size = 0
	b.overflow = false
}
