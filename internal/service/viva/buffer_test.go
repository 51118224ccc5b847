package viva

import (
	"errors"
	"testing"
)

func TestUtteranceBufferFlushConcatenatesInOrder(t *testing.T) {
	buf := NewUtteranceBuffer(0)
	for _, part := range []string{"ab", "", "cd", "e"} {
		if err := buf.Append([]byte(part)); err != nil {
			t.Fatalf("Append(%q) err: %v", part, err)
		}
	}

	got, err := buf.Flush()
	if err != nil {
		t.Fatalf("Flush err: %v", err)
	}
	if string(got) != "abcde" {
		t.Fatalf("Flush = %q, want abcde", got)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer must be empty after flush, len=%d", buf.Len())
	}
}

func TestUtteranceBufferEmptyFlush(t *testing.T) {
	buf := NewUtteranceBuffer(0)
	if _, err := buf.Flush(); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestUtteranceBufferLimit(t *testing.T) {
	buf := NewUtteranceBuffer(4)

	if err := buf.Append([]byte("abc")); err != nil {
		t.Fatalf("first append err: %v", err)
	}
	if err := buf.Append([]byte("de")); !errors.Is(err, ErrAudioLimit) {
		t.Fatalf("expected ErrAudioLimit on first overflow, got %v", err)
	}
	if err := buf.Append([]byte("fg")); err != nil {
		t.Fatalf("repeated overflow must be silent, got %v", err)
	}

	got, err := buf.Flush()
	if err != nil {
		t.Fatalf("Flush err: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("Flush = %q, want abc", got)
	}

	// 新的一段语音重新计数
	if err := buf.Append([]byte("wxyz")); err != nil {
		t.Fatalf("append after flush err: %v", err)
	}
}

func TestUtteranceBufferReset(t *testing.T) {
	buf := NewUtteranceBuffer(0)
	_ = buf.Append([]byte("data"))
	buf.Reset()
	if _, err := buf.Flush(); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio after reset, got %v", err)
	}
}
