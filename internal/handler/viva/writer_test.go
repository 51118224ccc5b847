package viva

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/viva/backend/internal/model/viva"
	vivaservice "github.com/zhouzirui/viva/backend/internal/service/viva"
)

type fakeConn struct {
	writes   []int
	payloads [][]byte
	controls []int
	failOn   int
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	if f.failOn > 0 && len(f.writes)+1 == f.failOn {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, kind)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) WriteControl(kind int, _ []byte, _ time.Time) error {
	f.controls = append(f.controls, kind)
	return nil
}

func TestFrameWriterEncodesEvents(t *testing.T) {
	conn := &fakeConn{}
	w := newFrameWriter(conn, "s1", 0)

	if err := w.SendEvent(model.Question("Why?")); err != nil {
		t.Fatalf("SendEvent err: %v", err)
	}
	if err := w.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio err: %v", err)
	}

	if len(conn.writes) != 2 || conn.writes[0] != websocket.TextMessage || conn.writes[1] != websocket.BinaryMessage {
		t.Fatalf("unexpected frame kinds %v", conn.writes)
	}
	var decoded map[string]any
	if err := json.Unmarshal(conn.payloads[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["event"] != "question" || decoded["text"] != "Why?" {
		t.Fatalf("unexpected payload %v", decoded)
	}
}

func TestFrameWriterStopsAfterFailure(t *testing.T) {
	conn := &fakeConn{failOn: 1}
	w := newFrameWriter(conn, "s1", 0)

	if err := w.SendEvent(model.AudioEnd()); err == nil {
		t.Fatal("expected write error")
	}
	if err := w.SendEvent(model.AudioEnd()); !errors.Is(err, vivaservice.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded after failure, got %v", err)
	}
	if err := w.Ping(); !errors.Is(err, vivaservice.ErrSessionEnded) {
		t.Fatalf("ping after failure: %v", err)
	}
}

func TestFrameWriterClose(t *testing.T) {
	conn := &fakeConn{}
	w := newFrameWriter(conn, "s1", 0)

	if err := w.Ping(); err != nil {
		t.Fatalf("Ping err: %v", err)
	}
	w.Close()
	w.Close()

	if len(conn.controls) != 2 || conn.controls[0] != websocket.PingMessage || conn.controls[1] != websocket.CloseMessage {
		t.Fatalf("unexpected control frames %v", conn.controls)
	}
	if err := w.SendAudio([]byte{1}); !errors.Is(err, vivaservice.ErrSessionEnded) {
		t.Fatalf("write after close: %v", err)
	}
}
