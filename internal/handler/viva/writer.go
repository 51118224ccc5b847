package viva

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/viva/backend/internal/logger"
	model "github.com/zhouzirui/viva/backend/internal/model/viva"
	vivaservice "github.com/zhouzirui/viva/backend/internal/service/viva"
)

// wsConn 是 frameWriter 需要的 *websocket.Conn 子集，测试中可替换
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// frameWriter 串行化同一连接上的所有写操作。
// 一旦写失败或被关闭，后续写入直接返回 ErrSessionEnded。
type frameWriter struct {
	conn      wsConn
	sessionID string
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
}

func newFrameWriter(conn wsConn, sessionID string, timeout time.Duration) *frameWriter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &frameWriter{conn: conn, sessionID: sessionID, timeout: timeout}
}

// SendEvent 写出一个 JSON 文本帧
func (w *frameWriter) SendEvent(msg model.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, data)
}

// SendAudio 写出一个二进制音频帧
func (w *frameWriter) SendAudio(chunk []byte) error {
	return w.write(websocket.BinaryMessage, chunk)
}

func (w *frameWriter) write(kind int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return vivaservice.ErrSessionEnded
	}

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	if err := w.conn.WriteMessage(kind, data); err != nil {
		w.closed = true
		logger.Debug("viva write failed, writer closed", "session", w.sessionID, "bytes", len(data), "err", err)
		return err
	}
	return nil
}

// Ping 发送心跳
func (w *frameWriter) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return vivaservice.ErrSessionEnded
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.timeout))
}

// Close 尽力发送 close 帧并拒绝之后的写入，可重复调用
func (w *frameWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
