package viva

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/viva/backend/internal/logger"
	model "github.com/zhouzirui/viva/backend/internal/model/viva"
	"github.com/zhouzirui/viva/backend/internal/service/questions"
	vivaservice "github.com/zhouzirui/viva/backend/internal/service/viva"
)

type inboundFrame struct {
	kind int
	data []byte
}

// serveWS 是单个连接的 pump：读帧、分派给编排器，断开时清理会话
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("viva websocket upgrade failed", "err", err)
		return
	}

	sessionID := uuid.NewString()
	clientID := r.URL.Query().Get("client_id")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := vivaservice.NewSession(sessionID, clientID, h.opts.MaxAudioBytes, questions.NewRand(h.opts.Seed))
	scratch, err := vivaservice.NewScratch(h.opts.ScratchDir, sessionID)
	if err != nil {
		logger.Warn("viva scratch dir unavailable, audio stays in memory", "session", sessionID, "err", err)
		scratch = nil
	}
	writer := newFrameWriter(conn, sessionID, h.opts.WriteTimeout)
	orch := vivaservice.NewOrchestrator(session, writer, scratch, h.bank, h.deps, h.opts.Orchestrator)
	deregister := h.store.Register(session, cancel)

	logger.Info("viva connection opened", "session", sessionID, "client", clientID, "remote", r.RemoteAddr)

	defer func() {
		orch.Close()
		writer.Close()
		conn.Close()
		// 连接已断开即不再计入活跃会话；在途的一轮只需等它释放临时文件
		deregister()
		logger.Info("viva connection closed", "session", sessionID, "client", clientID)

		waitCtx, stop := context.WithTimeout(context.Background(), h.drainTimeout())
		defer stop()
		if !orch.Wait(waitCtx) {
			logger.Warn("viva turn still running after connection closed", "session", sessionID)
		}
		if scratch != nil {
			if err := scratch.Remove(); err != nil {
				logger.Warn("viva failed to remove scratch dir", "session", sessionID, "err", err)
			}
		}
	}()

	frames := make(chan inboundFrame)
	readErr := make(chan error, 1)
	go h.readLoop(ctx, conn, frames, readErr)
	go h.pingLoop(ctx, writer)

	for {
		select {
		case <-ctx.Done():
			logger.Info("viva connection cancelled", "session", sessionID)
			return
		case <-orch.Done():
			return
		case err := <-readErr:
			if isDisconnect(err) {
				logger.Info("viva client disconnected", "session", sessionID)
			} else {
				logger.Warn("viva read failed", "session", sessionID, "err", err)
			}
			return
		case f := <-frames:
			h.dispatch(ctx, orch, f)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, orch *vivaservice.Orchestrator, f inboundFrame) {
	switch f.kind {
	case websocket.BinaryMessage:
		orch.AppendAudio(f.data)
	case websocket.TextMessage:
		ev, err := model.DecodeEvent(f.data)
		if err != nil {
			logger.Warn("viva dropped malformed frame", "session", orch.Session().ID, "bytes", len(f.data), "err", err)
			return
		}
		logger.Debug("viva event received", "session", orch.Session().ID, "event", ev.Name())
		orch.Handle(ctx, ev)
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, frames chan<- inboundFrame, errc chan<- error) {
	timeout := h.opts.ReadTimeout
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		select {
		case frames <- inboundFrame{kind: kind, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, writer *frameWriter) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.Ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) drainTimeout() time.Duration {
	if h.opts.Orchestrator.TurnTimeout > 0 {
		return h.opts.Orchestrator.TurnTimeout
	}
	return vivaservice.DefaultConfig().TurnTimeout
}

// isDisconnect 判断是否为正常的连接断开
func isDisconnect(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
