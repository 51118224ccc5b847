package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/viva/backend/internal/logger"
	speechmodel "github.com/zhouzirui/viva/backend/internal/model/speech"
)

const defaultVolcengineHost = "wss://openspeech.bytedance.com"

const (
	asrPath = "/api/v3/sauc/bigmodel_nostream"
	ttsPath = "/api/v3/tts/unidirectional/stream"
)

var errMissingCredentials = errors.New("volcengine speech config missing AppID or AccessToken")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", errMissingCredentials
	}
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", errMissingCredentials
	}
	return appID, token, nil
}

func volcengineURL(cfg *speechmodel.SpeechConfig, path string) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultVolcengineHost
	}
	return base + path
}

func newDialer(cfg *speechmodel.SpeechConfig) *websocket.Dialer {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &websocket.Dialer{HandshakeTimeout: timeout}
}

// dialVolcengine 建立带鉴权头的 websocket 连接
func dialVolcengine(ctx context.Context, dialer *websocket.Dialer, cfg *speechmodel.SpeechConfig, path, resourceID, connectID string) (*websocket.Conn, error) {
	appID, token, err := resolveCredentials(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := dialer.DialContext(ctx, volcengineURL(cfg, path), header)
	if err != nil {
		return nil, fmt.Errorf("dial volcengine %s: %w", path, err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			logger.Debug("volcengine connected", "path", path, "resource", resourceID, "logid", logid)
		}
	}
	return conn, nil
}

func writeFrame(conn *websocket.Conn, f *frame) error {
	data, err := f.marshal()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func readFrame(conn *websocket.Conn) (*frame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return parseFrame(data)
}

// closeOnDone ctx 结束时关闭连接以打断阻塞的读
func closeOnDone(ctx context.Context, conn *websocket.Conn) (stop func() bool) {
	return context.AfterFunc(ctx, func() { conn.Close() })
}
