package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/zhouzirui/viva/backend"

var log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Options 控制日志输出
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // text, json
	Backend string // stderr, otel
}

// Setup 按配置替换全局 logger，并同步到 slog 默认实例。
func Setup(opts Options) {
	log = New(os.Stderr, opts)
	slog.SetDefault(log)
}

// New 构造一个独立的 logger，测试里可以传入 io.Discard。
func New(w io.Writer, opts Options) *slog.Logger {
	if strings.EqualFold(opts.Backend, "otel") {
		return slog.New(otelslog.NewHandler(scopeName))
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// ParseLevel 将字符串转换为 slog.Level，未知值回退到 info。
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L 返回当前的全局 logger
func L() *slog.Logger {
	return log
}

func Debug(msg string, args ...any) {
	log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
