package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/viva/backend/internal/config"
	"github.com/zhouzirui/viva/backend/internal/handler"
	vivahandler "github.com/zhouzirui/viva/backend/internal/handler/viva"
	"github.com/zhouzirui/viva/backend/internal/logger"
	"github.com/zhouzirui/viva/backend/internal/service/ai"
	"github.com/zhouzirui/viva/backend/internal/service/janitor"
	"github.com/zhouzirui/viva/backend/internal/service/questions"
	"github.com/zhouzirui/viva/backend/internal/service/speech"
	"github.com/zhouzirui/viva/backend/internal/service/storage"
	"github.com/zhouzirui/viva/backend/internal/service/viva"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "err", err)
	}

	logger.Setup(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Backend: cfg.Log.Backend})
	if envErr != nil {
		logger.Warn("no .env file loaded, using system environment only", "err", envErr)
	}

	bank := newQuestionBank(ctx, cfg)
	deps := newCollaborators(ctx, cfg)

	vivaCfg := viva.DefaultConfig()
	vivaCfg.HistoryLimit = cfg.Viva.HistoryLimit
	vivaCfg.AudioChunkBytes = cfg.Viva.AudioChunkBytes
	vivaCfg.AudioFormat = cfg.Viva.AudioFormat
	vivaCfg.TurnTimeout = cfg.Viva.TurnTimeout
	if vivaCfg.UnknownEvents, err = viva.ParseUnknownEventPolicy(cfg.Viva.UnknownEvents); err != nil {
		logger.Fatal("invalid VIVA_UNKNOWN_EVENTS", "err", err)
	}
	if vivaCfg.Exhaustion, err = viva.ParseExhaustionPolicy(cfg.Viva.Exhaustion); err != nil {
		logger.Fatal("invalid VIVA_EXHAUSTION", "err", err)
	}

	store := viva.NewStore()
	vivaHandler := vivahandler.New(store, bank, deps.collaborators, vivahandler.Options{
		Orchestrator:  vivaCfg,
		MaxAudioBytes: cfg.Viva.MaxAudioBytes,
		ScratchDir:    cfg.Viva.ScratchDir,
		ReadTimeout:   cfg.Viva.ReadTimeout,
		Seed:          cfg.Viva.RandomSeed,
	})

	sweeper := janitor.New(cfg.Viva.ScratchDir, cfg.Janitor.Schedule, cfg.Janitor.MaxAge, store)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("failed to start janitor", "err", err)
	}

	router := handler.NewRouter(vivaHandler, store, deps.speech, handler.RouterOptions{
		CORSOrigins:    cfg.Server.CORSOrigins,
		SpeechLanguage: cfg.Speech.ASRLanguage,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("viva backend listening", "addr", cfg.Server.Addr, "questions", bank.Len())
	if err := runServer(ctx, srv, store); err != nil {
		logger.Error("server error", "err", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sweeper.Stop(stopCtx)
}

type collaborators struct {
	collaborators viva.Collaborators
	speech        *speech.Service
}

// newCollaborators 缺失的外部能力只记录告警，会话在用到时返回错误事件
func newCollaborators(ctx context.Context, cfg *config.Config) collaborators {
	var out collaborators

	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			logger.Warn("AI service unavailable", "provider", cfg.AI.ResolveProvider(), "err", err)
		} else {
			out.collaborators.Generator = aiService
			logger.Info("AI service initialized", "provider", aiService.Provider())
		}
	} else {
		logger.Warn("AI credentials not configured, replies disabled", "provider", cfg.AI.ResolveProvider())
	}

	speechService, err := speech.NewService(cfg.Speech.Model())
	if err != nil {
		logger.Warn("speech service unavailable", "err", err)
		return out
	}
	out.speech = speechService
	if speechService.CanTranscribe() {
		out.collaborators.Transcriber = speechService
	}
	if speechService.CanSynthesize() {
		out.collaborators.Synthesizer = speechService
	}
	logger.Info("speech service initialized",
		"transcribe", speechService.Provider(),
		"synthesize", speechService.CanSynthesize())
	return out
}

// newQuestionBank 依次加载种子文件与对象存储中的上次上传
func newQuestionBank(ctx context.Context, cfg *config.Config) *questions.Bank {
	var seed []string
	if path := cfg.Viva.QuestionsFile; path != "" {
		items, err := questions.LoadFile(path)
		if err != nil {
			logger.Warn("question seed not loaded", "path", path, "err", err)
		} else {
			seed = items
		}
	}

	if !cfg.Storage.Enabled() {
		return questions.NewBank(seed)
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
	})
	if err != nil {
		logger.Warn("object storage disabled", "err", err)
		return questions.NewBank(seed)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(initCtx); err != nil {
		logger.Warn("object storage disabled", "bucket", cfg.Storage.Bucket, "err", err)
		return questions.NewBank(seed)
	}

	bank := questions.NewBank(seed, questions.WithObjectStore(client, client.Bucket()))
	switch n, err := bank.Restore(initCtx); {
	case errors.Is(err, storage.ErrObjectNotFound):
		logger.Info("no persisted question set yet", "bucket", client.Bucket())
	case err != nil:
		logger.Warn("question set restore failed", "err", err)
	case n > 0:
		logger.Info("question set restored", "bucket", client.Bucket(), "questions", n)
	}
	return bank
}

func runServer(ctx context.Context, srv *http.Server, store *viva.Store) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Shutdown 不会等待已被劫持的 websocket 连接
		_ = srv.Shutdown(shutdownCtx)
		if n := store.CancelAll(); n > 0 {
			logger.Info("cancelled live sessions", "count", n)
		}
		if !store.Wait(shutdownCtx) {
			logger.Warn("sessions still draining at shutdown", "count", store.Count())
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
