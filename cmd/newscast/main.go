package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"newscast/internal/audio"
	"newscast/internal/config"
	"newscast/internal/fetch"
	"newscast/internal/filter"
	"newscast/internal/provider/blob"
	"newscast/internal/provider/llm"
	"newscast/internal/provider/quota"
	"newscast/internal/provider/voice"
	"newscast/internal/publish"
	"newscast/internal/runner"
	"newscast/internal/script"
	"newscast/internal/storage"
	"newscast/internal/tts"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.BlobDir} {
		if dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	telegram, err := publish.NewTelegram(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create telegram adapter", "error", err)
		os.Exit(1)
	}

	generator := llm.New(cfg.LLMEndpoint, cfg.LLMModel, cfg.LLMAPIKey)
	fetcher := fetch.New(http.DefaultClient, log)
	pipeline := filter.New(store, filter.NewLLMRanker(generator), log)
	aggregator := script.New(generator, log)
	speech := tts.New(voice.New(cfg.VoiceEndpoint, cfg.VoiceAPIKey), log)
	stitcher := audio.New(log)
	publisher := publish.New(telegram, publish.NewPush(cfg.PushEndpoint), log)
	blobs := blob.NewFS(cfg.BlobDir, cfg.BlobBaseURL)
	quotas := quota.NewHTTP(cfg.QuotaEndpoint)

	orch := runner.NewOrchestrator(store, fetcher, pipeline, aggregator, speech,
		stitcher, publisher, blobs, quotas, log)
	sched := runner.NewScheduler(store, orch, fetcher, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting scheduler")

	sched.Run(ctx)

	log.Info("scheduler stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
