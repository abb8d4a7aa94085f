package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"group-chatter/internal/admin"
	"group-chatter/internal/auth"
	"group-chatter/internal/batcher"
	"group-chatter/internal/config"
	"group-chatter/internal/dispatch"
	"group-chatter/internal/history"
	"group-chatter/internal/llm"
	"group-chatter/internal/logging"
	"group-chatter/internal/metrics"
	"group-chatter/internal/oracle"
	"group-chatter/internal/ratelimit"
	"group-chatter/internal/scheduler"
	"group-chatter/internal/stats"
	"group-chatter/internal/storage"
	"group-chatter/internal/telegram"
	"group-chatter/internal/tokens"
)

func main() {
	envErr := godotenv.Load(".env")

	cfg := config.New()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, FilePath: cfg.LogFilePath})
	if envErr != nil {
		logger.Debug().Err(envErr).Msg(".env file not loaded")
	}

	cfg.SystemPrompt = readSystemPrompt(logger, cfg.SystemPromptPath)
	policy, err := config.LoadPolicy(cfg.PolicyFilePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load policy")
	}
	cfg.Apply(policy)
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = oracle.DefaultSystemPrompt(cfg.BotName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	started := time.Now()

	// Oracles
	factory := llm.NewFactory(cfg)
	factory.Logger = logger
	judgeClient, err := factory.CreateClient(string(cfg.LLMProvider), cfg.JudgeModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create judge client")
	}
	genClient, err := factory.CreateClient(string(cfg.LLMProvider), cfg.GeneratorModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create generator client")
	}
	judge := oracle.NewJudge(judgeClient, cfg.SystemPrompt, cfg.OracleTimeout)
	generator := oracle.NewGenerator(genClient, cfg.SystemPrompt, cfg.OracleTimeout)

	// Conversation cache
	store := history.NewStore(history.Options{
		Estimator:           tokens.NewEstimator(cfg.CharsPerToken),
		MaxTokensPerChannel: cfg.MaxTokensPerChannel,
		Retention:           cfg.MessageExpiry,
		Location:            cfg.Location(),
	})
	snapshot, err := storage.NewSnapshotFile(cfg.CacheFilePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init cache file")
	}
	store.Restore(snapshot.Load())
	restored := store.StatsAll()
	logger.Info().Int("channels", restored.Channels).Int("messages", restored.Messages).Msg("conversation cache restored")

	var rec storage.Recorder
	if cfg.InteractionLogPath != "" {
		fr, err := storage.NewFileRecorder(cfg.InteractionLogPath)
		if err != nil {
			logger.Warn().Err(err).Msg("interaction log disabled")
		} else {
			rec = fr
		}
	}

	limiter := newLimiter(ctx, cfg, logger)

	var adminRepo auth.Repository
	if cfg.AdminsFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.AdminsFilePath)
		if err != nil {
			logger.Warn().Err(err).Msg("admins file disabled")
		} else {
			adminRepo = repo
		}
	}
	authSvc, err := auth.NewWithRepo(adminRepo, cfg.AdminUsers)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init auth")
	}
	adminSvc := admin.NewService(store, snapshot, rec, started, cfg.Location())

	bot, err := telegram.New(cfg.TelegramBotToken, adminSvc, authSvc, telegram.Options{
		BotName:        cfg.BotName,
		CommandEnabled: cfg.CommandEnabled,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create bot")
	}

	d := dispatch.New(dispatch.Deps{
		Store:     store,
		Saver:     snapshot,
		Judge:     judge,
		Generator: generator,
		Sender:    bot,
		Limiter:   limiter,
		Recorder:  rec,
		Logger:    logger,
	}, dispatch.Config{
		BotName:                 cfg.BotName,
		ListenOnly:              cfg.ListenOnly,
		ScoreThreshold:          cfg.ScoreThreshold,
		JudgeHistoryTokens:      cfg.JudgeHistoryTokens,
		GenerationHistoryTokens: cfg.GenerationHistoryTokens,
	})
	b := batcher.New(d.Dispatch, batcher.Options{Window: cfg.BatchWindow, Logger: logger})
	batcherDone := make(chan struct{})
	go func() {
		defer close(batcherDone)
		b.Run(ctx)
	}()

	// Periodic jobs
	sched := scheduler.New(logger)
	if cfg.StatsFilePath != "" {
		sink, err := stats.NewFileSink(cfg.StatsFilePath)
		if err != nil {
			logger.Warn().Err(err).Msg("stats file disabled")
		} else {
			pub := stats.NewPublisher(store, sink, started, logger)
			if err := sched.Add("stats", cfg.StatsSchedule, pub.Publish); err != nil {
				logger.Warn().Err(err).Msg("stats job not scheduled")
			}
		}
	}
	if err := sched.Add("snapshot", cfg.SnapshotSchedule, func(context.Context) error {
		return saveSnapshot(snapshot, store)
	}); err != nil {
		logger.Warn().Err(err).Msg("snapshot job not scheduled")
	}
	sched.Start()

	var srv *http.Server
	if cfg.AdminAddr != "" {
		srv = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           admin.NewRouter(logger, adminSvc, cfg.AdminToken),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.AdminAddr).Msg("admin server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	logger.Info().Str("bot", cfg.BotName).Dur("window", cfg.BatchWindow).Int("threshold", cfg.ScoreThreshold).Msg("bot started")
	if err := bot.Run(ctx, b); err != nil {
		logger.Error().Err(err).Msg("telegram loop stopped")
	}
	stop()

	// Pending batches are flushed by the batcher before it returns.
	<-batcherDone
	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := saveSnapshot(snapshot, store); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}
	if closer, ok := limiter.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	logger.Info().Msg("shutdown complete")
}

func newLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ratelimit.Limiter {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemory(cfg.RateLimit)
	}
	r, err := ratelimit.NewRedisFromURL(ctx, cfg.RedisURL, cfg.RateLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-process rate limit")
		return ratelimit.NewMemory(cfg.RateLimit)
	}
	return r
}

func saveSnapshot(f *storage.SnapshotFile, store *history.Store) error {
	if err := f.SaveFrom(store); err != nil {
		metrics.SnapshotSaves.WithLabelValues("error").Inc()
		return err
	}
	metrics.SnapshotSaves.WithLabelValues("ok").Inc()
	return nil
}

func readSystemPrompt(logger zerolog.Logger, path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("system prompt file not read")
		return ""
	}
	return strings.TrimSpace(string(data))
}
