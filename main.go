package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pathakanu/memobot/internal/bot"
	"github.com/pathakanu/memobot/internal/config"
	"github.com/pathakanu/memobot/internal/convo"
	"github.com/pathakanu/memobot/internal/database"
	"github.com/pathakanu/memobot/internal/intent"
	"github.com/pathakanu/memobot/internal/metrics"
	myopenai "github.com/pathakanu/memobot/internal/openai"
	"github.com/pathakanu/memobot/internal/reminder"
	"github.com/pathakanu/memobot/internal/scheduler"
	"github.com/pathakanu/memobot/internal/store"
	"github.com/pathakanu/memobot/internal/temporal"
	"github.com/pathakanu/memobot/internal/twilio"
	"github.com/pathakanu/memobot/internal/weather"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const draftKeyPrefix = "memobot:draft:"

func main() {
	cfg := config.Load()
	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, logger.Named("database"))
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	clock := clockwork.NewRealClock()

	drafts := newDraftStore(cfg, clock, logger)
	reminders := store.NewReminderStore(db)
	sessions := store.NewSessionStore(db)

	openAIClient := myopenai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel).WithLocation(cfg.LocalTimezone)
	if !openAIClient.Enabled() {
		logger.Warn("OPENAI_API_KEY not set; every message will get the fallback reply")
	}
	logger.Info("twilio configured", zap.String("from", cfg.TwilioWhatsAppNumber))
	twilioClient := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, cfg.SendTimeout, logger.Named("twilio"))

	builder := reminder.New(openAIClient, reminders, drafts, temporal.New(cfg.LocalTimezone), reminder.Options{
		DefaultLead:    cfg.DefaultNotifyLead,
		AskForOffset:   cfg.AskNotifyOffset,
		NearMissBuffer: cfg.NearMissBuffer,
		DraftTTL:       cfg.DraftTTL,
		Clock:          clock,
		Logger:         logger.Named("reminder"),
		Metrics:        m,
	})

	reminderBot := bot.New(cfg, bot.Deps{
		Reminders:  reminders,
		Sessions:   sessions,
		Drafts:     drafts,
		Builder:    builder,
		Classifier: intent.NewClassifier(openAIClient, logger.Named("intent"), m),
		Assistant:  openAIClient,
		Weather:    weather.New(0, logger.Named("weather")),
		Messenger:  twilioClient,
		Clock:      clock,
		Logger:     logger.Named("bot"),
		Metrics:    m,
	})

	sched := scheduler.New(reminders, twilioClient, scheduler.Options{
		PollInterval: cfg.PollInterval,
		Lookback:     cfg.LookbackWindow,
		Workers:      cfg.DeliveryWorkers,
		SendTimeout:  cfg.SendTimeout,
		Retention:    cfg.Retention,
		Location:     cfg.LocalTimezone,
		Clock:        clock,
		Directory:    sessions,
	}, logger.Named("scheduler"), m)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if err := sched.Start(runCtx); err != nil {
		logger.Fatal("scheduler start", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/twilio/webhook", reminderBot.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	waitForShutdown(server, sched, reminderBot, logger)
	stopRun()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

// newDraftStore uses Redis when CONTEXT_REDIS_URL is set and reachable, and
// the in-process cache otherwise.
func newDraftStore(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) convo.Store {
	if cfg.ContextRedisURL == "" {
		return convo.NewMemoryStore(clock)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := convo.NewRedisClient(ctx, cfg.ContextRedisURL)
	if err != nil {
		logger.Warn("redis unavailable, keeping drafts in memory", zap.Error(err))
		return convo.NewMemoryStore(clock)
	}
	return convo.NewRedisStore(client, draftKeyPrefix, logger.Named("convo"))
}

func waitForShutdown(server *http.Server, sched *scheduler.Scheduler, reminderBot *bot.Bot, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	sched.Stop()
	if err := reminderBot.Shutdown(ctx); err != nil {
		logger.Warn("bot shutdown", zap.Error(err))
	}
}
