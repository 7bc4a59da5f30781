package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"propcopy/internal/api"
	"propcopy/internal/auth"
	"propcopy/internal/compliance"
	"propcopy/internal/config"
	"propcopy/internal/copytrading"
	"propcopy/internal/events"
	"propcopy/internal/platform"
	"propcopy/internal/pool"
	"propcopy/internal/secrets"
	"propcopy/internal/storage"
)

// appStorage - хранилище целиком: его используют API, движок и риск-менеджер.
// Реализуется storage.Store и storage.CachedStore.
type appStorage interface {
	api.Storage
	copytrading.GroupStorage
	copytrading.TradeStorage
	compliance.TradeCounter
	Close() error
}

func main() {
	// Конфигурация slog для вывода в файл и stdout
	logFileName := os.Getenv("LOG_FILE")
	if logFileName == "" {
		logFileName = "copy_engine.log"
	}

	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()

	// Pretty handler для stdout с цветами
	prettyHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	})

	// Обычный текстовый handler для файла
	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{prettyHandler, fileHandler},
	})

	logger.Info("=== Prop Firm Copy Trading Engine ===")

	if err := run(logger); err != nil {
		logger.Error("Engine stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	box, err := secrets.NewBox(cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("failed to init credentials box: %w", err)
	}

	// Инициализация БД
	store, err := openStorage(ctx, cfg, box, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	whitelist, err := compliance.LoadWhitelist(cfg.WhitelistPath)
	if err != nil {
		return err
	}

	// Брокерские платформы и пул соединений
	registry := platform.NewRegistryFromSettings(cfg.Platform.Settings(), logger)
	if len(registry.Platforms()) == 0 {
		logger.Warn("⚠️  No broker platforms configured, only dry-run execution is possible")
	}

	connPool := pool.New(registry, logger,
		pool.WithMaxAttempts(cfg.Pool.MaxAttempts),
		pool.WithHealthInterval(cfg.Pool.HealthInterval),
		pool.WithIdleTimeout(cfg.Pool.IdleTimeout),
		pool.WithHealthTimeout(cfg.Pool.HealthTimeout),
	)

	// Уведомления
	hub := events.NewHub(logger)
	defer hub.Close()

	sinks := []events.Sink{hub}

	if cfg.TelegramToken != "" {
		bot, err := events.NewTelegramBot(cfg.TelegramToken, cfg.TelegramEndpoint, logger)
		if err != nil {
			logger.Warn("⚠️  Telegram notifications disabled", slog.Any("error", err))
		} else {
			sinks = append(sinks, events.NewTelegramSink(bot, cfg.TelegramChatID, logger))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		if cfg.KafkaEnsureTopic {
			events.EnsureTopic(ctx, cfg.KafkaBrokers[0], cfg.KafkaTopic, logger)
		}

		kafkaSink := events.NewKafkaSink(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), cfg.KafkaTopic)
		defer kafkaSink.Close()

		sinks = append(sinks, kafkaSink)
	}

	dispatcher := events.NewDispatcher(logger, cfg.EventBuffer, sinks...)

	// Исполнитель: пул или dry-run
	var executor copytrading.Executor = connPool
	if cfg.DryRun {
		executor = copytrading.NewDryRunExecutor(logger)
	}

	gate := compliance.NewGate(whitelist, compliance.NewRiskManager(compliance.RiskLimits{
		MaxRiskPerTrade: cfg.MaxRiskPercent,
		MaxTradesPerDay: cfg.MaxTradesDay,
	}, store), logger)

	engine := copytrading.NewEngine(store, store, store, executor, logger,
		copytrading.WithGate(gate),
		copytrading.WithMaxRisk(cfg.RiskCeilingPercent),
		copytrading.WithSlaveTimeout(cfg.SlaveTimeout),
		copytrading.WithObserver(dispatcher),
	)

	authService := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)

	apiHandler := api.New(store, engine, connPool, whitelist, hub, authService, logger)

	// HTTP сервер
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      apiHandler.SetupRouter(cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	bgDone := make(chan struct{}, 2)

	go func() {
		connPool.Run(bgCtx)
		bgDone <- struct{}{}
	}()
	go func() {
		dispatcher.Run(bgCtx)
		bgDone <- struct{}{}
	}()

	serveErr := make(chan error, 1)

	go func() {
		logger.Info("🚀 Server starting...", slog.String("address", cfg.Address))
		logger.Info(fmt.Sprintf("📡 API available at http://%s/api", cfg.Address))
		logger.Info(fmt.Sprintf("🏥 Health check at http://%s/health", cfg.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancelBg()
			return fmt.Errorf("server failed to start: %w", err)
		}
	}

	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	// Диспетчер дочитывает очередь после отмены
	cancelBg()
	for range 2 {
		select {
		case <-bgDone:
		case <-shutdownCtx.Done():
			logger.Warn("⚠️  Background workers did not stop in time")
			return nil
		}
	}

	if dropped := dispatcher.Dropped(); dropped > 0 {
		logger.Warn("⚠️  Events dropped", slog.Int64("count", dropped))
	}

	logger.Info("✅ Server stopped")

	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, box *secrets.Box, logger *slog.Logger) (appStorage, error) {
	dialect, err := storage.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, dialect, cfg.DBDSN, box, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.RedisAddr == "" {
		return store, nil
	}

	rdb, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		// Кеш необязателен: работаем напрямую с БД
		logger.Warn("⚠️  Redis unavailable, cache disabled", slog.Any("error", err))
		return store, nil
	}

	logger.Info("✅ Redis cache enabled", slog.String("addr", cfg.RedisAddr), slog.Duration("ttl", cfg.CacheTTL))

	return storage.NewCachedStore(store, rdb, cfg.CacheTTL, logger), nil
}

// multiHandler отправляет логи в несколько handlers одновременно
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}

	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}

	return &multiHandler{handlers: handlers}
}
