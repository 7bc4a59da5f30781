package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"propcopy/internal/platform"
	"propcopy/internal/pool"
)

const (
	defaultJWTSecret      = "default-secret-change-me-in-production"
	defaultCredentialsKey = "default-credentials-key-change-me"
)

// Config содержит конфигурацию приложения
type Config struct {
	Address        string   `env:"ADDRESS" envDefault:"0.0.0.0:8080"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	DryRun         bool     `env:"DRY_RUN" envDefault:"true"` // только логирование, без реальных сделок
	MaxRiskPercent float64  `env:"MAX_RISK_PERCENT" envDefault:"2"`
	MaxTradesDay   int      `env:"MAX_TRADES_PER_DAY" envDefault:"0"` // 0 - без лимита
	WhitelistPath  string   `env:"PROPFIRM_WHITELIST"`                // пусто - встроенный список

	RiskCeilingPercent float64       `env:"RISK_CEILING_PERCENT" envDefault:"100"` // выше - некорректный запрос
	SlaveTimeout       time.Duration `env:"SLAVE_TIMEOUT" envDefault:"2m"`

	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	CredentialsKey string        `env:"CREDENTIALS_KEY"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"./copy_engine.db"`

	RedisAddr     string        `env:"REDIS_ADDR"` // пусто - без кеша
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","` // пусто - без kafka
	KafkaTopic       string   `env:"KAFKA_TOPIC" envDefault:"copy-trades"`
	KafkaEnsureTopic bool     `env:"KAFKA_ENSURE_TOPIC" envDefault:"true"`

	TelegramToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`
	TelegramEndpoint string `env:"TELEGRAM_API_ENDPOINT"`

	EventBuffer int `env:"EVENT_BUFFER" envDefault:"256"`

	Pool     PoolConfig
	Platform PlatformConfig
}

// PoolConfig - параметры пула соединений
type PoolConfig struct {
	MaxAttempts    int           `env:"POOL_MAX_ATTEMPTS" envDefault:"3"`
	HealthInterval time.Duration `env:"POOL_HEALTH_INTERVAL" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"POOL_IDLE_TIMEOUT" envDefault:"5m"`
	HealthTimeout  time.Duration `env:"POOL_HEALTH_TIMEOUT" envDefault:"10s"`
}

// PlatformConfig - учетные данные брокерских API
type PlatformConfig struct {
	Timeout time.Duration `env:"PLATFORM_TIMEOUT" envDefault:"10s"`

	MetaTraderToken   string `env:"METAAPI_TOKEN"`
	MetaTraderBaseURL string `env:"METAAPI_URL"`

	CTraderClientID     string `env:"CTRADER_CLIENT_ID"`
	CTraderClientSecret string `env:"CTRADER_CLIENT_SECRET"`
	CTraderAccessToken  string `env:"CTRADER_ACCESS_TOKEN"`
	CTraderBaseURL      string `env:"CTRADER_URL"`

	MatchTraderAPIKey    string `env:"MATCHTRADER_API_KEY"`
	MatchTraderServerURL string `env:"MATCHTRADER_SERVER_URL"`

	TradeLockerEmail    string `env:"TRADELOCKER_EMAIL"`
	TradeLockerPassword string `env:"TRADELOCKER_PASSWORD"`
	TradeLockerServer   string `env:"TRADELOCKER_SERVER"`
	TradeLockerBaseURL  string `env:"TRADELOCKER_URL"`
}

// Settings преобразует конфигурацию в настройки реестра платформ
func (p PlatformConfig) Settings() platform.Settings {
	return platform.Settings{
		MetaTrader: platform.MetaTraderConfig{
			Token:   p.MetaTraderToken,
			BaseURL: p.MetaTraderBaseURL,
		},
		CTrader: platform.CTraderConfig{
			ClientID:     p.CTraderClientID,
			ClientSecret: p.CTraderClientSecret,
			AccessToken:  p.CTraderAccessToken,
			BaseURL:      p.CTraderBaseURL,
		},
		MatchTrader: platform.MatchTraderConfig{
			APIKey:    p.MatchTraderAPIKey,
			ServerURL: p.MatchTraderServerURL,
		},
		TradeLocker: platform.TradeLockerConfig{
			Email:    p.TradeLockerEmail,
			Password: p.TradeLockerPassword,
			Server:   p.TradeLockerServer,
			BaseURL:  p.TradeLockerBaseURL,
		},
		Timeout: p.Timeout,
	}
}

// Load загружает .env (если есть) и переменные окружения
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("⚠️  Failed to load .env file", slog.Any("error", err))
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.DryRun {
		logger.Info("🔍 DRY_RUN enabled - only logging, no real trades")
	} else {
		logger.Warn("⚠️  DRY_RUN disabled - REAL TRADES WILL BE EXECUTED!")
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret // В продакшене использовать настоящий секрет!

		logger.Warn("⚠️  JWT_SECRET not set, using default (insecure!)")
	}

	if cfg.CredentialsKey == "" {
		cfg.CredentialsKey = defaultCredentialsKey

		logger.Warn("⚠️  CREDENTIALS_KEY not set, broker credentials are encrypted with the default key (insecure!)")
	}

	if cfg.RedisAddr == "" {
		logger.Info("Redis cache disabled")
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		logger.Warn("⚠️  TELEGRAM_CHAT_ID not set, telegram notifications disabled")
		cfg.TelegramToken = ""
	}

	return &cfg, nil
}

// WriteTimeout - дедлайн ответа HTTP API. Запрос копирования ждёт мастера со всеми
// повторами и затем подписчиков, поэтому таймаут выводится из настроек пула.
func (c *Config) WriteTimeout() time.Duration {
	perTrade := time.Duration(c.Pool.MaxAttempts) * c.Platform.Timeout
	for attempt := 2; attempt <= c.Pool.MaxAttempts; attempt++ {
		perTrade += pool.Backoff(attempt)
	}

	slaves := perTrade
	if c.SlaveTimeout > 0 {
		slaves = min(slaves, c.SlaveTimeout)
	}

	return perTrade + slaves + 15*time.Second
}

func (c *Config) validate() error {
	var errs []error

	if c.RiskCeilingPercent <= 0 || c.RiskCeilingPercent > 100 {
		errs = append(errs, fmt.Errorf("RISK_CEILING_PERCENT must be in (0, 100], got %g", c.RiskCeilingPercent))
	}
	if c.MaxRiskPercent <= 0 || c.MaxRiskPercent > c.RiskCeilingPercent {
		errs = append(errs, fmt.Errorf("MAX_RISK_PERCENT must be in (0, %g], got %g", c.RiskCeilingPercent, c.MaxRiskPercent))
	}
	if c.MaxTradesDay < 0 {
		errs = append(errs, fmt.Errorf("MAX_TRADES_PER_DAY must not be negative, got %d", c.MaxTradesDay))
	}
	if c.Pool.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("POOL_MAX_ATTEMPTS must be at least 1, got %d", c.Pool.MaxAttempts))
	}
	if c.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.EventBuffer))
	}

	for i, b := range c.KafkaBrokers {
		c.KafkaBrokers[i] = strings.TrimSpace(b)
	}

	return errors.Join(errs...)
}
