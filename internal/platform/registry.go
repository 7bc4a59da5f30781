package platform

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Factory создает клиент платформы для номера счёта
type Factory func(accountID string) (Client, error)

// Settings - учетные данные всех платформ из конфигурации
type Settings struct {
	MetaTrader  MetaTraderConfig
	CTrader     CTraderConfig
	MatchTrader MatchTraderConfig
	TradeLocker TradeLockerConfig
	Timeout     time.Duration
}

// Registry сопоставляет платформу с фабрикой клиентов
type Registry struct {
	mu        sync.RWMutex
	factories map[Platform]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Platform]Factory)}
}

// NewRegistryFromSettings регистрирует только платформы с заполненными учетными данными.
// Запрос к незарегистрированной платформе сразу завершается ErrUnsupportedPlatform.
func NewRegistryFromSettings(s Settings, logger *slog.Logger) *Registry {
	r := NewRegistry()

	if s.MetaTrader.Token != "" {
		cfg := s.MetaTrader
		cfg.Timeout = s.Timeout
		r.Register(MetaTrader, func(accountID string) (Client, error) {
			return NewMetaTraderClient(cfg, accountID, logger), nil
		})
	}

	if s.CTrader.AccessToken != "" {
		cfg := s.CTrader
		cfg.Timeout = s.Timeout
		r.Register(CTrader, func(accountID string) (Client, error) {
			return NewCTraderClient(cfg, accountID, logger), nil
		})
	}

	if s.MatchTrader.APIKey != "" {
		cfg := s.MatchTrader
		cfg.Timeout = s.Timeout
		r.Register(MatchTrader, func(accountID string) (Client, error) {
			return NewMatchTraderClient(cfg, accountID, logger), nil
		})
	}

	if s.TradeLocker.Email != "" && s.TradeLocker.Password != "" {
		cfg := s.TradeLocker
		cfg.Timeout = s.Timeout
		r.Register(TradeLocker, func(accountID string) (Client, error) {
			return NewTradeLockerClient(cfg, accountID, logger), nil
		})
	}

	for _, p := range []Platform{MetaTrader, CTrader, MatchTrader, TradeLocker} {
		if !r.Supports(p) {
			logger.Warn("⚠️  Platform credentials not configured, platform disabled",
				slog.String("platform", string(p)))
		}
	}

	logger.Info("✅ Platform registry ready", slog.Any("platforms", r.Platforms()))

	return r
}

// Register добавляет или заменяет фабрику платформы
func (r *Registry) Register(p Platform, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[p] = f
}

// Supports возвращает true, если платформа зарегистрирована
func (r *Registry) Supports(p Platform) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[p]
	return ok
}

// Platforms возвращает отсортированный список зарегистрированных платформ
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	platforms := make([]Platform, 0, len(r.factories))
	for p := range r.factories {
		platforms = append(platforms, p)
	}
	slices.Sort(platforms)

	return platforms
}

// NewClient создает клиент платформы для номера счёта
func (r *Registry) NewClient(p Platform, accountID string) (Client, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}

	return f(accountID)
}
