// Package pool кэширует клиентов платформ по паре (платформа, счёт),
// исполняет ордера с повторами и собирает метрики задержки по платформам.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"propcopy/internal/platform"
)

// Factory создает клиента платформы. Реализуется platform.Registry.
type Factory interface {
	NewClient(p platform.Platform, accountID string) (platform.Client, error)
}

type connKey struct {
	platform  platform.Platform
	accountID string
}

type entry struct {
	client   platform.Client
	lastUsed time.Time
	healthy  bool
}

// ConnInfo - снимок соединения пула
type ConnInfo struct {
	Platform  platform.Platform `json:"platform"`
	AccountID string            `json:"account_id"`
	LastUsed  time.Time         `json:"last_used"`
	Healthy   bool              `json:"healthy"`
}

type options struct {
	maxAttempts    int
	healthInterval time.Duration
	idleTimeout    time.Duration
	healthTimeout  time.Duration
	healthWorkers  int
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option настраивает пул
type Option func(*options)

func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithHealthInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.healthInterval = d
		}
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

func WithHealthTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.healthTimeout = d
		}
	}
}

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleep подменяет ожидание между попытками (для тестов)
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// Pool - общий для процесса пул соединений и оптимизатор задержки.
// Все изменения карт идут под mu; сетевые вызовы делаются без блокировки.
type Pool struct {
	factory Factory
	logger  *slog.Logger
	opts    options

	mu      sync.Mutex
	conns   map[connKey]*entry
	metrics map[platform.Platform]*LatencyMetric
}

// New создает пул
func New(factory Factory, logger *slog.Logger, opts ...Option) *Pool {
	o := options{
		maxAttempts:    3,
		healthInterval: 30 * time.Second,
		idleTimeout:    5 * time.Minute,
		healthTimeout:  10 * time.Second,
		healthWorkers:  8,
		now:            time.Now,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Pool{
		factory: factory,
		logger:  logger,
		opts:    o,
		conns:   make(map[connKey]*entry),
		metrics: make(map[platform.Platform]*LatencyMetric),
	}
}

// Get возвращает здорового клиента из пула или создает нового.
// Нездоровая запись заменяется свежим клиентом.
func (p *Pool) Get(ctx context.Context, pl platform.Platform, accountID string) (platform.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := connKey{platform: pl, accountID: accountID}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.conns[k]; ok && e.healthy {
		e.lastUsed = p.opts.now()
		return e.client, nil
	}

	client, err := p.factory.NewClient(pl, accountID)
	if err != nil {
		return nil, err
	}

	_, replaced := p.conns[k]
	p.conns[k] = &entry{client: client, lastUsed: p.opts.now(), healthy: true}

	p.logger.Debug("Pooled connection created",
		slog.String("platform", string(pl)),
		slog.String("account", accountID),
		slog.Bool("replaced_unhealthy", replaced))

	return client, nil
}

// ExecuteTrade размещает ордер через клиента из пула с повторами.
// В метрики платформы записывается одно наблюдение на весь вызов.
func (p *Pool) ExecuteTrade(ctx context.Context, pl platform.Platform, req platform.TradeRequest) (platform.TradeResult, error) {
	start := p.opts.now()

	client, err := p.Get(ctx, pl, req.AccountID)
	if err != nil {
		if !errors.Is(err, platform.ErrUnsupportedPlatform) {
			p.record(pl, p.opts.now().Sub(start), false)
		}
		return platform.TradeResult{}, err
	}

	k := connKey{platform: pl, accountID: req.AccountID}
	result, err := p.executeWithRetry(ctx, k, client, req)

	p.record(pl, p.opts.now().Sub(start), err == nil)

	return result, err
}

// markUnhealthy помечает запись нездоровой, если в ней всё ещё этот клиент
func (p *Pool) markUnhealthy(k connKey, client platform.Client) {
	p.setHealth(k, client, false)
}

func (p *Pool) setHealth(k connKey, client platform.Client, healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.conns[k]
	if !ok || e.client != client || e.healthy == healthy {
		return
	}

	e.healthy = healthy

	if healthy {
		p.logger.Info("Connection restored",
			slog.String("platform", string(k.platform)),
			slog.String("account", k.accountID))
	} else {
		p.logger.Warn("⚠️  Connection marked unhealthy",
			slog.String("platform", string(k.platform)),
			slog.String("account", k.accountID))
	}
}

// Run запускает периодическую проверку соединений до отмены ctx
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.healthInterval)
	defer ticker.Stop()

	p.logger.Info("Connection pool health checks started",
		slog.Duration("interval", p.opts.healthInterval),
		slog.Duration("idle_timeout", p.opts.idleTimeout))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep удаляет простаивающие соединения независимо от здоровья,
// затем параллельно проверяет оставшиеся через GetAccountInfo.
func (p *Pool) Sweep(ctx context.Context) {
	type target struct {
		key    connKey
		client platform.Client
	}

	now := p.opts.now()
	var targets []target

	p.mu.Lock()
	for k, e := range p.conns {
		if now.Sub(e.lastUsed) > p.opts.idleTimeout {
			delete(p.conns, k)
			p.logger.Debug("Idle connection evicted",
				slog.String("platform", string(k.platform)),
				slog.String("account", k.accountID))
			continue
		}
		targets = append(targets, target{key: k, client: e.client})
	}
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.healthWorkers)

	for _, t := range targets {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, p.opts.healthTimeout)
			defer cancel()

			_, err := t.client.GetAccountInfo(hctx)
			if err != nil {
				p.logger.Debug("Health check failed",
					slog.String("platform", string(t.key.platform)),
					slog.String("account", t.key.accountID),
					slog.Any("error", err))
			}

			p.setHealth(t.key, t.client, err == nil)
			return nil
		})
	}

	_ = g.Wait()
}

// Snapshot возвращает состояние соединений, отсортированное по платформе и счёту
func (p *Pool) Snapshot() []ConnInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ConnInfo, 0, len(p.conns))
	for k, e := range p.conns {
		out = append(out, ConnInfo{
			Platform:  k.platform,
			AccountID: k.accountID,
			LastUsed:  e.lastUsed,
			Healthy:   e.healthy,
		})
	}

	slices.SortFunc(out, func(a, b ConnInfo) int {
		if c := strings.Compare(string(a.Platform), string(b.Platform)); c != 0 {
			return c
		}
		return strings.Compare(a.AccountID, b.AccountID)
	})

	return out
}
