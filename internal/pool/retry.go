package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"propcopy/internal/platform"
)

const (
	baseBackoff = time.Second
	maxBackoff  = 5 * time.Second
)

// Backoff возвращает паузу перед попыткой attempt (нумерация с 1):
// min(1s * 2^(attempt-2), 5s), перед первой попыткой паузы нет.
func Backoff(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}

	shift := attempt - 2
	if shift >= 3 {
		return maxBackoff
	}

	return min(baseBackoff<<shift, maxBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// executeWithRetry размещает ордер с ограниченным числом попыток.
// Сетевая ошибка на любой попытке сразу помечает соединение нездоровым.
func (p *Pool) executeWithRetry(ctx context.Context, k connKey, client platform.Client, req platform.TradeRequest) (platform.TradeResult, error) {
	var lastErr error

	attempt := 1
	for ; attempt <= p.opts.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt)
			p.logger.Debug("Retrying trade",
				slog.String("platform", string(k.platform)),
				slog.String("account", k.accountID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))

			if err := p.opts.sleep(ctx, delay); err != nil {
				return platform.TradeResult{}, fmt.Errorf("retry aborted after %d attempt(s): %w (last error: %w)", attempt-1, err, lastErr)
			}
		}

		result, err := client.PlaceTrade(ctx, req)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("✅ Trade succeeded after retry",
					slog.String("platform", string(k.platform)),
					slog.String("account", k.accountID),
					slog.Int("attempt", attempt))
			}
			return result, nil
		}

		lastErr = err
		p.logger.Warn("Trade execution attempt failed",
			slog.String("platform", string(k.platform)),
			slog.String("account", k.accountID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		// Отмена вызывающим не говорит о состоянии брокера
		if platform.IsConnectionError(err) && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			p.markUnhealthy(k, client)
		}

		if !platform.IsRetryable(err) {
			break
		}
	}

	attempts := min(attempt, p.opts.maxAttempts)
	return platform.TradeResult{}, fmt.Errorf("trade failed after %d attempt(s): %w", attempts, lastErr)
}
