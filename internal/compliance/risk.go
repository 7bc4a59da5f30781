package compliance

import (
	"context"
	"fmt"
	"time"
)

// TradeCounter считает сделки пользователя с момента since
type TradeCounter interface {
	CountTradesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// RiskLimits - лимиты риск-менеджера. Нулевое значение отключает лимит.
type RiskLimits struct {
	MaxRiskPerTrade float64
	MaxTradesPerDay int
}

// RiskManager проверяет риск на сделку и дневной лимит сделок
type RiskManager struct {
	limits  RiskLimits
	counter TradeCounter
	now     func() time.Time
}

func NewRiskManager(limits RiskLimits, counter TradeCounter) *RiskManager {
	return &RiskManager{limits: limits, counter: counter, now: time.Now}
}

// Check возвращает решение по сделке пользователя с заданным риском
func (r *RiskManager) Check(ctx context.Context, userID string, riskPercentage float64) (Decision, error) {
	if r.limits.MaxRiskPerTrade > 0 && riskPercentage > r.limits.MaxRiskPerTrade {
		return Deny(fmt.Sprintf("Risk percentage (%g%%) exceeds maximum allowed (%g%%)",
			riskPercentage, r.limits.MaxRiskPerTrade)), nil
	}

	if r.limits.MaxTradesPerDay > 0 && r.counter != nil {
		now := r.now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

		count, err := r.counter.CountTradesSince(ctx, userID, dayStart)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to count today's trades: %w", err)
		}

		if count >= r.limits.MaxTradesPerDay {
			return Deny(fmt.Sprintf("Daily trade limit reached (%d trades)", r.limits.MaxTradesPerDay)), nil
		}
	}

	return Allow(), nil
}
