package compliance

import (
	"context"
	"log/slog"
	"strings"

	"propcopy/internal/models"
)

// Decision - решение предторговой проверки
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason string) Decision { return Decision{Reason: reason} }

// Gate объединяет whitelist пропфирм и риск-менеджер
type Gate struct {
	whitelist *Whitelist
	risk      *RiskManager
	logger    *slog.Logger
}

// NewGate создает проверку; любой из компонентов может быть nil
func NewGate(whitelist *Whitelist, risk *RiskManager, logger *slog.Logger) *Gate {
	return &Gate{whitelist: whitelist, risk: risk, logger: logger}
}

// Evaluate проверяет счёт и сделку. Счета без пропфирмы whitelist не проверяет.
func (g *Gate) Evaluate(ctx context.Context, account models.Account, intent models.TradeIntent) (Decision, error) {
	if g.whitelist != nil && strings.TrimSpace(account.PropfirmName) != "" {
		res := g.whitelist.Validate(account.PropfirmName, string(account.Platform))
		if !res.IsValid {
			g.logger.Debug("Propfirm validation failed",
				slog.String("account", account.Name),
				slog.String("propfirm", account.PropfirmName),
				slog.Any("restrictions", res.Restrictions))
			return Deny(res.Message), nil
		}
	}

	if g.risk != nil {
		return g.risk.Check(ctx, account.UserID, intent.RiskPercentage)
	}

	return Allow(), nil
}
