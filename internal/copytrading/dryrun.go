package copytrading

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"propcopy/internal/platform"
)

// DryRunExecutor логирует ордер вместо отправки брокеру
type DryRunExecutor struct {
	logger *slog.Logger
}

func NewDryRunExecutor(logger *slog.Logger) *DryRunExecutor {
	return &DryRunExecutor{logger: logger}
}

func (d *DryRunExecutor) ExecuteTrade(ctx context.Context, p platform.Platform, req platform.TradeRequest) (platform.TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return platform.TradeResult{}, err
	}

	d.logger.Info("DRY_RUN - Would place order",
		slog.String("platform", string(p)),
		slog.String("account", req.AccountID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("volume", req.Volume))

	return platform.TradeResult{OrderID: "dry-" + uuid.NewString(), Volume: req.Volume}, nil
}
