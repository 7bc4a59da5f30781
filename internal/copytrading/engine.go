package copytrading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"propcopy/internal/models"
	"propcopy/internal/platform"
	"propcopy/internal/sizing"
)

const defaultMaxRisk = 100.0

// Engine - core механизм копирования: мастер, затем параллельно все активные подписчики
type Engine struct {
	groups       GroupStorage
	accounts     AccountStorage
	trades       TradeStorage
	executor     Executor
	gate         Gate
	observer     Observer
	logger       *slog.Logger
	maxRisk      float64
	slaveTimeout time.Duration // 0 - без ограничения
	now          func() time.Time
}

// Option настраивает Engine
type Option func(*Engine)

// WithGate включает предторговую проверку счетов
func WithGate(g Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithObserver подключает получателя событий
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithMaxRisk ограничивает риск на сделку в процентах
func WithMaxRisk(percent float64) Option {
	return func(e *Engine) {
		if percent > 0 {
			e.maxRisk = percent
		}
	}
}

// WithSlaveTimeout ограничивает время копирования на подписчиков.
// Отсчёт идёт после исполнения мастера и не зависит от отмены запроса.
func WithSlaveTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.slaveTimeout = d
		}
	}
}

func NewEngine(
	groups GroupStorage,
	accounts AccountStorage,
	trades TradeStorage,
	executor Executor,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		groups:   groups,
		accounts: accounts,
		trades:   trades,
		executor: executor,
		observer: nopObserver{},
		logger:   logger,
		maxRisk:  defaultMaxRisk,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteCopyTrade исполняет сделку на мастер-счёте и копирует её подписчикам.
//
// Ошибка мастера прерывает копирование: подписчики не затрагиваются, сделка не сохраняется.
// Ошибки подписчиков не возвращаются, а попадают в их ExecutionResult.
func (e *Engine) ExecuteCopyTrade(ctx context.Context, masterAccountID string, intent models.TradeIntent) (CopyTradeResult, error) {
	start := e.now()

	if err := intent.Validate(e.maxRisk); err != nil {
		return CopyTradeResult{}, fmt.Errorf("%w: %w", ErrInvalidIntent, err)
	}

	group, err := e.groups.FindGroupByMaster(ctx, masterAccountID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return CopyTradeResult{}, fmt.Errorf("%w: master %s", ErrGroupNotFound, masterAccountID)
	case err != nil:
		return CopyTradeResult{}, fmt.Errorf("failed to load copy group: %w", err)
	case !group.IsActive:
		return CopyTradeResult{}, fmt.Errorf("%w: group %s is inactive", ErrGroupNotFound, group.ID)
	}

	master, err := e.loadAccount(ctx, masterAccountID)
	if err != nil {
		return CopyTradeResult{}, err
	}

	reason, err := e.deny(ctx, master, intent)
	if err != nil {
		return CopyTradeResult{}, fmt.Errorf("compliance check failed: %w", err)
	}
	if reason != "" {
		return CopyTradeResult{}, fmt.Errorf("%w: %s", ErrTradeDenied, reason)
	}

	e.logger.Info("📤 Copy trade started",
		slog.String("master", master.Name),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Type)),
		slog.Float64("risk", intent.RiskPercentage),
		slog.Int("slaves", len(group.ActiveSlaves())))

	masterRes, err := e.executeOn(ctx, master, RoleMaster, intent, 1)
	e.notifyExecution(masterAccountID, intent, masterRes)

	result := CopyTradeResult{Master: masterRes}

	if err != nil {
		result.ExecutionTimeMs = e.now().Sub(start).Milliseconds()
		e.observer.Notify(Event{
			Type:            EventCopyTradeFailed,
			Time:            e.now(),
			MasterAccountID: masterAccountID,
			Symbol:          intent.Symbol,
			Side:            intent.Type,
			Result:          &result,
			Error:           err.Error(),
		})
		return result, fmt.Errorf("%w: %w", ErrMasterFailed, err)
	}

	// Мастер уже исполнен у брокера: отмена запроса не должна оставлять подписчиков без сделки
	liveCtx := context.WithoutCancel(ctx)

	slaveCtx, cancel := liveCtx, context.CancelFunc(func() {})
	if e.slaveTimeout > 0 {
		slaveCtx, cancel = context.WithTimeout(liveCtx, e.slaveTimeout)
	}
	result.Slaves = e.fanOut(slaveCtx, master, group.ActiveSlaves(), intent)
	cancel()

	result.ExecutionTimeMs = e.now().Sub(start).Milliseconds()

	tradeID, err := e.saveTrade(liveCtx, master, intent, result)
	result.TradeID = tradeID

	e.logger.Info("✅ Copy trade completed",
		slog.String("master", master.Name),
		slog.String("trade_id", tradeID),
		slog.Int("success", result.SuccessCount()),
		slog.Int("failed", result.FailedCount()),
		slog.Int64("execution_time_ms", result.ExecutionTimeMs))

	e.observer.Notify(Event{
		Type:            EventCopyTrade,
		Time:            e.now(),
		MasterAccountID: masterAccountID,
		Symbol:          intent.Symbol,
		Side:            intent.Type,
		Result:          &result,
	})

	if err != nil {
		return result, fmt.Errorf("failed to save trade: %w", err)
	}

	return result, nil
}

// fanOut исполняет сделку на всех подписчиках параллельно.
// Порядок результатов совпадает с порядком членства.
func (e *Engine) fanOut(ctx context.Context, master models.Account, slaves []models.Slave, intent models.TradeIntent) []ExecutionResult {
	results := make([]ExecutionResult, len(slaves))

	var g errgroup.Group
	for i, s := range slaves {
		g.Go(func() error {
			results[i] = e.executeSlave(ctx, master, s, intent)
			e.notifyExecution(master.ID, intent, results[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) executeSlave(ctx context.Context, master models.Account, s models.Slave, intent models.TradeIntent) ExecutionResult {
	result := ExecutionResult{
		AccountID:  s.AccountID,
		Role:       RoleSlave,
		Multiplier: s.Multiplier,
	}

	if s.AccountID == master.ID {
		result.Error = "slave account equals master account"
		return result
	}

	acc, err := e.loadAccount(ctx, s.AccountID)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.AccountName = acc.Name
	result.Platform = acc.Platform

	if !acc.IsActive {
		result.Error = "account is inactive"
		return result
	}

	reason, err := e.deny(ctx, acc, intent)
	if err != nil {
		result.Error = "compliance check failed: " + err.Error()
		return result
	}
	if reason != "" {
		result.Error = "trade denied: " + reason
		return result
	}

	result, _ = e.executeOn(ctx, acc, RoleSlave, intent, s.Multiplier)
	return result
}

// executeOn рассчитывает объём и размещает ордер через executor
func (e *Engine) executeOn(ctx context.Context, acc models.Account, role Role, intent models.TradeIntent, multiplier float64) (ExecutionResult, error) {
	lots := sizing.Size(acc.Balance, intent.RiskPercentage, intent.Symbol, intent.StopDistance())
	if role == RoleSlave {
		lots = sizing.ApplyMultiplier(lots, multiplier)
	}

	result := ExecutionResult{
		AccountID:   acc.ID,
		AccountName: acc.Name,
		Platform:    acc.Platform,
		Role:        role,
		Volume:      lots,
	}
	if role == RoleSlave {
		result.Multiplier = multiplier
	}

	req := platform.TradeRequest{
		AccountID:  acc.BrokerAccountID(),
		Symbol:     intent.Symbol,
		Side:       intent.Type,
		Volume:     lots,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
	}

	start := e.now()
	res, err := e.executor.ExecuteTrade(ctx, acc.Platform, req)
	result.LatencyMs = e.now().Sub(start).Milliseconds()

	if err != nil {
		e.logger.Error("Failed to place order",
			slog.String("role", string(role)),
			slog.String("account", acc.Name),
			slog.String("platform", string(acc.Platform)),
			slog.Float64("volume", lots),
			slog.Any("error", err))
		result.Error = err.Error()
		return result, err
	}

	result.Success = true
	result.OrderID = res.OrderID
	result.Price = res.Price
	if res.Volume > 0 {
		result.Volume = res.Volume
	}

	e.logger.Info("Order placed successfully",
		slog.String("role", string(role)),
		slog.String("account", acc.Name),
		slog.String("order_id", res.OrderID),
		slog.Float64("volume", result.Volume),
		slog.Int64("latency_ms", result.LatencyMs))

	return result, nil
}

func (e *Engine) loadAccount(ctx context.Context, id string) (models.Account, error) {
	acc, err := e.accounts.FindAccount(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	return acc, nil
}

// deny возвращает причину отказа или пустую строку
func (e *Engine) deny(ctx context.Context, acc models.Account, intent models.TradeIntent) (string, error) {
	if e.gate == nil {
		return "", nil
	}

	d, err := e.gate.Evaluate(ctx, acc, intent)
	if err != nil {
		return "", err
	}
	if d.Allowed {
		return "", nil
	}

	e.logger.Warn("Trade denied by compliance",
		slog.String("account", acc.Name),
		slog.String("propfirm", acc.PropfirmName),
		slog.String("reason", d.Reason))

	return d.Reason, nil
}

// saveTrade сохраняет сделку мастера и исполнения по всем счетам
func (e *Engine) saveTrade(ctx context.Context, master models.Account, intent models.TradeIntent, result CopyTradeResult) (string, error) {
	trade, err := e.trades.InsertTrade(ctx, models.Trade{
		UserID:         master.UserID,
		AccountID:      master.ID,
		Symbol:         intent.Symbol,
		Type:           intent.Type,
		LotSize:        result.Master.Volume,
		OpenPrice:      result.Master.Price,
		StopLoss:       intent.StopLoss,
		TakeProfit:     intent.TakeProfit,
		OpenTime:       e.now(),
		Status:         models.TradeOpen,
		RiskPercentage: intent.RiskPercentage,
		Notes:          intent.Notes,
	})
	if err != nil {
		return "", err
	}

	all := append([]ExecutionResult{result.Master}, result.Slaves...)
	details := make([]models.ExecutionDetail, 0, len(all))
	for _, r := range all {
		status := "success"
		if !r.Success {
			status = "failed"
		}

		details = append(details, models.ExecutionDetail{
			TradeID:   trade.ID,
			AccountID: r.AccountID,
			Role:      string(r.Role),
			Status:    status,
			Error:     r.Error,
			OrderID:   r.OrderID,
			Volume:    r.Volume,
			Price:     r.Price,
			LatencyMs: r.LatencyMs,
		})
	}

	if err := e.trades.AddExecutions(ctx, trade.ID, details); err != nil {
		e.logger.Error("Failed to save execution details",
			slog.String("trade_id", trade.ID),
			slog.Any("error", err))
	}

	return trade.ID, nil
}

func (e *Engine) notifyExecution(masterAccountID string, intent models.TradeIntent, r ExecutionResult) {
	e.observer.Notify(Event{
		Type:            EventExecution,
		Time:            e.now(),
		MasterAccountID: masterAccountID,
		Symbol:          intent.Symbol,
		Side:            intent.Type,
		Execution:       &r,
	})
}

// AddSlave добавляет счёт подписчиком в группу мастера (или реактивирует его)
func (e *Engine) AddSlave(ctx context.Context, masterAccountID, slaveAccountID string, multiplier float64) (models.Slave, error) {
	if slaveAccountID == masterAccountID {
		return models.Slave{}, fmt.Errorf("%w: slave account must differ from master", ErrInvalidSlave)
	}
	if multiplier <= 0 {
		return models.Slave{}, fmt.Errorf("%w: multiplier must be positive, got %g", ErrInvalidSlave, multiplier)
	}

	group, err := e.groups.FindGroupByMaster(ctx, masterAccountID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Slave{}, fmt.Errorf("%w: master %s", ErrGroupNotFound, masterAccountID)
	}
	if err != nil {
		return models.Slave{}, fmt.Errorf("failed to load copy group: %w", err)
	}

	if _, err := e.loadAccount(ctx, slaveAccountID); err != nil {
		return models.Slave{}, err
	}

	slave, err := e.groups.AddSlave(ctx, models.Slave{
		GroupID:    group.ID,
		AccountID:  slaveAccountID,
		Multiplier: multiplier,
		IsActive:   true,
	})
	if err != nil {
		return models.Slave{}, fmt.Errorf("failed to add slave: %w", err)
	}

	e.logger.Info("Slave added",
		slog.String("group", group.ID),
		slog.String("account", slaveAccountID),
		slog.Float64("multiplier", multiplier))

	return slave, nil
}

// RemoveSlave деактивирует подписчика. Членство не удаляется.
func (e *Engine) RemoveSlave(ctx context.Context, masterAccountID, slaveAccountID string) error {
	group, err := e.groups.FindGroupByMaster(ctx, masterAccountID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: master %s", ErrGroupNotFound, masterAccountID)
	}
	if err != nil {
		return fmt.Errorf("failed to load copy group: %w", err)
	}

	err = e.groups.SetSlaveActive(ctx, group.ID, slaveAccountID, false)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSlaveNotFound, slaveAccountID)
	}
	if err != nil {
		return fmt.Errorf("failed to deactivate slave: %w", err)
	}

	e.logger.Info("Slave deactivated",
		slog.String("group", group.ID),
		slog.String("account", slaveAccountID))

	return nil
}
