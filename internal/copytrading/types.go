package copytrading

import (
	"context"
	"errors"

	"propcopy/internal/compliance"
	"propcopy/internal/models"
	"propcopy/internal/platform"
)

var (
	ErrGroupNotFound   = errors.New("copy group not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrSlaveNotFound   = errors.New("slave membership not found")
	ErrInvalidIntent   = errors.New("invalid trade intent")
	ErrInvalidSlave    = errors.New("invalid slave")
	ErrTradeDenied     = errors.New("trade denied")
	ErrMasterFailed    = errors.New("master execution failed")
)

type GroupStorage interface {
	FindGroupByMaster(ctx context.Context, masterAccountID string) (models.CopyGroup, error)
	AddSlave(ctx context.Context, slave models.Slave) (models.Slave, error)
	SetSlaveActive(ctx context.Context, groupID, accountID string, active bool) error
}

type AccountStorage interface {
	FindAccount(ctx context.Context, id string) (models.Account, error)
}

type TradeStorage interface {
	InsertTrade(ctx context.Context, trade models.Trade) (models.Trade, error)
	AddExecutions(ctx context.Context, tradeID string, details []models.ExecutionDetail) error
}

// Executor размещает ордер на платформе. Реализуется pool.Pool и DryRunExecutor.
type Executor interface {
	ExecuteTrade(ctx context.Context, p platform.Platform, req platform.TradeRequest) (platform.TradeResult, error)
}

// Gate - предторговая проверка счёта (whitelist пропфирм, лимиты риска)
type Gate interface {
	Evaluate(ctx context.Context, account models.Account, intent models.TradeIntent) (compliance.Decision, error)
}

// Role - роль счёта в копировании
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// ExecutionResult - результат исполнения на одном счёте
type ExecutionResult struct {
	AccountID   string            `json:"account_id"`
	AccountName string            `json:"account_name,omitempty"`
	Platform    platform.Platform `json:"platform,omitempty"`
	Role        Role              `json:"role"`
	Success     bool              `json:"success"`
	Volume      float64           `json:"volume,omitempty"`
	Multiplier  float64           `json:"multiplier,omitempty"`
	Price       float64           `json:"price,omitempty"`
	OrderID     string            `json:"order_id,omitempty"`
	Error       string            `json:"error,omitempty"`
	LatencyMs   int64             `json:"latency_ms"`
}

// CopyTradeResult - итог копирования: мастер и все активные подписчики
type CopyTradeResult struct {
	TradeID         string            `json:"trade_id,omitempty"`
	Master          ExecutionResult   `json:"master"`
	Slaves          []ExecutionResult `json:"slaves"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
}

// SuccessCount возвращает число успешных исполнений у подписчиков
func (r *CopyTradeResult) SuccessCount() int {
	n := 0
	for _, s := range r.Slaves {
		if s.Success {
			n++
		}
	}
	return n
}

// FailedCount возвращает число неуспешных исполнений у подписчиков
func (r *CopyTradeResult) FailedCount() int {
	return len(r.Slaves) - r.SuccessCount()
}

// IsFullSuccess возвращает true если мастер и все подписчики исполнены
func (r *CopyTradeResult) IsFullSuccess() bool {
	return r.Master.Success && r.FailedCount() == 0
}

// IsPartialSuccess возвращает true если есть и успешные и неуспешные подписчики
func (r *CopyTradeResult) IsPartialSuccess() bool {
	return r.SuccessCount() > 0 && r.FailedCount() > 0
}
