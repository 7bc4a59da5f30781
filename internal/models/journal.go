package models

import (
	"time"

	"propcopy/internal/platform"
)

// User - оператор API
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// TradeStatus - статус сделки в журнале
type TradeStatus string

const (
	TradeOpen    TradeStatus = "OPEN"
	TradeClosed  TradeStatus = "CLOSED"
	TradePending TradeStatus = "PENDING"
)

// Trade - исполненная сделка мастер-счёта
type Trade struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	AccountID      string            `json:"account_id"`
	Symbol         string            `json:"symbol"`
	Type           platform.Side     `json:"type"`
	LotSize        float64           `json:"lot_size"`
	OpenPrice      float64           `json:"open_price"`
	ClosePrice     *float64          `json:"close_price,omitempty"`
	StopLoss       *float64          `json:"stop_loss,omitempty"`
	TakeProfit     *float64          `json:"take_profit,omitempty"`
	Profit         *float64          `json:"profit,omitempty"`
	OpenTime       time.Time         `json:"open_time"`
	CloseTime      *time.Time        `json:"close_time,omitempty"`
	Status         TradeStatus       `json:"status"`
	RiskPercentage float64           `json:"risk_percentage"`
	Notes          string            `json:"notes,omitempty"`
	Screenshot     string            `json:"screenshot,omitempty"`
	Executions     []ExecutionDetail `json:"executions,omitempty"` // Joined field
}

// ExecutionDetail - результат исполнения сделки на конкретном счёте
type ExecutionDetail struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"trade_id"`
	AccountID string    `json:"account_id"`
	Role      string    `json:"role"`   // "master", "slave"
	Status    string    `json:"status"` // "success", "failed"
	Error     string    `json:"error,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
