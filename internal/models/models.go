package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"propcopy/internal/platform"
)

// ErrNotFound возвращается хранилищем, когда запись отсутствует
var ErrNotFound = errors.New("not found")

// Account представляет брокерский счёт пользователя
type Account struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Name          string            `json:"name"`
	PropfirmName  string            `json:"propfirm_name,omitempty"`
	Platform      platform.Platform `json:"platform"`
	AccountNumber string            `json:"account_number"` // номер счёта у брокера
	Server        string            `json:"server,omitempty"`
	Credentials   map[string]string `json:"-"` // хранятся в БД только в зашифрованном виде
	Balance       float64           `json:"balance"`
	Equity        float64           `json:"equity"`
	IsMaster      bool              `json:"is_master"`
	IsActive      bool              `json:"is_active"`
	CreatedAt     time.Time         `json:"created_at"`
}

// BrokerAccountID - идентификатор счёта для брокерского API
func (a Account) BrokerAccountID() string {
	if a.AccountNumber != "" {
		return a.AccountNumber
	}
	return a.ID
}

// CopyGroup - мастер-счёт и его подписчики
type CopyGroup struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	MasterAccountID string    `json:"master_account_id"`
	IsActive        bool      `json:"is_active"`
	Slaves          []Slave   `json:"slaves"`
	CreatedAt       time.Time `json:"created_at"`
}

// Slave - членство счёта в группе копирования
type Slave struct {
	ID         string  `json:"id"`
	GroupID    string  `json:"group_id"`
	AccountID  string  `json:"account_id"`
	Multiplier float64 `json:"multiplier"`
	IsActive   bool    `json:"is_active"`
}

// ActiveSlaves возвращает активных подписчиков в порядке членства
func (g *CopyGroup) ActiveSlaves() []Slave {
	active := make([]Slave, 0, len(g.Slaves))
	for _, s := range g.Slaves {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active
}

// TradeIntent - намерение открыть сделку на мастер-счёте
type TradeIntent struct {
	Symbol         string        `json:"symbol"`
	Type           platform.Side `json:"type"`
	RiskPercentage float64       `json:"risk_percentage"`
	StopLoss       *float64      `json:"stop_loss,omitempty"`
	TakeProfit     *float64      `json:"take_profit,omitempty"`
	// EntryPrice - опорная цена входа. Если задана, дистанция стопа = |EntryPrice - StopLoss|
	EntryPrice *float64 `json:"entry_price,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Validate проверяет символ, направление и риск (0 < risk <= maxRisk)
func (t TradeIntent) Validate(maxRisk float64) error {
	var errs []error

	if strings.TrimSpace(t.Symbol) == "" {
		errs = append(errs, errors.New("symbol is required"))
	}

	if t.Type != platform.Buy && t.Type != platform.Sell {
		errs = append(errs, fmt.Errorf("type must be BUY or SELL, got %q", t.Type))
	}

	if math.IsNaN(t.RiskPercentage) || t.RiskPercentage <= 0 || t.RiskPercentage > maxRisk {
		errs = append(errs, fmt.Errorf("risk_percentage must be in (0, %g], got %g", maxRisk, t.RiskPercentage))
	}

	if t.StopLoss != nil && *t.StopLoss <= 0 {
		errs = append(errs, errors.New("stop_loss must be positive"))
	}

	return errors.Join(errs...)
}

// StopDistance возвращает дистанцию стопа в цене или nil, если стоп не задан
func (t TradeIntent) StopDistance() *float64 {
	if t.StopLoss == nil {
		return nil
	}

	d := math.Abs(*t.StopLoss)
	if t.EntryPrice != nil {
		d = math.Abs(*t.EntryPrice - *t.StopLoss)
	}

	if d == 0 {
		return nil
	}

	return &d
}
