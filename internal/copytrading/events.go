package copytrading

import (
	"time"

	"propcopy/internal/platform"
)

// EventType - тип события движка
type EventType string

const (
	EventExecution       EventType = "execution"
	EventCopyTrade       EventType = "copy_trade"
	EventCopyTradeFailed EventType = "copy_trade_failed"
)

// Event - событие движка для внешних подписчиков (telegram, kafka, websocket)
type Event struct {
	Type            EventType        `json:"type"`
	Time            time.Time        `json:"time"`
	MasterAccountID string           `json:"master_account_id"`
	Symbol          string           `json:"symbol"`
	Side            platform.Side    `json:"side"`
	Execution       *ExecutionResult `json:"execution,omitempty"`
	Result          *CopyTradeResult `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// Observer получает события. Notify не должен блокировать движок.
type Observer interface {
	Notify(Event)
}

// ObserverFunc адаптирует функцию к Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Notify(Event) {}
