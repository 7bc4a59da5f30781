package platform

import (
	"context"
	"fmt"
	"strings"
)

// Platform - идентификатор брокерской платформы
type Platform string

const (
	MetaTrader  Platform = "metatrader"
	CTrader     Platform = "ctrader"
	MatchTrader Platform = "matchtrader"
	TradeLocker Platform = "tradelocker"
)

// Side - направление сделки
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide разбирает направление в любом регистре
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown trade side %q", s)
	}
}

// ParsePlatform нормализует название платформы из аккаунта
// ("MetaTrader 5", "MT4", "cTrader", "Match-Trader", ...).
func ParsePlatform(s string) (Platform, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(name)

	switch {
	case name == "mt4" || name == "mt5" || strings.HasPrefix(name, "metatrader"):
		return MetaTrader, nil
	case name == "ctrader":
		return CTrader, nil
	case name == "matchtrader":
		return MatchTrader, nil
	case name == "tradelocker":
		return TradeLocker, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, s)
	}
}

// TradeRequest - параметры рыночного ордера
type TradeRequest struct {
	AccountID  string // номер счёта у брокера
	Symbol     string
	Side       Side
	Volume     float64 // в лотах
	StopLoss   *float64
	TakeProfit *float64
}

// TradeResult - ответ брокера на размещение ордера
type TradeResult struct {
	OrderID string  `json:"order_id"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
}

// AccountInfo - состояние счёта
type AccountInfo struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency,omitempty"`
	Leverage int     `json:"leverage,omitempty"`
}

// Position - открытая позиция
type Position struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Side         Side     `json:"side"`
	Volume       float64  `json:"volume"`
	OpenPrice    float64  `json:"open_price"`
	CurrentPrice float64  `json:"current_price"`
	Profit       float64  `json:"profit"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
}

// Client - единый интерфейс брокерского API
type Client interface {
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceTrade(ctx context.Context, req TradeRequest) (TradeResult, error)
	ClosePosition(ctx context.Context, positionID string) error
}
