package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const metaTraderBaseURL = "https://mt-client-api-v1.new-york.agiliumtrade.ai"

// MetaTraderConfig - настройки MetaApi (token-auth)
type MetaTraderConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// MetaTraderClient - клиент MetaApi для MT4/MT5 счетов
type MetaTraderClient struct {
	rest      *restClient
	token     string
	accountID string
}

type metaTraderTradeRequest struct {
	ActionType string   `json:"actionType"`
	Symbol     string   `json:"symbol"`
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

type metaTraderTradeResponse struct {
	NumericCode int     `json:"numericCode"`
	StringCode  string  `json:"stringCode"`
	Message     string  `json:"message"`
	OrderID     string  `json:"orderId"`
	PositionID  string  `json:"positionId"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
}

type metaTraderPosition struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Type         string   `json:"type"` // POSITION_TYPE_BUY / POSITION_TYPE_SELL
	Volume       float64  `json:"volume"`
	OpenPrice    float64  `json:"openPrice"`
	CurrentPrice float64  `json:"currentPrice"`
	Profit       float64  `json:"profit"`
	StopLoss     *float64 `json:"stopLoss"`
	TakeProfit   *float64 `json:"takeProfit"`
}

// Коды MetaApi, означающие исполнение
var metaTraderSuccessCodes = map[string]bool{
	"TRADE_RETCODE_DONE":         true,
	"TRADE_RETCODE_DONE_PARTIAL": true,
	"TRADE_RETCODE_PLACED":       true,
	"ERR_NO_ERROR":               true,
}

// NewMetaTraderClient создает клиент для счёта accountID
func NewMetaTraderClient(cfg MetaTraderConfig, accountID string, logger *slog.Logger) *MetaTraderClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = metaTraderBaseURL
	}

	return &MetaTraderClient{
		rest:      newRESTClient(string(MetaTrader), baseURL, cfg.Timeout, logger),
		token:     cfg.Token,
		accountID: accountID,
	}
}

func (c *MetaTraderClient) headers() http.Header {
	h := http.Header{}
	h.Set("auth-token", c.token)
	return h
}

func (c *MetaTraderClient) path(suffix string) string {
	return "/users/current/accounts/" + url.PathEscape(c.accountID) + suffix
}

// GetAccountInfo получает баланс и equity
func (c *MetaTraderClient) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	var info struct {
		Balance  float64 `json:"balance"`
		Equity   float64 `json:"equity"`
		Currency string  `json:"currency"`
		Leverage int     `json:"leverage"`
	}

	if err := c.rest.do(ctx, "GetAccountInfo", http.MethodGet, c.path("/account-information"), c.headers(), nil, &info); err != nil {
		return AccountInfo{}, err
	}

	return AccountInfo(info), nil
}

// GetPositions получает открытые позиции
func (c *MetaTraderClient) GetPositions(ctx context.Context) ([]Position, error) {
	var raw []metaTraderPosition
	if err := c.rest.do(ctx, "GetPositions", http.MethodGet, c.path("/positions"), c.headers(), nil, &raw); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		side := Buy
		if p.Type == "POSITION_TYPE_SELL" {
			side = Sell
		}

		positions = append(positions, Position{
			ID:           p.ID,
			Symbol:       p.Symbol,
			Side:         side,
			Volume:       p.Volume,
			OpenPrice:    p.OpenPrice,
			CurrentPrice: p.CurrentPrice,
			Profit:       p.Profit,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
		})
	}

	return positions, nil
}

// PlaceTrade размещает рыночный ордер.
// MetaApi не возвращает цену исполнения, поэтому она берётся из открытой позиции.
func (c *MetaTraderClient) PlaceTrade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	volume, err := roundVolume(req.Volume)
	if err != nil {
		return TradeResult{}, err
	}

	body := metaTraderTradeRequest{
		ActionType: "ORDER_TYPE_" + string(req.Side),
		Symbol:     req.Symbol,
		Volume:     volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}

	var resp metaTraderTradeResponse
	if err := c.rest.do(ctx, "PlaceTrade", http.MethodPost, c.path("/trade"), c.headers(), body, &resp); err != nil {
		return TradeResult{}, err
	}

	if !metaTraderSuccessCodes[resp.StringCode] {
		return TradeResult{}, &ProtocolError{
			Op:      "metatrader PlaceTrade",
			Message: fmt.Sprintf("%s (%d): %s", resp.StringCode, resp.NumericCode, resp.Message),
		}
	}

	result := TradeResult{
		OrderID: resp.OrderID,
		Price:   resp.Price,
		Volume:  volume,
	}
	if resp.Volume > 0 {
		result.Volume = resp.Volume
	}

	if result.Price == 0 && resp.PositionID != "" {
		positions, err := c.GetPositions(ctx)
		if err != nil {
			c.rest.logger.Warn("Failed to resolve fill price",
				slog.String("account", c.accountID),
				slog.String("position_id", resp.PositionID),
				slog.Any("error", err))
		}

		for _, p := range positions {
			if p.ID == resp.PositionID {
				result.Price = p.OpenPrice
				break
			}
		}
	}

	return result, nil
}

// ClosePosition закрывает позицию по ID
func (c *MetaTraderClient) ClosePosition(ctx context.Context, positionID string) error {
	return c.rest.do(ctx, "ClosePosition", http.MethodPost, c.path("/positions/"+url.PathEscape(positionID)+"/close"), c.headers(), nil, nil)
}
