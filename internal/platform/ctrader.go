package platform

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const cTraderBaseURL = "https://openapi.ctrader.com"

// CTraderConfig - OAuth настройки cTrader Open API.
// Токен доступа обновляется снаружи, клиент его только использует.
type CTraderConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	BaseURL      string
	Timeout      time.Duration
}

// CTraderClient - клиент cTrader Open API
type CTraderClient struct {
	rest        *restClient
	accessToken string
	accountID   string
}

type cTraderOrderRequest struct {
	AccountID  string   `json:"accountId"`
	Symbol     string   `json:"symbol"`
	OrderType  string   `json:"orderType"`
	TradeSide  Side     `json:"tradeSide"`
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

type cTraderOrderResponse struct {
	OrderID        string  `json:"orderId"`
	PositionID     string  `json:"positionId"`
	ExecutionPrice float64 `json:"executionPrice"`
	Volume         float64 `json:"volume"`
}

type cTraderPosition struct {
	PositionID    string   `json:"positionId"`
	Symbol        string   `json:"symbol"`
	Side          Side     `json:"side"`
	Volume        float64  `json:"volume"`
	EntryPrice    float64  `json:"entryPrice"`
	CurrentPrice  float64  `json:"currentPrice"`
	UnrealizedPnL float64  `json:"unrealizedPnL"`
	StopLoss      *float64 `json:"stopLoss"`
	TakeProfit    *float64 `json:"takeProfit"`
}

// NewCTraderClient создает клиент для счёта accountID
func NewCTraderClient(cfg CTraderConfig, accountID string, logger *slog.Logger) *CTraderClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = cTraderBaseURL
	}

	return &CTraderClient{
		rest:        newRESTClient(string(CTrader), baseURL, cfg.Timeout, logger),
		accessToken: cfg.AccessToken,
		accountID:   accountID,
	}
}

func (c *CTraderClient) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.accessToken)
	return h
}

func (c *CTraderClient) path(suffix string) string {
	return "/v1/accounts/" + url.PathEscape(c.accountID) + suffix
}

// GetAccountInfo получает баланс и equity
func (c *CTraderClient) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	var info AccountInfo
	if err := c.rest.do(ctx, "GetAccountInfo", http.MethodGet, c.path(""), c.headers(), nil, &info); err != nil {
		return AccountInfo{}, err
	}

	return info, nil
}

// GetPositions получает открытые позиции
func (c *CTraderClient) GetPositions(ctx context.Context) ([]Position, error) {
	var resp struct {
		Positions []cTraderPosition `json:"positions"`
	}

	if err := c.rest.do(ctx, "GetPositions", http.MethodGet, c.path("/positions"), c.headers(), nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, Position{
			ID:           p.PositionID,
			Symbol:       p.Symbol,
			Side:         p.Side,
			Volume:       p.Volume,
			OpenPrice:    p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			Profit:       p.UnrealizedPnL,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
		})
	}

	return positions, nil
}

// PlaceTrade размещает рыночный ордер
func (c *CTraderClient) PlaceTrade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	volume, err := roundVolume(req.Volume)
	if err != nil {
		return TradeResult{}, err
	}

	body := cTraderOrderRequest{
		AccountID:  c.accountID,
		Symbol:     req.Symbol,
		OrderType:  "MARKET",
		TradeSide:  req.Side,
		Volume:     volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}

	var resp cTraderOrderResponse
	if err := c.rest.do(ctx, "PlaceTrade", http.MethodPost, c.path("/orders"), c.headers(), body, &resp); err != nil {
		return TradeResult{}, err
	}

	if resp.OrderID == "" && resp.PositionID == "" {
		return TradeResult{}, &ProtocolError{Op: "ctrader PlaceTrade", StatusCode: http.StatusOK, Message: "response has no order id"}
	}

	orderID := resp.OrderID
	if orderID == "" {
		orderID = resp.PositionID
	}

	if resp.Volume > 0 {
		volume = resp.Volume
	}

	return TradeResult{OrderID: orderID, Price: resp.ExecutionPrice, Volume: volume}, nil
}

// ClosePosition закрывает позицию по ID
func (c *CTraderClient) ClosePosition(ctx context.Context, positionID string) error {
	return c.rest.do(ctx, "ClosePosition", http.MethodPost, c.path("/positions/"+url.PathEscape(positionID)+"/close"), c.headers(), nil, nil)
}
