package platform

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const matchTraderBaseURL = "https://api.matchtrader.com"

// MatchTraderConfig - настройки Match-Trader (bearer API key)
type MatchTraderConfig struct {
	APIKey    string
	ServerURL string
	Timeout   time.Duration
}

// MatchTraderClient - клиент Match-Trader REST API
type MatchTraderClient struct {
	rest      *restClient
	apiKey    string
	accountID string
}

type matchTraderOrder struct {
	Symbol     string   `json:"symbol"`
	Side       Side     `json:"side"`
	Volume     float64  `json:"volume"`
	Type       string   `json:"type"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

type matchTraderOrderResponse struct {
	OrderID string  `json:"orderId"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
	Status  string  `json:"status"`
	Reason  string  `json:"reason"`
}

type matchTraderPosition struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Side         Side     `json:"side"`
	Volume       float64  `json:"volume"`
	OpenPrice    float64  `json:"openPrice"`
	CurrentPrice float64  `json:"currentPrice"`
	Profit       float64  `json:"profit"`
	StopLoss     *float64 `json:"stopLoss"`
	TakeProfit   *float64 `json:"takeProfit"`
}

// NewMatchTraderClient создает клиент для счёта accountID
func NewMatchTraderClient(cfg MatchTraderConfig, accountID string, logger *slog.Logger) *MatchTraderClient {
	baseURL := cfg.ServerURL
	if baseURL == "" {
		baseURL = matchTraderBaseURL
	}

	return &MatchTraderClient{
		rest:      newRESTClient(string(MatchTrader), baseURL, cfg.Timeout, logger),
		apiKey:    cfg.APIKey,
		accountID: accountID,
	}
}

func (c *MatchTraderClient) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiKey)
	return h
}

func (c *MatchTraderClient) path(suffix string) string {
	return "/v1/accounts/" + url.PathEscape(c.accountID) + suffix
}

// GetAccountInfo получает баланс и equity
func (c *MatchTraderClient) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	var info AccountInfo
	if err := c.rest.do(ctx, "GetAccountInfo", http.MethodGet, c.path(""), c.headers(), nil, &info); err != nil {
		return AccountInfo{}, err
	}

	return info, nil
}

// GetPositions получает открытые позиции
func (c *MatchTraderClient) GetPositions(ctx context.Context) ([]Position, error) {
	var raw []matchTraderPosition
	if err := c.rest.do(ctx, "GetPositions", http.MethodGet, c.path("/positions"), c.headers(), nil, &raw); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, Position(p))
	}

	return positions, nil
}

// PlaceTrade размещает рыночный ордер
func (c *MatchTraderClient) PlaceTrade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	volume, err := roundVolume(req.Volume)
	if err != nil {
		return TradeResult{}, err
	}

	body := matchTraderOrder{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     volume,
		Type:       "MARKET",
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}

	var resp matchTraderOrderResponse
	if err := c.rest.do(ctx, "PlaceTrade", http.MethodPost, c.path("/orders"), c.headers(), body, &resp); err != nil {
		return TradeResult{}, err
	}

	if resp.Status == "REJECTED" {
		return TradeResult{}, &ProtocolError{Op: "matchtrader PlaceTrade", StatusCode: http.StatusOK, Message: "order rejected: " + resp.Reason}
	}

	if resp.Volume > 0 {
		volume = resp.Volume
	}

	return TradeResult{OrderID: resp.OrderID, Price: resp.Price, Volume: volume}, nil
}

// ClosePosition закрывает позицию по ID
func (c *MatchTraderClient) ClosePosition(ctx context.Context, positionID string) error {
	return c.rest.do(ctx, "ClosePosition", http.MethodPost, c.path("/positions/"+url.PathEscape(positionID)+"/close"), c.headers(), nil, nil)
}
