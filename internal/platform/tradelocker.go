package platform

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tradeLockerBaseURL = "https://api.tradelocker.com"

	// Токен обновляется заранее, если до истечения осталось меньше этого
	tokenRefreshSkew = 30 * time.Second
)

// TradeLockerConfig - учетные данные TradeLocker (email/password/server → JWT)
type TradeLockerConfig struct {
	Email    string
	Password string
	Server   string
	BaseURL  string
	Timeout  time.Duration
}

// TradeLockerClient - клиент TradeLocker. Перед любым запросом получает JWT
// и хранит его до конца жизни клиента; при 401/403 логинится повторно один раз.
type TradeLockerClient struct {
	rest      *restClient
	cfg       TradeLockerConfig
	accountID string
	now       func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time // zero если в токене нет exp
}

type tradeLockerLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

type tradeLockerLoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type tradeLockerOrder struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Type       string   `json:"type"`
	Lots       float64  `json:"lots"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

type tradeLockerOrderResponse struct {
	S string `json:"s"`
	D struct {
		OrderID string  `json:"orderId"`
		Price   float64 `json:"price"`
		Lots    float64 `json:"lots"`
	} `json:"d"`
	ErrMsg string `json:"errmsg"`
}

type tradeLockerPosition struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"`
	Lots         float64  `json:"lots"`
	OpenPrice    float64  `json:"openPrice"`
	CurrentPrice float64  `json:"currentPrice"`
	Profit       float64  `json:"profit"`
	StopLoss     *float64 `json:"stopLoss"`
	TakeProfit   *float64 `json:"takeProfit"`
}

// NewTradeLockerClient создает клиент для счёта accountID. Логин выполняется лениво.
func NewTradeLockerClient(cfg TradeLockerConfig, accountID string, logger *slog.Logger) *TradeLockerClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = tradeLockerBaseURL
	}

	return &TradeLockerClient{
		rest:      newRESTClient(string(TradeLocker), baseURL, cfg.Timeout, logger),
		cfg:       cfg,
		accountID: accountID,
		now:       time.Now,
	}
}

// authenticate обменивает учетные данные на access token
func (c *TradeLockerClient) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loginLocked(ctx)
}

func (c *TradeLockerClient) loginLocked(ctx context.Context) error {
	body := tradeLockerLoginRequest{
		Email:    c.cfg.Email,
		Password: c.cfg.Password,
		Server:   c.cfg.Server,
	}

	var resp tradeLockerLoginResponse
	if err := c.rest.do(ctx, "Login", http.MethodPost, "/auth/jwt/login", nil, body, &resp); err != nil {
		var protocolErr *ProtocolError
		if errors.As(err, &protocolErr) && protocolErr.IsAuth() {
			return &AuthenticationError{Err: err}
		}
		return err
	}

	if resp.AccessToken == "" {
		return &AuthenticationError{Err: errors.New("login response has no access token")}
	}

	c.accessToken = resp.AccessToken
	c.expiresAt = tokenExpiry(resp.AccessToken)

	c.rest.logger.Debug("TradeLocker token acquired",
		slog.String("account", c.accountID),
		slog.Time("expires_at", c.expiresAt))

	return nil
}

// token возвращает действующий токен, логинясь при отсутствии или скором истечении
func (c *TradeLockerClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiring := !c.expiresAt.IsZero() && c.now().Add(tokenRefreshSkew).After(c.expiresAt)
	if c.accessToken == "" || expiring {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}

	return c.accessToken, nil
}

// invalidate сбрасывает токен, если он не был заменён другим запросом
func (c *TradeLockerClient) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == token {
		c.accessToken = ""
		c.expiresAt = time.Time{}
	}
}

// tokenExpiry читает exp из JWT без проверки подписи: ключ брокера нам неизвестен,
// а токен получен напрямую от брокера.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}

	if claims.ExpiresAt == nil {
		return time.Time{}
	}

	return claims.ExpiresAt.Time
}

// request выполняет запрос с bearer-токеном и одной повторной попыткой после релогина
func (c *TradeLockerClient) request(ctx context.Context, op, method, path string, in, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}

		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		h.Set("accNum", c.accountID)

		err = c.rest.do(ctx, op, method, path, h, in, out)

		var protocolErr *ProtocolError
		if err == nil || !errors.As(err, &protocolErr) || !protocolErr.IsAuth() {
			return err
		}

		if attempt > 0 {
			return &AuthenticationError{Err: err}
		}

		c.rest.logger.Info("TradeLocker token rejected, re-authenticating",
			slog.String("account", c.accountID))
		c.invalidate(token)
	}
}

func (c *TradeLockerClient) path(suffix string) string {
	return "/trade/accounts/" + url.PathEscape(c.accountID) + suffix
}

// GetAccountInfo получает баланс и equity
func (c *TradeLockerClient) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	var resp struct {
		D AccountInfo `json:"d"`
	}

	if err := c.request(ctx, "GetAccountInfo", http.MethodGet, c.path(""), nil, &resp); err != nil {
		return AccountInfo{}, err
	}

	return resp.D, nil
}

// GetPositions получает открытые позиции
func (c *TradeLockerClient) GetPositions(ctx context.Context) ([]Position, error) {
	var resp struct {
		D []tradeLockerPosition `json:"d"`
	}

	if err := c.request(ctx, "GetPositions", http.MethodGet, c.path("/positions"), nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(resp.D))
	for _, p := range resp.D {
		side, err := ParseSide(p.Side)
		if err != nil {
			side = Side(strings.ToUpper(p.Side))
		}

		positions = append(positions, Position{
			ID:           p.ID,
			Symbol:       p.Symbol,
			Side:         side,
			Volume:       p.Lots,
			OpenPrice:    p.OpenPrice,
			CurrentPrice: p.CurrentPrice,
			Profit:       p.Profit,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
		})
	}

	return positions, nil
}

// PlaceTrade размещает рыночный ордер
func (c *TradeLockerClient) PlaceTrade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	lots, err := roundVolume(req.Volume)
	if err != nil {
		return TradeResult{}, err
	}

	body := tradeLockerOrder{
		Symbol:     req.Symbol,
		Side:       strings.ToLower(string(req.Side)),
		Type:       "market",
		Lots:       lots,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}

	var resp tradeLockerOrderResponse
	if err := c.request(ctx, "PlaceTrade", http.MethodPost, c.path("/orders"), body, &resp); err != nil {
		return TradeResult{}, err
	}

	if resp.S == "error" {
		return TradeResult{}, &ProtocolError{Op: "tradelocker PlaceTrade", StatusCode: http.StatusOK, Message: resp.ErrMsg}
	}

	if resp.D.Lots > 0 {
		lots = resp.D.Lots
	}

	return TradeResult{OrderID: resp.D.OrderID, Price: resp.D.Price, Volume: lots}, nil
}

// ClosePosition закрывает позицию по ID
func (c *TradeLockerClient) ClosePosition(ctx context.Context, positionID string) error {
	return c.request(ctx, "ClosePosition", http.MethodDelete, c.path("/positions/"+url.PathEscape(positionID)), nil, nil)
}
