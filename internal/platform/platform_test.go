package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v float64) *float64 { return &v }

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
	}{
		{"metatrader", MetaTrader},
		{"MetaTrader 5", MetaTrader},
		{"MT4", MetaTrader},
		{"cTrader", CTrader},
		{"Match-Trader", MatchTrader},
		{"matchtrader", MatchTrader},
		{"TradeLocker", TradeLocker},
	}

	for _, tt := range tests {
		got, err := ParsePlatform(tt.in)
		if err != nil {
			t.Errorf("ParsePlatform(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePlatform(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParsePlatform("ninjatrader"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestMetaTraderPlaceTrade(t *testing.T) {
	var got metaTraderTradeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("auth-token") != "mt-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case "/users/current/accounts/1001/trade":
			json.NewDecoder(r.Body).Decode(&got)
			fmt.Fprint(w, `{"numericCode":10009,"stringCode":"TRADE_RETCODE_DONE","orderId":"555","positionId":"777"}`)
		case "/users/current/accounts/1001/positions":
			fmt.Fprint(w, `[{"id":"777","symbol":"EURUSD","type":"POSITION_TYPE_BUY","volume":1.23,"openPrice":1.0851}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewMetaTraderClient(MetaTraderConfig{Token: "mt-token", BaseURL: srv.URL}, "1001", testLogger())

	res, err := client.PlaceTrade(context.Background(), TradeRequest{
		Symbol:   "EURUSD",
		Side:     Buy,
		Volume:   1.234,
		StopLoss: ptr(1.08),
	})
	if err != nil {
		t.Fatalf("PlaceTrade failed: %v", err)
	}

	if got.ActionType != "ORDER_TYPE_BUY" {
		t.Errorf("actionType = %s, want ORDER_TYPE_BUY", got.ActionType)
	}
	if got.Volume != 1.23 {
		t.Errorf("volume = %v, want rounded 1.23", got.Volume)
	}
	if got.StopLoss == nil || *got.StopLoss != 1.08 {
		t.Errorf("stopLoss not forwarded: %v", got.StopLoss)
	}
	if res.OrderID != "555" {
		t.Errorf("order id = %s, want 555", res.OrderID)
	}
	if res.Price != 1.0851 {
		t.Errorf("fill price = %v, want 1.0851 from position", res.Price)
	}
}

func TestMetaTraderRejectedTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"numericCode":10019,"stringCode":"TRADE_RETCODE_NO_MONEY","message":"not enough money"}`)
	}))
	defer srv.Close()

	client := NewMetaTraderClient(MetaTraderConfig{Token: "t", BaseURL: srv.URL}, "1", testLogger())

	_, err := client.PlaceTrade(context.Background(), TradeRequest{Symbol: "EURUSD", Side: Sell, Volume: 0.1})

	var protocolErr *ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("non-2xx is a retryable protocol error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewCTraderClient(CTraderConfig{AccessToken: "x", BaseURL: srv.URL}, "7", testLogger())
		_, err := client.PlaceTrade(context.Background(), TradeRequest{Symbol: "EURUSD", Side: Buy, Volume: 1})

		var protocolErr *ProtocolError
		if !errors.As(err, &protocolErr) {
			t.Fatalf("expected ProtocolError, got %v", err)
		}
		if protocolErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", protocolErr.StatusCode)
		}
		if IsConnectionError(err) {
			t.Error("protocol error must not be a connection error")
		}
		if !IsRetryable(err) {
			t.Error("protocol error should be retryable")
		}
	})

	t.Run("malformed body is a protocol error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"orderId":`)
		}))
		defer srv.Close()

		client := NewMatchTraderClient(MatchTraderConfig{APIKey: "k", ServerURL: srv.URL}, "7", testLogger())
		_, err := client.PlaceTrade(context.Background(), TradeRequest{Symbol: "EURUSD", Side: Buy, Volume: 1})

		var protocolErr *ProtocolError
		if !errors.As(err, &protocolErr) {
			t.Fatalf("expected ProtocolError, got %v", err)
		}
	})

	t.Run("refused connection is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		client := NewMatchTraderClient(MatchTraderConfig{APIKey: "k", ServerURL: url}, "7", testLogger())
		_, err := client.GetAccountInfo(context.Background())

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("expected TransportError, got %v", err)
		}
		if !IsConnectionError(err) {
			t.Error("transport error should be a connection error")
		}
	})

	t.Run("message matching", func(t *testing.T) {
		for _, msg := range []string{"dial tcp: ECONNREFUSED", "read: connection reset by peer", "Network Error", "request timeout"} {
			if !IsConnectionError(errors.New(msg)) {
				t.Errorf("%q should be a connection error", msg)
			}
		}
		if IsConnectionError(errors.New("insufficient margin")) {
			t.Error("business error must not be a connection error")
		}
	})

	t.Run("zero volume is not retried", func(t *testing.T) {
		client := NewCTraderClient(CTraderConfig{AccessToken: "x", BaseURL: "http://127.0.0.1:1"}, "7", testLogger())
		_, err := client.PlaceTrade(context.Background(), TradeRequest{Symbol: "EURUSD", Side: Buy, Volume: 0.001})

		if !errors.Is(err, ErrInvalidVolume) {
			t.Fatalf("expected ErrInvalidVolume, got %v", err)
		}
		if IsRetryable(err) {
			t.Error("invalid volume must not be retryable")
		}
	})
}

func signedToken(t *testing.T, exp time.Time, id string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        id,
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	s, err := token.SignedString([]byte("broker-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	return s
}

func TestTradeLockerAuthentication(t *testing.T) {
	t.Run("logs in once and reuses the token", func(t *testing.T) {
		var logins atomic.Int32
		token := signedToken(t, time.Now().Add(time.Hour), "a")

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/auth/jwt/login":
				logins.Add(1)
				var req tradeLockerLoginRequest
				json.NewDecoder(r.Body).Decode(&req)
				if req.Email != "trader@example.com" || req.Server != "DEMO" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				fmt.Fprintf(w, `{"accessToken":%q}`, token)
			case "/trade/accounts/42/orders":
				if r.Header.Get("Authorization") != "Bearer "+token {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				fmt.Fprint(w, `{"s":"ok","d":{"orderId":"o-1","price":2350.5,"lots":0.5}}`)
			default:
				http.NotFound(w, r)
			}
		}))
		defer srv.Close()

		client := NewTradeLockerClient(TradeLockerConfig{
			Email: "trader@example.com", Password: "pw", Server: "DEMO", BaseURL: srv.URL,
		}, "42", testLogger())

		for range 2 {
			res, err := client.PlaceTrade(context.Background(), TradeRequest{Symbol: "XAUUSD", Side: Buy, Volume: 0.5})
			if err != nil {
				t.Fatalf("PlaceTrade failed: %v", err)
			}
			if res.OrderID != "o-1" || res.Price != 2350.5 {
				t.Errorf("unexpected result %+v", res)
			}
		}

		if logins.Load() != 1 {
			t.Errorf("logins = %d, want 1", logins.Load())
		}
	})

	t.Run("re-authenticates once on 401", func(t *testing.T) {
		var logins atomic.Int32
		tokens := []string{
			signedToken(t, time.Now().Add(time.Hour), "stale"),
			signedToken(t, time.Now().Add(time.Hour), "fresh"),
		}

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/auth/jwt/login":
				n := logins.Add(1)
				fmt.Fprintf(w, `{"accessToken":%q}`, tokens[min(int(n), len(tokens))-1])
			case "/trade/accounts/42":
				if r.Header.Get("Authorization") != "Bearer "+tokens[1] {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				fmt.Fprint(w, `{"d":{"balance":5000,"equity":5100}}`)
			}
		}))
		defer srv.Close()

		client := NewTradeLockerClient(TradeLockerConfig{Email: "e", Password: "p", BaseURL: srv.URL}, "42", testLogger())

		info, err := client.GetAccountInfo(context.Background())
		if err != nil {
			t.Fatalf("GetAccountInfo failed: %v", err)
		}
		if info.Balance != 5000 {
			t.Errorf("balance = %v, want 5000", info.Balance)
		}
		if logins.Load() != 2 {
			t.Errorf("logins = %d, want 2", logins.Load())
		}
	})

	t.Run("persistent 401 surfaces as AuthenticationError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/auth/jwt/login" {
				fmt.Fprint(w, `{"accessToken":"opaque"}`)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := NewTradeLockerClient(TradeLockerConfig{Email: "e", Password: "p", BaseURL: srv.URL}, "42", testLogger())

		_, err := client.GetPositions(context.Background())

		var authErr *AuthenticationError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthenticationError, got %v", err)
		}
	})

	t.Run("refreshes a token that is about to expire", func(t *testing.T) {
		var logins atomic.Int32

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/auth/jwt/login" {
				logins.Add(1)
				fmt.Fprintf(w, `{"accessToken":%q}`, signedToken(t, time.Now().Add(10*time.Second), "short"))
				return
			}
			fmt.Fprint(w, `{"d":[]}`)
		}))
		defer srv.Close()

		client := NewTradeLockerClient(TradeLockerConfig{Email: "e", Password: "p", BaseURL: srv.URL}, "42", testLogger())

		for range 2 {
			if _, err := client.GetPositions(context.Background()); err != nil {
				t.Fatalf("GetPositions failed: %v", err)
			}
		}

		if logins.Load() != 2 {
			t.Errorf("logins = %d, want 2 (token expires within refresh skew)", logins.Load())
		}
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistryFromSettings(Settings{
		MetaTrader: MetaTraderConfig{Token: "t"},
	}, testLogger())

	if !r.Supports(MetaTrader) {
		t.Error("metatrader should be registered")
	}

	client, err := r.NewClient(MetaTrader, "1")
	if err != nil || client == nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := r.NewClient(TradeLocker, "1"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("expected ErrUnsupportedPlatform for unconfigured platform, got %v", err)
	}
}
