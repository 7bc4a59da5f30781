package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"propcopy/internal/auth"
	"propcopy/internal/compliance"
	"propcopy/internal/copytrading"
	"propcopy/internal/events"
	"propcopy/internal/models"
	"propcopy/internal/platform"
	"propcopy/internal/pool"
	"propcopy/internal/secrets"
	"propcopy/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	info      platform.AccountInfo
	positions []platform.Position
	closeErr  error
	closed    []string
}

func (c *fakeClient) GetAccountInfo(context.Context) (platform.AccountInfo, error) {
	return c.info, nil
}

func (c *fakeClient) GetPositions(context.Context) ([]platform.Position, error) {
	return c.positions, nil
}

func (c *fakeClient) PlaceTrade(context.Context, platform.TradeRequest) (platform.TradeResult, error) {
	return platform.TradeResult{}, errors.New("not used")
}

func (c *fakeClient) ClosePosition(_ context.Context, id string) error {
	c.closed = append(c.closed, id)
	return c.closeErr
}

type fakeConns struct {
	client  *fakeClient
	metrics []pool.LatencyMetric
	best    platform.Platform
}

func (f *fakeConns) Get(_ context.Context, pl platform.Platform, _ string) (platform.Client, error) {
	if pl != platform.MetaTrader {
		return nil, fmt.Errorf("%w: %s", platform.ErrUnsupportedPlatform, pl)
	}
	return f.client, nil
}

func (f *fakeConns) LatencyMetrics() []pool.LatencyMetric { return f.metrics }

func (f *fakeConns) BestPerformingPlatform() (platform.Platform, bool) {
	return f.best, f.best != ""
}

func (f *fakeConns) Snapshot() []pool.ConnInfo {
	return []pool.ConnInfo{{Platform: platform.MetaTrader, AccountID: "1001", Healthy: true}}
}

type fakeEngine struct {
	result copytrading.CopyTradeResult
	err    error
}

func (f *fakeEngine) ExecuteCopyTrade(context.Context, string, models.TradeIntent) (copytrading.CopyTradeResult, error) {
	return f.result, f.err
}

func (f *fakeEngine) AddSlave(context.Context, string, string, float64) (models.Slave, error) {
	return models.Slave{}, f.err
}

func (f *fakeEngine) RemoveSlave(context.Context, string, string) error {
	return f.err
}

type testEnv struct {
	t      *testing.T
	router http.Handler
	store  *storage.Store
	conns  *fakeConns
	auth   *auth.Service
}

func newTestEnv(t *testing.T, engine func(*storage.Store) CopyTrader) *testEnv {
	t.Helper()

	box, err := secrets.NewBox("test-key")
	if err != nil {
		t.Fatal(err)
	}

	store, err := storage.Open(context.Background(), storage.SQLite, filepath.Join(t.TempDir(), "api.db"), box, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	whitelist, err := compliance.LoadWhitelist("")
	if err != nil {
		t.Fatal(err)
	}

	conns := &fakeConns{client: &fakeClient{}}
	authService := auth.NewService("test-secret", time.Hour)

	h := New(store, engine(store), conns, whitelist, events.NewHub(testLogger()), authService, testLogger())

	return &testEnv{
		t:      t,
		router: h.SetupRouter(nil),
		store:  store,
		conns:  conns,
		auth:   authService,
	}
}

func dryRunEngine(store *storage.Store) CopyTrader {
	return copytrading.NewEngine(store, store, store, copytrading.NewDryRunExecutor(testLogger()), testLogger())
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()

	token, err := e.auth.GenerateToken(userID, "user-"+userID)
	if err != nil {
		e.t.Fatal(err)
	}
	return token
}

func (e *testEnv) account(userID, name, number string, p platform.Platform) models.Account {
	e.t.Helper()

	acc, err := e.store.CreateAccount(context.Background(), models.Account{
		UserID:        userID,
		Name:          name,
		Platform:      p,
		AccountNumber: number,
		Credentials:   map[string]string{"password": "secret-" + number},
		Balance:       10000,
		IsActive:      true,
	})
	if err != nil {
		e.t.Fatal(err)
	}
	return acc
}

type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(method, path, token string, body any) (int, envelope) {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			e.t.Fatalf("%s %s: invalid JSON %q", method, path, rec.Body.String())
		}
	}

	return rec.Code, env
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)

	creds := LoginRequest{Username: "alice", Password: "correct-horse"}

	code, resp := env.do(http.MethodPost, "/api/auth/register", "", creds)
	if code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d (%s)", code, resp.Error)
	}

	if code, _ := env.do(http.MethodPost, "/api/auth/register", "", creds); code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", code)
	}
	if code, _ := env.do(http.MethodPost, "/api/auth/register", "", LoginRequest{Username: "bob", Password: "short"}); code != http.StatusBadRequest {
		t.Errorf("short password: expected 400, got %d", code)
	}
	if code, _ := env.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "wrong-password"}); code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", code)
	}
	if code, _ := env.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "nobody", Password: "whatever1"}); code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", code)
	}

	code, resp = env.do(http.MethodPost, "/api/auth/login", "", creds)
	if code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", code)
	}

	var login LoginResponse
	if err := json.Unmarshal(resp.Data, &login); err != nil {
		t.Fatal(err)
	}

	claims, err := env.auth.ValidateToken(login.Token)
	if err != nil {
		t.Fatalf("issued token is invalid: %v", err)
	}
	if claims.UserID != login.UserID || claims.Username != "alice" {
		t.Errorf("unexpected claims %+v", claims)
	}

	if code, _ := env.do(http.MethodGet, "/api/accounts", login.Token, nil); code != http.StatusOK {
		t.Errorf("authorized request: expected 200, got %d", code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"foreign secret", func() string {
			tok, _ := auth.NewService("other-secret", time.Hour).GenerateToken("u1", "x")
			return tok
		}()},
		{"expired", func() string {
			tok, _ := auth.NewService("test-secret", -time.Minute).GenerateToken("u1", "x")
			return tok
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := env.do(http.MethodGet, "/api/accounts", tt.token, nil); code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", code)
			}
		})
	}

	if code, _ := env.do(http.MethodGet, "/health", "", nil); code != http.StatusOK {
		t.Errorf("health must be public, got %d", code)
	}
}

func TestAccountsEndpoints(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)
	token := env.token("u1")

	code, resp := env.do(http.MethodPost, "/api/accounts", token, AddAccountRequest{
		Name:          "FTUK challenge",
		PropfirmName:  "FTUK",
		Platform:      "MT5",
		AccountNumber: "7",
	})
	if code != http.StatusForbidden {
		t.Errorf("prohibited propfirm: expected 403, got %d (%s)", code, resp.Error)
	}

	if code, _ := env.do(http.MethodPost, "/api/accounts", token, AddAccountRequest{Name: "x", Platform: "ninjatrader", AccountNumber: "1"}); code != http.StatusBadRequest {
		t.Errorf("unknown platform: expected 400, got %d", code)
	}

	code, resp = env.do(http.MethodPost, "/api/accounts", token, AddAccountRequest{
		Name:          "FTMO 100k",
		PropfirmName:  "ftmo",
		Platform:      "MetaTrader 5",
		AccountNumber: "1001",
		Credentials:   map[string]string{"password": "hunter2"},
		Balance:       100000,
	})
	if code != http.StatusCreated {
		t.Fatalf("add account: expected 201, got %d (%s)", code, resp.Error)
	}

	code, resp = env.do(http.MethodGet, "/api/accounts", token, nil)
	if code != http.StatusOK {
		t.Fatalf("list accounts: expected 200, got %d", code)
	}
	if strings.Contains(string(resp.Data), "hunter2") {
		t.Error("credentials must not be exposed")
	}

	var accounts []models.Account
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].Platform != platform.MetaTrader || accounts[0].Balance != 100000 {
		t.Errorf("unexpected accounts %+v", accounts)
	}

	code, resp = env.do(http.MethodGet, "/api/accounts", env.token("u2"), nil)
	if code != http.StatusOK || string(resp.Data) != "[]" {
		t.Errorf("other operator must see no accounts, got %d %s", code, resp.Data)
	}
}

func TestBrokerEndpoints(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)
	token := env.token("u1")

	acc := env.account("u1", "Main", "1001", platform.MetaTrader)
	ct := env.account("u1", "cTrader", "2002", platform.CTrader)
	foreign := env.account("u2", "Foreign", "3003", platform.MetaTrader)

	env.conns.client.info = platform.AccountInfo{Balance: 5000, Equity: 4900, Currency: "USD"}
	env.conns.client.positions = []platform.Position{{ID: "p1", Symbol: "EURUSD", Side: platform.Buy, Volume: 1}}

	code, _ := env.do(http.MethodPost, "/api/accounts/"+acc.ID+"/sync", token, nil)
	if code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d", code)
	}

	synced, _ := env.store.FindAccount(context.Background(), acc.ID)
	if synced.Balance != 5000 || synced.Equity != 4900 {
		t.Errorf("balance not saved: %+v", synced)
	}

	code, resp := env.do(http.MethodGet, "/api/accounts/"+acc.ID+"/positions", token, nil)
	if code != http.StatusOK {
		t.Fatalf("positions: expected 200, got %d", code)
	}
	var positions []platform.Position
	json.Unmarshal(resp.Data, &positions)
	if len(positions) != 1 || positions[0].ID != "p1" {
		t.Errorf("unexpected positions %+v", positions)
	}

	if code, _ := env.do(http.MethodPost, "/api/accounts/"+acc.ID+"/positions/p1/close", token, nil); code != http.StatusOK {
		t.Errorf("close: expected 200, got %d", code)
	}
	if len(env.conns.client.closed) != 1 || env.conns.client.closed[0] != "p1" {
		t.Errorf("unexpected closed positions %v", env.conns.client.closed)
	}

	env.conns.client.closeErr = &platform.ProtocolError{Op: "close", StatusCode: http.StatusNotFound, Message: "no position"}
	if code, _ := env.do(http.MethodPost, "/api/accounts/"+acc.ID+"/positions/p9/close", token, nil); code != http.StatusNotFound {
		t.Errorf("missing position: expected 404, got %d", code)
	}

	env.conns.client.closeErr = &platform.TransportError{Op: "close", Err: errors.New("connection refused")}
	if code, _ := env.do(http.MethodPost, "/api/accounts/"+acc.ID+"/positions/p1/close", token, nil); code != http.StatusBadGateway {
		t.Errorf("broker down: expected 502, got %d", code)
	}

	if code, _ := env.do(http.MethodGet, "/api/accounts/"+ct.ID+"/positions", token, nil); code != http.StatusBadRequest {
		t.Errorf("unconfigured platform: expected 400, got %d", code)
	}
	if code, _ := env.do(http.MethodGet, "/api/accounts/"+foreign.ID+"/positions", token, nil); code != http.StatusNotFound {
		t.Errorf("foreign account: expected 404, got %d", code)
	}
	if code, _ := env.do(http.MethodPost, "/api/accounts/missing/sync", token, nil); code != http.StatusNotFound {
		t.Errorf("missing account: expected 404, got %d", code)
	}
}

func TestCopyTradeFlow(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)
	token := env.token("u1")

	master := env.account("u1", "Master", "1", platform.MetaTrader)
	slave := env.account("u1", "Slave", "2", platform.MetaTrader)

	trade := CopyTradeRequest{
		MasterAccountID: master.ID,
		Symbol:          "EURUSD",
		Type:            "buy",
		RiskPercentage:  1,
	}

	code, resp := env.do(http.MethodPost, "/api/copy-trades", token, trade)
	if code != http.StatusNotFound || resp.Error != "copy trading not configured" {
		t.Errorf("no group: expected 404, got %d %q", code, resp.Error)
	}

	code, resp = env.do(http.MethodPost, "/api/groups", token, CreateGroupRequest{Name: "main", MasterAccountID: master.ID})
	if code != http.StatusCreated {
		t.Fatalf("create group: expected 201, got %d (%s)", code, resp.Error)
	}
	if code, _ := env.do(http.MethodPost, "/api/groups", token, CreateGroupRequest{Name: "again", MasterAccountID: master.ID}); code != http.StatusConflict {
		t.Errorf("second group: expected 409, got %d", code)
	}

	if code, _ := env.do(http.MethodPost, "/api/groups/"+master.ID+"/slaves", token, AddSlaveRequest{AccountID: master.ID}); code != http.StatusBadRequest {
		t.Errorf("master as slave: expected 400, got %d", code)
	}
	code, resp = env.do(http.MethodPost, "/api/groups/"+master.ID+"/slaves", token, AddSlaveRequest{AccountID: slave.ID, Multiplier: 2})
	if code != http.StatusCreated {
		t.Fatalf("add slave: expected 201, got %d (%s)", code, resp.Error)
	}

	code, resp = env.do(http.MethodPost, "/api/copy-trades", token, trade)
	if code != http.StatusOK {
		t.Fatalf("copy trade: expected 200, got %d (%s)", code, resp.Error)
	}

	var result copytrading.CopyTradeResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatal(err)
	}
	if result.TradeID == "" || !result.IsFullSuccess() || len(result.Slaves) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Master.Volume != 0.01 || result.Slaves[0].Volume != 0.02 {
		t.Errorf("unexpected volumes master=%v slave=%v", result.Master.Volume, result.Slaves[0].Volume)
	}

	code, resp = env.do(http.MethodGet, "/api/trades?limit=10", token, nil)
	if code != http.StatusOK {
		t.Fatalf("trades: expected 200, got %d", code)
	}
	var trades []models.Trade
	json.Unmarshal(resp.Data, &trades)
	if len(trades) != 1 || len(trades[0].Executions) != 2 {
		t.Errorf("expected 1 trade with 2 executions, got %+v", trades)
	}

	if code, _ := env.do(http.MethodGet, "/api/trades?limit=0", token, nil); code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", code)
	}

	if code, _ := env.do(http.MethodDelete, "/api/groups/"+master.ID+"/slaves/"+slave.ID, token, nil); code != http.StatusOK {
		t.Errorf("remove slave: expected 200, got %d", code)
	}
	if code, _ := env.do(http.MethodDelete, "/api/groups/"+master.ID+"/slaves/missing", token, nil); code != http.StatusNotFound {
		t.Errorf("remove unknown slave: expected 404, got %d", code)
	}

	code, resp = env.do(http.MethodGet, "/api/groups/"+master.ID, token, nil)
	if code != http.StatusOK {
		t.Fatalf("get group: expected 200, got %d", code)
	}
	var group models.CopyGroup
	json.Unmarshal(resp.Data, &group)
	if len(group.Slaves) != 1 || group.Slaves[0].IsActive {
		t.Errorf("slave must stay a member but inactive: %+v", group.Slaves)
	}

	if code, _ := env.do(http.MethodPost, "/api/copy-trades", env.token("u2"), trade); code != http.StatusNotFound {
		t.Errorf("foreign master: expected 404, got %d", code)
	}
}

func TestCopyTradeErrorMapping(t *testing.T) {
	failed := copytrading.CopyTradeResult{Master: copytrading.ExecutionResult{AccountID: "m", Error: "rejected"}}

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"group not found", fmt.Errorf("%w: master m", copytrading.ErrGroupNotFound), http.StatusNotFound, "copy trading not configured"},
		{"account not found", fmt.Errorf("%w: m", copytrading.ErrAccountNotFound), http.StatusNotFound, "copy trading not configured"},
		{"invalid intent", fmt.Errorf("%w: symbol is required", copytrading.ErrInvalidIntent), http.StatusBadRequest, "invalid trade intent: symbol is required"},
		{"denied", fmt.Errorf("%w: FTUK", copytrading.ErrTradeDenied), http.StatusForbidden, "trade denied: FTUK"},
		{"master failed", fmt.Errorf("%w: rejected", copytrading.ErrMasterFailed), http.StatusBadGateway, "execution failed, see per-account detail"},
		{"persistence", errors.New("failed to save trade: disk full"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{result: failed, err: tt.err}
			env := newTestEnv(t, func(*storage.Store) CopyTrader { return eng })
			master := env.account("u1", "Master", "1", platform.MetaTrader)

			code, resp := env.do(http.MethodPost, "/api/copy-trades", env.token("u1"), CopyTradeRequest{
				MasterAccountID: master.ID,
				Symbol:          "EURUSD",
				Type:            "SELL",
				RiskPercentage:  1,
			})
			if code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, code)
			}
			if resp.Error != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, resp.Error)
			}
			if tt.err != nil && tt.wantCode >= 500 && !strings.Contains(string(resp.Data), `"rejected"`) {
				t.Errorf("per-account detail must be returned, got %s", resp.Data)
			}
		})
	}
}

func TestCopyTradeRejectsBadSide(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)
	master := env.account("u1", "Master", "1", platform.MetaTrader)

	code, _ := env.do(http.MethodPost, "/api/copy-trades", env.token("u1"), CopyTradeRequest{
		MasterAccountID: master.ID,
		Symbol:          "EURUSD",
		Type:            "hold",
		RiskPercentage:  1,
	})
	if code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestTelemetryEndpoints(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)
	token := env.token("u1")

	if code, _ := env.do(http.MethodGet, "/api/metrics/best-platform", token, nil); code != http.StatusNotFound {
		t.Errorf("no data: expected 404, got %d", code)
	}

	env.conns.metrics = []pool.LatencyMetric{{Platform: platform.CTrader, AvgLatency: 50, SuccessRate: 100, TotalRequests: 4}}
	env.conns.best = platform.CTrader

	code, resp := env.do(http.MethodGet, "/api/metrics/best-platform", token, nil)
	if code != http.StatusOK || !strings.Contains(string(resp.Data), `"ctrader"`) {
		t.Errorf("unexpected best platform response %d %s", code, resp.Data)
	}

	code, resp = env.do(http.MethodGet, "/api/metrics/latency", token, nil)
	var metrics []pool.LatencyMetric
	json.Unmarshal(resp.Data, &metrics)
	if code != http.StatusOK || len(metrics) != 1 || metrics[0].TotalRequests != 4 {
		t.Errorf("unexpected metrics %d %+v", code, metrics)
	}

	code, resp = env.do(http.MethodGet, "/api/pool", token, nil)
	if code != http.StatusOK || !strings.Contains(string(resp.Data), "1001") {
		t.Errorf("unexpected pool snapshot %d %s", code, resp.Data)
	}
}

func TestValidatePropfirm(t *testing.T) {
	env := newTestEnv(t, dryRunEngine)
	token := env.token("u1")

	code, resp := env.do(http.MethodPost, "/api/propfirms/validate", token, PropfirmRequest{PropfirmName: "TFT", Platform: "MT5"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var v PropfirmResponse
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		t.Fatal(err)
	}
	if v.IsValid || len(v.Alternatives) == 0 || len(v.Rules) == 0 {
		t.Errorf("unexpected validation %+v", v)
	}

	code, resp = env.do(http.MethodPost, "/api/propfirms/validate", token, PropfirmRequest{PropfirmName: "FTMO", Platform: "cTrader"})
	json.Unmarshal(resp.Data, &v)
	if code != http.StatusOK || !v.IsValid {
		t.Errorf("FTMO on cTrader must be valid, got %d %+v", code, v)
	}

	if code, _ := env.do(http.MethodPost, "/api/propfirms/validate", token, PropfirmRequest{}); code != http.StatusBadRequest {
		t.Errorf("empty request: expected 400, got %d", code)
	}
}
