package compliance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"propcopy/internal/models"
	"propcopy/internal/platform"
)

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		" FTMO ":          "FTMO",
		"f.t.m.o":         "FTMO",
		"tft":             "The Funded Trader",
		"Apex":            "Apex Trader Funding",
		"Unknown Capital": "Unknown Capital",
	}

	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWhitelistValidate(t *testing.T) {
	w, err := LoadWhitelist("")
	if err != nil {
		t.Fatalf("failed to load default whitelist: %v", err)
	}

	tests := []struct {
		name     string
		propfirm string
		platform string
		valid    bool
		contains string
	}{
		{"approved", "ftmo.com", "MetaTrader 5", true, "approved"},
		{"platform from account", "FTMO", "ctrader", true, "approved"},
		{"unsupported platform", "FTMO", "TradeLocker", false, "does not support"},
		{"unknown firm", "Acme Funding", "MetaTrader 5", false, "not in our database"},
		{"tft prohibits copy trading", "tft", "MetaTrader 4", false, "TFT explicitly prohibits"},
		{"ftuk prohibits copy trading", "FTUK", "MetaTrader 4", false, "FTUK does not allow"},
		{"topstep mt only", "TopStep", "cTrader", false, "only supports"},
		{"topstep on mt5", "topstep", "metatrader", true, "approved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := w.Validate(tt.propfirm, tt.platform)
			if res.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v (%s)", res.IsValid, tt.valid, res.Message)
			}
			if !strings.Contains(res.Message, tt.contains) {
				t.Errorf("message %q does not contain %q", res.Message, tt.contains)
			}
		})
	}
}

func TestWhitelistParse(t *testing.T) {
	if _, err := ParseWhitelist([]byte("propfirms:\n  - name: FTMO\n  - name: ftmo\n")); err == nil {
		t.Error("expected duplicate entry error")
	}

	if _, err := ParseWhitelist([]byte("propfirms: [")); err == nil {
		t.Error("expected yaml error")
	}

	w, err := ParseWhitelist([]byte("propfirms:\n  - name: Acme\n    allows_copy_trading: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Rules("acme"); len(got) != len(defaultRules) {
		t.Errorf("expected default rules, got %v", got)
	}
}

func TestAlternatives(t *testing.T) {
	w, err := LoadWhitelist("")
	if err != nil {
		t.Fatal(err)
	}

	alts := w.Alternatives(5)
	if len(alts) != 5 {
		t.Fatalf("expected 5 alternatives, got %v", alts)
	}
	for _, a := range alts {
		if a == "The Funded Trader" || a == "FTUK" {
			t.Errorf("prohibited firm %s suggested", a)
		}
	}
}

type countFunc func(ctx context.Context, userID string, since time.Time) (int, error)

func (f countFunc) CountTradesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return f(ctx, userID, since)
}

func TestRiskManager(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	var gotSince time.Time
	counter := countFunc(func(_ context.Context, _ string, since time.Time) (int, error) {
		gotSince = since
		return 5, nil
	})

	r := NewRiskManager(RiskLimits{MaxRiskPerTrade: 2, MaxTradesPerDay: 5}, counter)
	r.now = func() time.Time { return now }

	d, err := r.Check(ctx, "u1", 3)
	if err != nil || d.Allowed || !strings.Contains(d.Reason, "exceeds maximum") {
		t.Errorf("expected risk denial, got %+v, %v", d, err)
	}

	d, err = r.Check(ctx, "u1", 1)
	if err != nil || d.Allowed || !strings.Contains(d.Reason, "Daily trade limit") {
		t.Errorf("expected daily limit denial, got %+v, %v", d, err)
	}
	if !gotSince.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v, want start of day", gotSince)
	}

	failing := NewRiskManager(RiskLimits{MaxTradesPerDay: 1}, countFunc(func(context.Context, string, time.Time) (int, error) {
		return 0, errors.New("db down")
	}))
	if _, err := failing.Check(ctx, "u1", 1); err == nil {
		t.Error("expected counter error to propagate")
	}
}

func TestGate(t *testing.T) {
	w, err := LoadWhitelist("")
	if err != nil {
		t.Fatal(err)
	}

	g := NewGate(w, NewRiskManager(RiskLimits{MaxRiskPerTrade: 2}, nil), slog.New(slog.NewTextHandler(io.Discard, nil)))
	intent := models.TradeIntent{Symbol: "EURUSD", Type: platform.Buy, RiskPercentage: 1}

	d, err := g.Evaluate(context.Background(), models.Account{Platform: platform.CTrader}, intent)
	if err != nil || !d.Allowed {
		t.Errorf("personal account should pass, got %+v, %v", d, err)
	}

	d, _ = g.Evaluate(context.Background(), models.Account{PropfirmName: "TFT", Platform: platform.MetaTrader}, intent)
	if d.Allowed {
		t.Error("TFT account should be denied")
	}

	intent.RiskPercentage = 5
	d, _ = g.Evaluate(context.Background(), models.Account{PropfirmName: "FTMO", Platform: platform.MetaTrader}, intent)
	if d.Allowed {
		t.Error("risk above limit should be denied")
	}
}
