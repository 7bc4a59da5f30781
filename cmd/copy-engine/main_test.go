package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestMultiHandler(t *testing.T) {
	var debug, info bytes.Buffer

	logger := slog.New(&multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}})

	logger.Debug("noisy")
	logger.With(slog.String("component", "engine")).WithGroup("trade").Info("copied", slog.String("symbol", "EURUSD"))

	if !strings.Contains(debug.String(), "noisy") {
		t.Error("debug handler must receive debug records")
	}
	if strings.Contains(info.String(), "noisy") {
		t.Error("info handler must skip debug records")
	}

	for _, out := range []string{debug.String(), info.String()} {
		if !strings.Contains(out, "component=engine") || !strings.Contains(out, "trade.symbol=EURUSD") {
			t.Errorf("attrs or group lost: %q", out)
		}
	}
}
