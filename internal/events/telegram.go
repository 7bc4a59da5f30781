package events

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"propcopy/internal/copytrading"
)

// TelegramSink отправляет итоги копирования в чат оператора
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramBot авторизует бота. Пустой endpoint означает api.telegram.org.
func NewTelegramBot(token, endpoint string, logger *slog.Logger) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logger.Info("✅ Bot authorized", slog.String("username", bot.Self.UserName))

	return bot, nil
}

// NewTelegramSink создает синк для чата chatID
func NewTelegramSink(bot *tgbotapi.BotAPI, chatID int64, logger *slog.Logger) *TelegramSink {
	return &TelegramSink{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}
}

func (t *TelegramSink) Name() string { return "telegram" }

// Send отправляет только итоговые события; отдельные исполнения в чат не попадают
func (t *TelegramSink) Send(_ context.Context, e copytrading.Event) error {
	text := formatTelegram(e)
	if text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	return nil
}

func formatTelegram(e copytrading.Event) string {
	switch e.Type {
	case copytrading.EventCopyTrade:
		if e.Result == nil {
			return ""
		}
		return formatResult(e)

	case copytrading.EventCopyTradeFailed:
		return fmt.Sprintf("❌ <b>Copy trade failed</b>\n%s %s\nMaster: <code>%s</code>\n%s",
			e.Side, html.EscapeString(e.Symbol), html.EscapeString(e.MasterAccountID), html.EscapeString(e.Error))
	}

	return ""
}

func formatResult(e copytrading.Event) string {
	r := e.Result

	status := "✅"
	switch {
	case r.IsPartialSuccess():
		status = "⚠️"
	case !r.IsFullSuccess():
		status = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Copy trade</b> %s %s\n", status, e.Side, html.EscapeString(e.Symbol))
	fmt.Fprintf(&b, "Master: %s %.2f lots @ %g\n", accountLabel(r.Master), r.Master.Volume, r.Master.Price)
	fmt.Fprintf(&b, "Slaves: %d ok / %d failed (%d ms)\n", r.SuccessCount(), r.FailedCount(), r.ExecutionTimeMs)

	for _, s := range r.Slaves {
		if s.Success {
			fmt.Fprintf(&b, "  ✅ %s %.2f lots\n", accountLabel(s), s.Volume)
			continue
		}
		fmt.Fprintf(&b, "  ❌ %s: %s\n", accountLabel(s), html.EscapeString(s.Error))
	}

	return strings.TrimRight(b.String(), "\n")
}

func accountLabel(r copytrading.ExecutionResult) string {
	if r.AccountName != "" {
		return html.EscapeString(r.AccountName)
	}
	return "<code>" + html.EscapeString(r.AccountID) + "</code>"
}
