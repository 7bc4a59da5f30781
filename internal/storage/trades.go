package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"propcopy/internal/models"
	"propcopy/internal/platform"
)

// InsertTrade сохраняет сделку мастера в журнал
func (s *Store) InsertTrade(ctx context.Context, t models.Trade) (models.Trade, error) {
	t.ID = uuid.NewString()
	if t.OpenTime.IsZero() {
		t.OpenTime = s.now()
	}
	t.OpenTime = t.OpenTime.UTC()
	if t.Status == "" {
		t.Status = models.TradeOpen
	}

	_, err := s.exec(ctx, `
		INSERT INTO trades (
			id, user_id, account_id, symbol, type, lot_size, open_price, close_price,
			stop_loss, take_profit, profit, open_time, close_time, status,
			risk_percentage, notes, screenshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.AccountID, t.Symbol, string(t.Type), t.LotSize, t.OpenPrice, nullFloat(t.ClosePrice),
		nullFloat(t.StopLoss), nullFloat(t.TakeProfit), nullFloat(t.Profit), t.OpenTime, nullTime(t.CloseTime),
		string(t.Status), t.RiskPercentage, t.Notes, t.Screenshot)
	if err != nil {
		return models.Trade{}, fmt.Errorf("failed to create trade: %w", err)
	}

	s.logger.Info("💾 Trade saved",
		slog.String("id", t.ID),
		slog.String("symbol", t.Symbol),
		slog.Float64("lots", t.LotSize))

	return t, nil
}

// AddExecutions сохраняет детали исполнения по каждому счёту в одной транзакции
func (s *Store) AddExecutions(ctx context.Context, tradeID string, details []models.ExecutionDetail) error {
	if len(details) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO execution_details (
			id, trade_id, account_id, role, status, error, order_id, volume, price, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, d := range details {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}

		_, err := stmt.ExecContext(ctx, uuid.NewString(), tradeID, d.AccountID, d.Role, d.Status, d.Error,
			d.OrderID, d.Volume, d.Price, d.LatencyMs, d.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save execution detail: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution details: %w", err)
	}

	return nil
}

// ListTrades возвращает последние сделки пользователя вместе с деталями исполнения
func (s *Store) ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.query(ctx, `
		SELECT id, user_id, account_id, symbol, type, lot_size, open_price, close_price,
			stop_loss, take_profit, profit, open_time, close_time, status,
			risk_percentage, notes, screenshot
		FROM trades
		WHERE user_id = ?
		ORDER BY open_time DESC, id
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}

	trades := []models.Trade{}
	for rows.Next() {
		var t models.Trade
		var side, status string
		var closePrice, sl, tp, profit sql.NullFloat64
		var closeTime sql.NullTime

		err := rows.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Symbol, &side, &t.LotSize, &t.OpenPrice, &closePrice,
			&sl, &tp, &profit, &t.OpenTime, &closeTime, &status, &t.RiskPercentage, &t.Notes, &t.Screenshot)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		t.Type = platform.Side(side)
		t.Status = models.TradeStatus(status)
		t.ClosePrice = floatPtr(closePrice)
		t.StopLoss = floatPtr(sl)
		t.TakeProfit = floatPtr(tp)
		t.Profit = floatPtr(profit)
		if closeTime.Valid {
			ct := closeTime.Time
			t.CloseTime = &ct
		}

		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// С одним соединением (SQLite) курсор нужно закрыть до следующего запроса
	rows.Close()

	for i := range trades {
		details, err := s.executions(ctx, trades[i].ID)
		if err != nil {
			return nil, err
		}
		trades[i].Executions = details
	}

	return trades, nil
}

func (s *Store) executions(ctx context.Context, tradeID string) ([]models.ExecutionDetail, error) {
	rows, err := s.query(ctx, `
		SELECT id, trade_id, account_id, role, status, error, order_id, volume, price, latency_ms, created_at
		FROM execution_details
		WHERE trade_id = ?
		ORDER BY created_at, id
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution details: %w", err)
	}
	defer rows.Close()

	details := []models.ExecutionDetail{}
	for rows.Next() {
		var d models.ExecutionDetail
		err := rows.Scan(&d.ID, &d.TradeID, &d.AccountID, &d.Role, &d.Status, &d.Error,
			&d.OrderID, &d.Volume, &d.Price, &d.LatencyMs, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution detail: %w", err)
		}
		details = append(details, d)
	}

	return details, rows.Err()
}

// CountTradesSince считает сделки пользователя, открытые начиная с since
func (s *Store) CountTradesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int

	err := s.queryRow(ctx, `SELECT COUNT(*) FROM trades WHERE user_id = ? AND open_time >= ?`,
		userID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}

	return n, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
