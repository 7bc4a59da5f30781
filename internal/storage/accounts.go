package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"propcopy/internal/models"
	"propcopy/internal/platform"
)

const accountColumns = `id, user_id, name, propfirm_name, platform, account_number, server,
	credentials, balance, equity, is_master, is_active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAccount(row rowScanner) (models.Account, error) {
	var acc models.Account
	var p, creds string

	err := row.Scan(&acc.ID, &acc.UserID, &acc.Name, &acc.PropfirmName, &p, &acc.AccountNumber,
		&acc.Server, &creds, &acc.Balance, &acc.Equity, &acc.IsMaster, &acc.IsActive, &acc.CreatedAt)
	if err != nil {
		return models.Account{}, err
	}

	acc.Platform = platform.Platform(p)

	acc.Credentials, err = s.openCredentials(creds)
	if err != nil {
		return models.Account{}, fmt.Errorf("account %s: %w", acc.ID, err)
	}

	return acc, nil
}

// CreateAccount добавляет счёт. Платформа нормализуется, учетные данные шифруются.
func (s *Store) CreateAccount(ctx context.Context, acc models.Account) (models.Account, error) {
	p, err := platform.ParsePlatform(string(acc.Platform))
	if err != nil {
		return models.Account{}, err
	}
	acc.Platform = p

	creds, err := s.sealCredentials(acc.Credentials)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to seal credentials: %w", err)
	}

	acc.ID = uuid.NewString()
	acc.CreatedAt = s.now()

	_, err = s.exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, acc.ID, acc.UserID, acc.Name, acc.PropfirmName, string(acc.Platform), acc.AccountNumber, acc.Server,
		creds, acc.Balance, acc.Equity, acc.IsMaster, acc.IsActive, acc.CreatedAt)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to add account: %w", err)
	}

	s.logger.Info("✅ Account added",
		slog.String("id", acc.ID),
		slog.String("name", acc.Name),
		slog.String("platform", string(acc.Platform)))

	return acc, nil
}

// FindAccount возвращает счёт по ID или models.ErrNotFound
func (s *Store) FindAccount(ctx context.Context, id string) (models.Account, error) {
	acc, err := s.scanAccount(s.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, models.ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	return acc, nil
}

// ListAccounts возвращает счета пользователя
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	rows, err := s.query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		acc, err := s.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

// UpdateAccountBalance сохраняет баланс и equity, полученные от брокера
func (s *Store) UpdateAccountBalance(ctx context.Context, id string, balance, equity float64) error {
	res, err := s.exec(ctx, `UPDATE accounts SET balance = ?, equity = ? WHERE id = ?`, balance, equity, id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	s.logger.Debug("Balance updated",
		slog.String("id", id),
		slog.Float64("balance", balance),
		slog.Float64("equity", equity))

	return nil
}

// SetAccountActive включает или отключает счёт
func (s *Store) SetAccountActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, `UPDATE accounts SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	return nil
}
