package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"propcopy/internal/models"
)

// CreateGroup создает группу копирования и помечает счёт мастером
func (s *Store) CreateGroup(ctx context.Context, g models.CopyGroup) (models.CopyGroup, error) {
	g.ID = uuid.NewString()
	g.CreatedAt = s.now()
	g.Slaves = []models.Slave{}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.CopyGroup{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE accounts SET is_master = ? WHERE id = ?`), true, g.MasterAccountID)
	if err != nil {
		return models.CopyGroup{}, fmt.Errorf("failed to mark master account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.CopyGroup{}, models.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO copy_groups (id, user_id, name, master_account_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), g.ID, g.UserID, g.Name, g.MasterAccountID, g.IsActive, g.CreatedAt)
	if err != nil {
		return models.CopyGroup{}, fmt.Errorf("failed to create group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.CopyGroup{}, fmt.Errorf("failed to commit group: %w", err)
	}

	s.logger.Info("✅ Copy group created",
		slog.String("id", g.ID),
		slog.String("master", g.MasterAccountID))

	return g, nil
}

// FindGroupByMaster возвращает группу мастера со всеми подписчиками (в т.ч. неактивными)
func (s *Store) FindGroupByMaster(ctx context.Context, masterAccountID string) (models.CopyGroup, error) {
	var g models.CopyGroup

	err := s.queryRow(ctx, `
		SELECT id, user_id, name, master_account_id, is_active, created_at
		FROM copy_groups
		WHERE master_account_id = ?
	`, masterAccountID).Scan(&g.ID, &g.UserID, &g.Name, &g.MasterAccountID, &g.IsActive, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CopyGroup{}, models.ErrNotFound
	}
	if err != nil {
		return models.CopyGroup{}, fmt.Errorf("failed to get group: %w", err)
	}

	rows, err := s.query(ctx, `
		SELECT id, group_id, account_id, multiplier, is_active
		FROM copy_slaves
		WHERE group_id = ?
		ORDER BY position
	`, g.ID)
	if err != nil {
		return models.CopyGroup{}, fmt.Errorf("failed to get slaves: %w", err)
	}
	defer rows.Close()

	g.Slaves = []models.Slave{}
	for rows.Next() {
		var sl models.Slave
		if err := rows.Scan(&sl.ID, &sl.GroupID, &sl.AccountID, &sl.Multiplier, &sl.IsActive); err != nil {
			return models.CopyGroup{}, fmt.Errorf("failed to scan slave: %w", err)
		}
		g.Slaves = append(g.Slaves, sl)
	}

	return g, rows.Err()
}

// SetGroupActive включает или приостанавливает копирование группы
func (s *Store) SetGroupActive(ctx context.Context, groupID string, active bool) error {
	res, err := s.exec(ctx, `UPDATE copy_groups SET is_active = ? WHERE id = ?`, active, groupID)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	return nil
}

// AddSlave добавляет подписчика в конец группы; существующее членство обновляется
func (s *Store) AddSlave(ctx context.Context, slave models.Slave) (models.Slave, error) {
	_, err := s.exec(ctx, `
		INSERT INTO copy_slaves (id, group_id, account_id, multiplier, is_active, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM copy_slaves WHERE group_id = ?))
		ON CONFLICT (group_id, account_id)
		DO UPDATE SET multiplier = excluded.multiplier, is_active = excluded.is_active
	`, uuid.NewString(), slave.GroupID, slave.AccountID, slave.Multiplier, slave.IsActive, slave.GroupID)
	if err != nil {
		return models.Slave{}, fmt.Errorf("failed to add slave: %w", err)
	}

	err = s.queryRow(ctx, `
		SELECT id, group_id, account_id, multiplier, is_active
		FROM copy_slaves
		WHERE group_id = ? AND account_id = ?
	`, slave.GroupID, slave.AccountID).Scan(&slave.ID, &slave.GroupID, &slave.AccountID, &slave.Multiplier, &slave.IsActive)
	if err != nil {
		return models.Slave{}, fmt.Errorf("failed to read slave: %w", err)
	}

	return slave, nil
}

// SetSlaveActive меняет флаг подписчика. Членство никогда не удаляется.
func (s *Store) SetSlaveActive(ctx context.Context, groupID, accountID string, active bool) error {
	res, err := s.exec(ctx, `UPDATE copy_slaves SET is_active = ? WHERE group_id = ? AND account_id = ?`,
		active, groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to update slave: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	return nil
}

// groupMaster возвращает мастер-счёт группы
func (s *Store) groupMaster(ctx context.Context, groupID string) (string, error) {
	var master string

	err := s.queryRow(ctx, `SELECT master_account_id FROM copy_groups WHERE id = ?`, groupID).Scan(&master)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}

	return master, err
}
