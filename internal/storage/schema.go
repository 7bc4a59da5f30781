package storage

// schema выполняется по одному выражению: pgx не принимает несколько команд в prepared statement.
// Типы выбраны так, чтобы DDL был общим для SQLite и Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		propfirm_name TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL,
		account_number TEXT NOT NULL,
		server TEXT NOT NULL DEFAULT '',
		credentials TEXT NOT NULL DEFAULT '',
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		equity DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_master BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(platform, account_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id)`,

	// Ровно один мастер на группу и одна группа на мастер
	`CREATE TABLE IF NOT EXISTS copy_groups (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		master_account_id TEXT NOT NULL UNIQUE REFERENCES accounts(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS copy_slaves (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES copy_groups(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		position INTEGER NOT NULL,
		UNIQUE(group_id, account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_copy_slaves_group ON copy_slaves(group_id, position)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		symbol TEXT NOT NULL,
		type TEXT NOT NULL,
		lot_size DOUBLE PRECISION NOT NULL,
		open_price DOUBLE PRECISION NOT NULL,
		close_price DOUBLE PRECISION,
		stop_loss DOUBLE PRECISION,
		take_profit DOUBLE PRECISION,
		profit DOUBLE PRECISION,
		open_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP,
		status TEXT NOT NULL,
		risk_percentage DOUBLE PRECISION NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		screenshot TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user_time ON trades(user_id, open_time)`,

	`CREATE TABLE IF NOT EXISTS execution_details (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_details_trade ON execution_details(trade_id)`,
}
