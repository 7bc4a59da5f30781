package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"propcopy/internal/secrets"
)

// Dialect - поддерживаемые СУБД
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect сопоставляет имя драйвера из конфигурации с диалектом
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", s)
	}
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// Store - хранилище счетов, групп копирования и журнала сделок
type Store struct {
	db      *sql.DB
	dialect Dialect
	box     *secrets.Box
	logger  *slog.Logger
	now     func() time.Time
}

// Open открывает БД и применяет миграции
func Open(ctx context.Context, dialect Dialect, dsn string, box *secrets.Box, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		// modernc sqlite не допускает параллельную запись из нескольких соединений
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		box:     box,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init создает таблицы БД
func (s *Store) init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	s.logger.Info("✅ Database initialized", slog.String("dialect", string(s.dialect)))

	return nil
}

// Ping проверяет соединение с БД
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает соединение с БД
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind заменяет плейсхолдеры ? на $n для Postgres
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// sealCredentials шифрует учетные данные в base64-строку для колонки credentials
func (s *Store) sealCredentials(creds map[string]string) (string, error) {
	if len(creds) == 0 {
		return "", nil
	}
	if s.box == nil {
		return "", fmt.Errorf("credentials key is not configured")
	}

	sealed, err := s.box.SealCredentials(creds)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Store) openCredentials(encoded string) (map[string]string, error) {
	if encoded == "" {
		return map[string]string{}, nil
	}
	if s.box == nil {
		return nil, fmt.Errorf("credentials key is not configured")
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	return s.box.OpenCredentials(sealed)
}
