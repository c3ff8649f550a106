// Package journal records dispatch attempts in SQLite for later audit.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/ucp-hub/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/dispatch"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/journal/migrations"
	_ "modernc.org/sqlite"
)

// Store persists dispatch records.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the journal at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record inserts one dispatch attempt.
func (s *Store) Record(ctx context.Context, record dispatch.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("journal is not configured")
	}
	if strings.TrimSpace(record.RequestID) == "" {
		return fmt.Errorf("request id is required")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO dispatches (request_id, idempotency_key, tool, operation, method, url, status_code, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RequestID,
		record.IdempotencyKey,
		record.Tool,
		record.Operation,
		record.Method,
		record.URL,
		record.StatusCode,
		record.Error,
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]dispatch.Record, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT request_id, idempotency_key, tool, operation, method, url, status_code, error, created_at
FROM dispatches
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var records []dispatch.Record
	for rows.Next() {
		var (
			record    dispatch.Record
			createdAt int64
		)
		if err := rows.Scan(
			&record.RequestID,
			&record.IdempotencyKey,
			&record.Tool,
			&record.Operation,
			&record.Method,
			&record.URL,
			&record.StatusCode,
			&record.Error,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return records, nil
}
