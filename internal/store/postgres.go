package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mtd-vat-service/internal/models"
)

// Postgres implements Store on pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgres creates a pooled connection to Postgres. ttl controls the
// expiry hint written on every upsert.
func NewPostgres(ctx context.Context, dsn string, ttl time.Duration) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, ttl: ttl}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for sibling packages that persist domain
// rows in the same database.
func (s *Postgres) Pool() *pgxpool.Pool {
	return s.pool
}

// Get fetches a record by composite key. Expired records read as absent.
func (s *Postgres) Get(ctx context.Context, userKey, requestID string) (*models.AsyncRequestRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_key, request_id, status, data, created_at, updated_at, expires_at
		FROM async_requests
		WHERE user_key = $1 AND request_id = $2 AND (expires_at IS NULL OR expires_at > NOW())
	`, userKey, requestID)

	var rec models.AsyncRequestRecord
	var status string
	var data []byte
	if err := row.Scan(&rec.UserKey, &rec.RequestID, &status, &data, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan async request: %w", err)
	}
	rec.Status = models.RecordStatus(status)
	if len(data) > 0 {
		rec.Data = json.RawMessage(data)
	}
	return &rec, nil
}

// Put performs the conditional upsert in one statement so that two concurrent
// first-writers converge on a single created_at. The DO UPDATE guard blocks
// terminal-to-non-terminal regressions; a racing pair of terminal writes is
// last-writer-wins, which is acceptable for idempotent operations.
func (s *Postgres) Put(ctx context.Context, userKey, requestID string, status models.RecordStatus, data json.RawMessage) error {
	now := time.Now().UTC()
	var payload any
	if data != nil {
		payload = []byte(data)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO async_requests (user_key, request_id, status, data, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (user_key, request_id) DO UPDATE
		SET status = EXCLUDED.status,
		    data = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at
		WHERE async_requests.status NOT IN ('completed', 'failed')
		   OR EXCLUDED.status IN ('completed', 'failed')
	`, userKey, requestID, string(status), payload, now, now.Add(s.ttl))
	if err != nil {
		return fmt.Errorf("upsert async request: %w", err)
	}
	return nil
}
