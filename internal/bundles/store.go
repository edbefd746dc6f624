package bundles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Grant is one user's hold on a bundle.
type Grant struct {
	UserKey   string    `json:"-"`
	BundleID  string    `json:"bundleId"`
	Qualifier string    `json:"qualifier,omitempty"`
	GrantedAt time.Time `json:"grantedAt"`
}

// GrantStore persists bundle grants. Upsert is a replace-style write so the
// whole grant operation stays idempotent under redelivery.
type GrantStore interface {
	ListUser(ctx context.Context, userKey string) ([]Grant, error)
	CountHolders(ctx context.Context, bundleID string) (int, error)
	Upsert(ctx context.Context, g Grant) error
	Delete(ctx context.Context, userKey, bundleID string) (bool, error)
}

// PostgresGrants implements GrantStore on the shared pool.
type PostgresGrants struct {
	pool *pgxpool.Pool
}

func NewPostgresGrants(pool *pgxpool.Pool) *PostgresGrants {
	return &PostgresGrants{pool: pool}
}

func (s *PostgresGrants) ListUser(ctx context.Context, userKey string) ([]Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_key, bundle_id, COALESCE(qualifier, ''), granted_at
		FROM user_bundles WHERE user_key = $1 ORDER BY bundle_id
	`, userKey)
	if err != nil {
		return nil, fmt.Errorf("list user bundles: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.UserKey, &g.BundleID, &g.Qualifier, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresGrants) CountHolders(ctx context.Context, bundleID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_bundles WHERE bundle_id = $1
	`, bundleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bundle holders: %w", err)
	}
	return n, nil
}

func (s *PostgresGrants) Upsert(ctx context.Context, g Grant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_bundles (user_key, bundle_id, qualifier, granted_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (user_key, bundle_id) DO UPDATE
		SET qualifier = EXCLUDED.qualifier
	`, g.UserKey, g.BundleID, g.Qualifier, g.GrantedAt)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

func (s *PostgresGrants) Delete(ctx context.Context, userKey, bundleID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM user_bundles WHERE user_key = $1 AND bundle_id = $2
	`, userKey, bundleID)
	if err != nil {
		return false, fmt.Errorf("delete grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MemoryGrants is the in-process GrantStore used in tests and local runs
// without Postgres.
type MemoryGrants struct {
	mu     sync.Mutex
	grants map[string]map[string]Grant // userKey -> bundleID -> grant
}

func NewMemoryGrants() *MemoryGrants {
	return &MemoryGrants{grants: make(map[string]map[string]Grant)}
}

func (s *MemoryGrants) ListUser(_ context.Context, userKey string) ([]Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Grant
	for _, g := range s.grants[userKey] {
		out = append(out, g)
	}
	return out, nil
}

func (s *MemoryGrants) CountHolders(_ context.Context, bundleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, byBundle := range s.grants {
		if _, ok := byBundle[bundleID]; ok {
			n++
		}
	}
	return n, nil
}

func (s *MemoryGrants) Upsert(_ context.Context, g Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byBundle, ok := s.grants[g.UserKey]
	if !ok {
		byBundle = make(map[string]Grant)
		s.grants[g.UserKey] = byBundle
	}
	byBundle[g.BundleID] = g
	return nil
}

func (s *MemoryGrants) Delete(_ context.Context, userKey, bundleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byBundle, ok := s.grants[userKey]
	if !ok {
		return false, nil
	}
	if _, held := byBundle[bundleID]; !held {
		return false, nil
	}
	delete(byBundle, bundleID)
	return true, nil
}
