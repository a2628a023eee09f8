package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseStore is the EngineLease table access the Lease Coordinator
// needs. Every mutation is a conditional SQL statement predicated on
// ownerId and expiresAt, making the row the sole cross-process critical
// section (§5).
type LeaseStore struct {
	pool *pgxpool.Pool
}

// NewLeaseStore creates a LeaseStore.
func NewLeaseStore(pool *pgxpool.Pool) *LeaseStore {
	return &LeaseStore{pool: pool}
}

// EnsureTable creates the engine_leases table if absent.
func (s *LeaseStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS engine_leases (
			name TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL,
			renewed_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			meta JSONB
		)
	`)
	return err
}

// TryClaim succeeds if the row is absent, expired, or already owned by
// ownerID, in which case it is upserted with a fresh expiry.
func (s *LeaseStore) TryClaim(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	expiresAt := now.Add(ttl)
	query := `
		INSERT INTO engine_leases (name, owner_id, acquired_at, renewed_at, expires_at)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			owner_id = $2, renewed_at = $3, expires_at = $4,
			acquired_at = CASE WHEN engine_leases.owner_id = $2 THEN engine_leases.acquired_at ELSE $3 END
		WHERE engine_leases.owner_id = $2 OR engine_leases.expires_at < $3
	`
	result, err := s.pool.Exec(ctx, query, name, ownerID, now, expiresAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// TryRenew succeeds only if the row is still owned by ownerID and not
// yet expired.
func (s *LeaseStore) TryRenew(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	query := `
		UPDATE engine_leases SET renewed_at = $3, expires_at = $4
		WHERE name = $1 AND owner_id = $2 AND expires_at >= $3
	`
	result, err := s.pool.Exec(ctx, query, name, ownerID, now, now.Add(ttl))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// Release deletes the row if it is still owned by ownerID.
func (s *LeaseStore) Release(ctx context.Context, name, ownerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM engine_leases WHERE name = $1 AND owner_id = $2`, name, ownerID)
	return err
}
