package idempotency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func newPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *postgresStore {
	return &postgresStore{pool: pool, ttl: ttl}
}

// Check uses INSERT ... ON CONFLICT to atomically deduplicate. An expired row
// is refreshed and counts as unseen.
func (s *postgresStore) Check(ctx context.Context, eventID string) (bool, error) {
	const q = `INSERT INTO tcc_processed_event (event_id, created_at)
	           VALUES ($1, now())
	           ON CONFLICT (event_id) DO UPDATE SET created_at = now()
	           WHERE tcc_processed_event.created_at < now() - make_interval(secs => $2)`

	tag, err := s.pool.Exec(ctx, q, eventID, s.ttl.Seconds())
	if err != nil {
		return false, err
	}
	// RowsAffected == 0 means a live row already existed (duplicate).
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Release(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tcc_processed_event WHERE event_id = $1`, eventID)
	return err
}
