// README: Refresh schedule store backed by Postgres.
package refresh

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Enqueue inserts the entry once; replays of the same entry are ignored.
func (s *Store) Enqueue(ctx context.Context, e Entry) error {
	status := e.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_schedules (user_id, carpool_id, activity, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, carpool_id, activity, scheduled_at) DO NOTHING`,
		string(e.UserID), string(e.CarpoolID), e.Activity, e.ScheduledAt, status)
	return err
}
