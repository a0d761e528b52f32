// README: Read-only access to captured location samples in PostgreSQL.
package trajectory

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Samples returns userID's samples for the carpool within [from, to], oldest first.
func (s *Store) Samples(ctx context.Context, carpoolID, userID types.ID, from, to time.Time) ([]Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, recorded_at, lat, lng, speed
		FROM trajectory_samples
		WHERE carpool_id = $1 AND user_id = $2
		  AND recorded_at BETWEEN $3 AND $4
		ORDER BY recorded_at`,
		string(carpoolID), string(userID), from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var smp Sample
		var uid string
		if err := rows.Scan(&uid, &smp.RecordedAt, &smp.Lat, &smp.Lng, &smp.Speed); err != nil {
			return nil, err
		}
		smp.UserID = types.ID(uid)
		out = append(out, smp)
	}
	return out, rows.Err()
}
