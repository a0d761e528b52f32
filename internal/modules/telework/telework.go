// README: Enterprise telework detection and logging for rides between home and workplace.
package telework

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/geo"
	"carpool/internal/types"
)

type Window struct {
	Start time.Time
	End   time.Time
}

// Detector decides whether a ride counts as a workplace commute.
type Detector struct {
	radiusMeters float64
	matchAny     bool
}

// NewDetector builds a detector; mode "any" accepts a ride when either endpoint
// is near the workplace, anything else requires both.
func NewDetector(radiusMeters float64, mode string) Detector {
	return Detector{radiusMeters: radiusMeters, matchAny: mode == "any"}
}

func (d Detector) Qualifies(workplace, origin, destination types.Point) bool {
	nearOrigin := geo.Within(workplace, origin, d.radiusMeters)
	nearDest := geo.Within(workplace, destination, d.radiusMeters)
	if d.matchAny {
		return nearOrigin || nearDest
	}
	return nearOrigin && nearDest
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Record logs the ride window once per user and ride.
func (s *Store) Record(ctx context.Context, userID, rideID types.ID, w Window) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO telework_logs (user_id, carpool_id, window_start, window_end)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, carpool_id) DO NOTHING`,
		string(userID), string(rideID), w.Start, w.End)
	return err
}
