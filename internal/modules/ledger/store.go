// README: Trip ledger store backed by Postgres; every write is idempotent on (carpool_id, user_id).
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Open returns the id of the participant's row, creating it on first call.
// Repeated opens of a live row return the same id; a canceled row is reopened.
func (s *Store) Open(ctx context.Context, o Opening) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO carpool_legs (carpool_id, user_id, role, status, opened_at)
		VALUES ($1, $2, $3, 'open', $4)
		ON CONFLICT (carpool_id, user_id) DO UPDATE
		SET status = CASE WHEN carpool_legs.status = 'canceled' THEN 'open' ELSE carpool_legs.status END,
		    canceled_at = CASE WHEN carpool_legs.status = 'canceled' THEN NULL ELSE carpool_legs.canceled_at END
		RETURNING id`,
		string(o.CarpoolID), string(o.UserID), o.Role, o.OpenedAt,
	).Scan(&id)
	return id, err
}

// RecordFinish writes the finish audit fields. Rows already canceled are left
// untouched; replaying the same finish rewrites identical values.
func (s *Store) RecordFinish(ctx context.Context, f Finish) error {
	var lat, lng *float64
	if f.FinalDestination != nil {
		lat, lng = &f.FinalDestination.Lat, &f.FinalDestination.Lng
	}
	v := f.Verification
	_, err := s.db.Exec(ctx, `
		UPDATE carpool_legs
		SET status = 'finished', finished_at = $3, distance_km = $4, end_type = $5,
		    final_lat = $6, final_lng = $7, detour_meters = $8,
		    outcome = $9, matched_buckets = $10, expected_buckets = $11, bucket_threshold = $12,
		    time_coverage = $13, time_threshold = $14, counterpart_id = $15, reward = $16
		WHERE carpool_id = $1 AND user_id = $2 AND status <> 'canceled'`,
		string(f.CarpoolID), string(f.UserID), f.FinishedAt, f.DistanceKm, f.EndType,
		lat, lng, f.DetourMeters,
		string(v.Outcome), v.MatchedBuckets, v.ExpectedBuckets, v.Threshold,
		v.TimeCoverage, v.TimeThreshold, nullableID(v.CounterpartID), f.Reward,
	)
	return err
}

// Cancel closes the row; it also overrides a finish written by a finish call
// that lost the race to this cancel.
func (s *Store) Cancel(ctx context.Context, carpoolID, userID types.ID, reason string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE carpool_legs
		SET status = 'canceled', canceled_at = $3, cancel_reason = $4, reward = NULL
		WHERE carpool_id = $1 AND user_id = $2 AND status <> 'canceled'`,
		string(carpoolID), string(userID), at, reason)
	return err
}

// Discard deletes a row that was opened for a join that never committed.
func (s *Store) Discard(ctx context.Context, carpoolID, userID types.ID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM carpool_legs
		WHERE carpool_id = $1 AND user_id = $2 AND status = 'open'`,
		string(carpoolID), string(userID))
	return err
}

// SetReward stores the incentive receipt once the award went through.
func (s *Store) SetReward(ctx context.Context, carpoolID, userID types.ID, receipt string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE carpool_legs
		SET reward = 'awarded', reward_receipt = $3
		WHERE carpool_id = $1 AND user_id = $2 AND status = 'finished'`,
		string(carpoolID), string(userID), receipt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads the participant's row; the incentive worker only pays finished rows.
func (s *Store) Get(ctx context.Context, carpoolID, userID types.ID) (*Entry, error) {
	var (
		e                              Entry
		cid, uid                       string
		cancelReason, endType, outcome *string
		reward, receipt                *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, carpool_id, user_id, role, status, opened_at, finished_at, canceled_at,
		       cancel_reason, distance_km, end_type, outcome, matched_buckets, expected_buckets,
		       time_coverage, reward, reward_receipt
		FROM carpool_legs WHERE carpool_id = $1 AND user_id = $2`,
		string(carpoolID), string(userID),
	).Scan(&e.ID, &cid, &uid, &e.Role, &e.Status, &e.OpenedAt, &e.FinishedAt, &e.CanceledAt,
		&cancelReason, &e.DistanceKm, &endType, &outcome, &e.MatchedBuckets, &e.ExpectedBuckets,
		&e.TimeCoverage, &reward, &receipt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.CarpoolID, e.UserID = types.ID(cid), types.ID(uid)
	e.CancelReason = deref(cancelReason)
	e.EndType = deref(endType)
	e.Outcome = deref(outcome)
	e.Reward = deref(reward)
	e.RewardReceipt = deref(receipt)
	return &e, nil
}

func nullableID(id types.ID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
