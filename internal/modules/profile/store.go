// README: Profile store backed by Postgres (users table).
package profile

import (
	"context"
	"errors"

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

const profileColumns = `id, name, avatar_key, device_token, workplace_lat, workplace_lng, stripe_account_id`

func (s *Store) Get(ctx context.Context, id types.ID) (*Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM users WHERE id=$1`, string(id))
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns the profiles that exist among ids; unknown ids are skipped.
func (s *Store) List(ctx context.Context, ids []types.ID) ([]Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM users WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var (
		p                  Profile
		id                 string
		avatar, token, acc *string
		lat, lng           *float64
	)
	if err := row.Scan(&id, &p.Name, &avatar, &token, &lat, &lng, &acc); err != nil {
		return nil, err
	}
	p.UserID = types.ID(id)
	if avatar != nil {
		p.AvatarKey = *avatar
	}
	if token != nil {
		p.DeviceToken = *token
	}
	if acc != nil {
		p.StripeAccountID = *acc
	}
	if lat != nil && lng != nil {
		p.Workplace = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &p, nil
}
