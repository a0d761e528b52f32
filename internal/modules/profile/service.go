// README: Profile service resolves counterpart summaries, device tokens, workplaces and payout accounts.
package profile

import (
	"context"
	"log/slog"

	"carpool/internal/types"
)

type Reader interface {
	Get(ctx context.Context, id types.ID) (*Profile, error)
	List(ctx context.Context, ids []types.ID) ([]Profile, error)
}

type Service struct {
	store   Reader
	storage ObjectStorage
	log     *slog.Logger
}

// NewService accepts a nil storage; summaries then carry no avatar URL.
func NewService(store Reader, storage ObjectStorage, log *slog.Logger) *Service {
	return &Service{store: store, storage: storage, log: log}
}

// Summary returns the public view of a user. Avatar resolution failures are
// logged and leave AvatarURL empty.
func (s *Service) Summary(ctx context.Context, id types.ID) (Summary, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return Summary{UserID: id}, err
	}
	out := Summary{UserID: p.UserID, Name: p.Name}
	if p.AvatarKey != "" && s.storage != nil {
		url, err := s.storage.Resolve(ctx, p.AvatarKey)
		if err != nil {
			s.log.Warn("avatar resolve failed", "user_id", id, "error", err)
		} else {
			out.AvatarURL = url
		}
	}
	return out, nil
}

// DeviceTokens returns the push tokens registered for ids, skipping users without one.
func (s *Service) DeviceTokens(ctx context.Context, ids []types.ID) ([]string, error) {
	profiles, err := s.store.List(ctx, ids)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p.DeviceToken != "" {
			tokens = append(tokens, p.DeviceToken)
		}
	}
	return tokens, nil
}

// Workplace returns nil when the user registered no workplace.
func (s *Service) Workplace(ctx context.Context, id types.ID) (*types.Point, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Workplace, nil
}

func (s *Service) PayoutAccount(ctx context.Context, id types.ID) (string, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return p.StripeAccountID, nil
}
