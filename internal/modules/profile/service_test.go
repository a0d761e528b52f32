package profile

import (
	"context"
	"errors"
	"testing"

	"carpool/internal/logging"
	"carpool/internal/types"
)

type memReader map[types.ID]Profile

func (m memReader) Get(_ context.Context, id types.ID) (*Profile, error) {
	p, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m memReader) List(_ context.Context, ids []types.ID) ([]Profile, error) {
	var out []Profile
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubStorage struct {
	url string
	err error
}

func (s stubStorage) Resolve(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url + key, nil
}

func TestSummaryResolvesAvatar(t *testing.T) {
	svc := NewService(memReader{"d1": {UserID: "d1", Name: "Dana", AvatarKey: "avatars/d1.png"}},
		stubStorage{url: "https://cdn/"}, logging.Discard())

	got, err := svc.Summary(context.Background(), "d1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.Name != "Dana" || got.AvatarURL != "https://cdn/avatars/d1.png" {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestSummaryAvatarFailureDegrades(t *testing.T) {
	svc := NewService(memReader{"d1": {UserID: "d1", Name: "Dana", AvatarKey: "k"}},
		stubStorage{err: errors.New("signing failed")}, logging.Discard())

	got, err := svc.Summary(context.Background(), "d1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.AvatarURL != "" || got.Name != "Dana" {
		t.Fatalf("expected name without avatar, got %+v", got)
	}
}

func TestSummaryUnknownUser(t *testing.T) {
	svc := NewService(memReader{}, nil, logging.Discard())
	got, err := svc.Summary(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got.UserID != "ghost" {
		t.Fatalf("expected user id echoed, got %+v", got)
	}
}

func TestDeviceTokensSkipsMissing(t *testing.T) {
	svc := NewService(memReader{
		"a": {UserID: "a", DeviceToken: "tok-a"},
		"b": {UserID: "b"},
	}, nil, logging.Discard())

	tokens, err := svc.DeviceTokens(context.Background(), []types.ID{"a", "b", "c"})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "tok-a" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
}

func TestWorkplace(t *testing.T) {
	wp := &types.Point{Lat: 29.76, Lng: -95.37}
	svc := NewService(memReader{"a": {UserID: "a", Workplace: wp}, "b": {UserID: "b"}}, nil, logging.Discard())

	got, err := svc.Workplace(context.Background(), "a")
	if err != nil || got == nil || *got != *wp {
		t.Fatalf("workplace a: %v %v", got, err)
	}
	got, err = svc.Workplace(context.Background(), "b")
	if err != nil || got != nil {
		t.Fatalf("workplace b: expected nil, got %v %v", got, err)
	}
}
