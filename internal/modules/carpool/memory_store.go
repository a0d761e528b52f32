// README: In-memory carpool store for a single api process (CARPOOL_STORE=memory) and tests.
package carpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"carpool/internal/types"
)

// MemoryStore keeps encoded documents so callers never share pointers with
// the stored state.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[types.ID][]byte
	waiting map[types.ID]time.Time
	active  map[types.ID]types.ID
	locks   map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[types.ID][]byte),
		waiting: make(map[types.ID]time.Time),
		active:  make(map[types.ID]types.ID),
		locks:   make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, c *Carpool) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[c.ID]; ok {
		return fmt.Errorf("carpool %s already exists", c.ID)
	}
	s.docs[c.ID] = payload
	if c.Status == StatusWaiting {
		s.waiting[c.ID] = c.Offer.PlannedTravelTime
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Carpool, error) {
	s.mu.Lock()
	raw, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var c Carpool
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MemoryStore) Update(_ context.Context, c *Carpool, expected int64) (bool, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[c.ID]
	if !ok {
		return false, ErrNotFound
	}
	var current struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &current); err != nil {
		return false, err
	}
	if current.Version != expected {
		return false, nil
	}
	s.docs[c.ID] = payload
	if c.Status != StatusWaiting {
		delete(s.waiting, c.ID)
	}
	return true, nil
}

func (s *MemoryStore) ClaimActive(_ context.Context, userID, carpoolID types.ID) (bool, types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.active[userID]
	if !ok {
		s.active[userID] = carpoolID
		return true, carpoolID, nil
	}
	return existing == carpoolID, existing, nil
}

func (s *MemoryStore) ReleaseActive(_ context.Context, userID, carpoolID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[userID] == carpoolID {
		delete(s.active, userID)
	}
	return nil
}

// ActiveClaim exposes the current claim for tests and diagnostics.
func (s *MemoryStore) ActiveClaim(userID types.ID) (types.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[userID]
	return id, ok
}

func (s *MemoryStore) WaitingBefore(_ context.Context, before time.Time, limit int) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		id types.ID
		at time.Time
	}
	var due []entry
	for id, at := range s.waiting {
		if !at.After(before) {
			due = append(due, entry{id, at})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]types.ID, len(due))
	for i, e := range due {
		ids[i] = e.id
	}
	return ids, nil
}

func (s *MemoryStore) TryLockVerification(_ context.Context, carpoolID, userID types.ID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := verifyKey(carpoolID, userID)
	now := s.now()
	if until, ok := s.locks[key]; ok && now.Before(until) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) UnlockVerification(_ context.Context, carpoolID, userID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, verifyKey(carpoolID, userID))
	return nil
}
