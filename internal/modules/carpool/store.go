// README: Carpool aggregate store contract and its Redis implementation (WATCH/MULTI version CAS).
package carpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"carpool/internal/types"
)

// Store persists aggregates as whole documents. Update writes c only when the
// stored version still equals expected; a lost race reports (false, nil).
type Store interface {
	Create(ctx context.Context, c *Carpool) error
	Get(ctx context.Context, id types.ID) (*Carpool, error)
	Update(ctx context.Context, c *Carpool, expected int64) (bool, error)

	// ClaimActive records carpoolID as userID's active ride. It succeeds when
	// the user holds no claim or already holds this one; otherwise it returns
	// the carpool currently claimed.
	ClaimActive(ctx context.Context, userID, carpoolID types.ID) (bool, types.ID, error)
	// ReleaseActive drops the claim only if it still points at carpoolID.
	ReleaseActive(ctx context.Context, userID, carpoolID types.ID) error

	WaitingBefore(ctx context.Context, before time.Time, limit int) ([]types.ID, error)

	TryLockVerification(ctx context.Context, carpoolID, userID types.ID, ttl time.Duration) (bool, error)
	UnlockVerification(ctx context.Context, carpoolID, userID types.ID) error
}

const (
	carpoolKeyPrefix = "carpool:doc:%s"
	activeKeyPrefix  = "carpool:active:%s"
	verifyKeyPrefix  = "carpool:verify:%s:%s"
	// Claims outlive any realistic ride; the TTL only bounds leaks.
	activeClaimTTL = 48 * time.Hour
)

var errStaleVersion = errors.New("stale version")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisStore struct {
	redis      *redis.Client
	waitingKey string
}

func NewRedisStore(client *redis.Client, waitingKey string) *RedisStore {
	return &RedisStore{redis: client, waitingKey: waitingKey}
}

func (s *RedisStore) Create(ctx context.Context, c *Carpool) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, carpoolKey(c.ID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("carpool %s already exists", c.ID)
	}
	if c.Status == StatusWaiting {
		return s.redis.ZAdd(ctx, s.waitingKey, redis.Z{
			Score:  float64(c.Offer.PlannedTravelTime.Unix()),
			Member: string(c.ID),
		}).Err()
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id types.ID) (*Carpool, error) {
	raw, err := s.redis.Get(ctx, carpoolKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c Carpool
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode carpool %s: %w", id, err)
	}
	return &c, nil
}

func (s *RedisStore) Update(ctx context.Context, c *Carpool, expected int64) (bool, error) {
	key := carpoolKey(c.ID)
	payload, err := json.Marshal(c)
	if err != nil {
		return false, err
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var current struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &current); err != nil {
			return err
		}
		if current.Version != expected {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if c.Status != StatusWaiting {
				pipe.ZRem(ctx, s.waitingKey, string(c.ID))
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStaleVersion), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

func (s *RedisStore) ClaimActive(ctx context.Context, userID, carpoolID types.ID) (bool, types.ID, error) {
	key := activeKey(userID)
	ok, err := s.redis.SetNX(ctx, key, string(carpoolID), activeClaimTTL).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, carpoolID, nil
	}
	existing, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; let the caller retry.
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return types.ID(existing) == carpoolID, types.ID(existing), nil
}

func (s *RedisStore) ReleaseActive(ctx context.Context, userID, carpoolID types.ID) error {
	return releaseScript.Run(ctx, s.redis, []string{activeKey(userID)}, string(carpoolID)).Err()
}

func (s *RedisStore) WaitingBefore(ctx context.Context, before time.Time, limit int) ([]types.ID, error) {
	members, err := s.redis.ZRangeByScore(ctx, s.waitingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

func (s *RedisStore) TryLockVerification(ctx context.Context, carpoolID, userID types.ID, ttl time.Duration) (bool, error) {
	return s.redis.SetNX(ctx, verifyKey(carpoolID, userID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *RedisStore) UnlockVerification(ctx context.Context, carpoolID, userID types.ID) error {
	return s.redis.Del(ctx, verifyKey(carpoolID, userID)).Err()
}

func carpoolKey(id types.ID) string {
	return fmt.Sprintf(carpoolKeyPrefix, string(id))
}

func activeKey(userID types.ID) string {
	return fmt.Sprintf(activeKeyPrefix, string(userID))
}

func verifyKey(carpoolID, userID types.ID) string {
	return fmt.Sprintf(verifyKeyPrefix, string(carpoolID), string(userID))
}
