// README: Test helper that connects to CARPOOL_TEST_REDIS_ADDR on a scratch DB.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Redis returns a flushed client on CARPOOL_TEST_REDIS_ADDR (DB 15), skipping
// the test when the variable is unset.
func Redis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("CARPOOL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CARPOOL_TEST_REDIS_ADDR not set; skipping Redis-backed tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
