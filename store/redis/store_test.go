package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/store"
	"github.com/xraph/pkgledger/store/redis"
	"github.com/xraph/pkgledger/store/storetest"
)

// Set PKGLEDGER_TEST_REDIS_URL (e.g. redis://localhost:6379/15) to run.
func TestStore(t *testing.T) {
	url := os.Getenv("PKGLEDGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PKGLEDGER_TEST_REDIS_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		prefix := "pkgledger_test:" + id.NewLineID().String() + ":"
		s, err := redis.Open(ctx, url, redis.WithPrefix(prefix))
		if err != nil {
			t.Fatalf("redis.Open: %v", err)
		}
		t.Cleanup(func() {
			keys, _ := s.Client().Keys(ctx, prefix+"*").Result()
			if len(keys) > 0 {
				_ = s.Client().Del(ctx, keys...).Err()
			}
			_ = s.Close()
		})
		return s
	})
}
