package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/store"
	"github.com/xraph/pkgledger/store/mongo"
	"github.com/xraph/pkgledger/store/storetest"
)

// Set PKGLEDGER_TEST_MONGO_URI (e.g. mongodb://localhost:27017) to run.
func TestStore(t *testing.T) {
	uri := os.Getenv("PKGLEDGER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PKGLEDGER_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := mongo.Open(ctx, uri, "pkgledger_test_"+id.NewLineID().String())
		if err != nil {
			t.Fatalf("mongo.Open: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		t.Cleanup(func() {
			_ = s.DB().Drop(ctx)
			_ = s.Close()
		})
		return s
	})
}
