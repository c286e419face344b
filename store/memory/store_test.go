package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/store"
	"github.com/xraph/pkgledger/store/memory"
	"github.com/xraph/pkgledger/store/storetest"
)

var pkgTime = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestReturnsCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	e := storetest.NewEntry("p1", "Cupping", 3, 30, pkgTime)
	if err := s.CreateEntry(ctx, e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	e.RemainingUses = 0
	got, err := s.GetEntry(ctx, "p1", e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	got.RemainingUses = -5

	again, _ := s.GetEntry(ctx, "p1", e.ID)
	if again.RemainingUses != 3 {
		t.Errorf("stored entry aliased caller memory: remaining = %d", again.RemainingUses)
	}
}

func TestClosed(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, pkgledger.ErrStoreClosed) {
		t.Errorf("Ping after Close: %v", err)
	}
	_, err := s.ConsumeEntry(context.Background(), "p1", storetest.NewEntry("p1", "x", 1, 1, pkgTime).ID, pkgTime)
	if !errors.Is(err, pkgledger.ErrStoreClosed) {
		t.Errorf("ConsumeEntry after Close: %v", err)
	}
}
