// Package storetest holds the behaviour every store.Store backend must share.
// Backend test files call Run with a constructor for a fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/store"
)

// Factory returns a fresh, migrated store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

// Run executes the shared suite against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("BalanceBounds", func(t *testing.T) { testBalanceBounds(t, newStore(t)) })
	t.Run("Consume", func(t *testing.T) { testConsume(t, newStore(t)) })
	t.Run("Refund", func(t *testing.T) { testRefund(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
}

// NewEntry builds an entry with an id, ready for CreateEntry.
func NewEntry(patientID, name string, uses, days int, purchasedAt time.Time) *entry.Entry {
	e := entry.New(patientID, entry.Offering{
		ID:           "off-" + name,
		Name:         name,
		TotalUses:    uses,
		ValidityDays: days,
	}, purchasedAt)
	e.ID = id.NewEntryID()
	return e
}

func mustCreate(t *testing.T, s store.Store, e *entry.Entry) {
	t.Helper()
	if err := s.CreateEntry(context.Background(), e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := NewEntry("p1", "Acupuncture Package", 5, 90, base)
	mustCreate(t, s, e)

	got, err := s.GetEntry(ctx, "p1", e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.ID.String() != e.ID.String() || got.Name != e.Name || got.RemainingUses != 5 || got.TotalUses != 5 {
		t.Errorf("unexpected entry %+v", got)
	}
	if !got.PurchasedAt.Equal(e.PurchasedAt) || !got.ExpiresAt.Equal(e.ExpiresAt) {
		t.Errorf("times = %v/%v, want %v/%v", got.PurchasedAt, got.ExpiresAt, e.PurchasedAt, e.ExpiresAt)
	}

	if err := s.CreateEntry(ctx, e); !errors.Is(err, pkgledger.ErrAlreadyExists) {
		t.Errorf("duplicate create: expected ErrAlreadyExists, got %v", err)
	}
	if _, err := s.GetEntry(ctx, "p2", e.ID); !errors.Is(err, pkgledger.ErrEntryNotFound) {
		t.Errorf("other patient: expected ErrEntryNotFound, got %v", err)
	}
	if _, err := s.GetEntry(ctx, "p1", id.NewEntryID()); !errors.Is(err, pkgledger.ErrEntryNotFound) {
		t.Errorf("unknown id: expected ErrEntryNotFound, got %v", err)
	}
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	late := NewEntry("p1", "Long", 2, 60, base)
	early := NewEntry("p1", "Short", 2, 10, base)
	empty := NewEntry("p1", "Empty", 1, 30, base)
	empty.RemainingUses = 0
	lapsed := NewEntry("p1", "Lapsed", 3, 1, base.Add(-10*entry.Day))
	other := NewEntry("p2", "Short", 2, 10, base)
	for _, e := range []*entry.Entry{late, early, empty, lapsed, other} {
		mustCreate(t, s, e)
	}

	tests := []struct {
		name string
		opts entry.ListOpts
		want []string
	}{
		{"all", entry.ListOpts{}, []string{"Lapsed", "Short", "Empty", "Long"}},
		{"with remaining", entry.ListOpts{WithRemaining: true}, []string{"Lapsed", "Short", "Long"}},
		{"active", entry.ListOpts{WithRemaining: true, ActiveAt: base}, []string{"Short", "Long"}},
		{"by name", entry.ListOpts{Name: "Long"}, []string{"Long"}},
		{"paged", entry.ListOpts{Limit: 2, Offset: 1}, []string{"Short", "Empty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListEntries(ctx, "p1", tt.opts)
			if err != nil {
				t.Fatalf("ListEntries: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.Name != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, e.Name, tt.want[i])
				}
			}
		})
	}
}

func testBalanceBounds(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := NewEntry("p1", "Cupping", 3, 30, base)
	mustCreate(t, s, e)

	if _, ok := s.(interface {
		UpdateEntry(context.Context, *entry.Entry) error
	}); ok {
		t.Fatalf("%T exposes a whole-entry overwrite", s)
	}

	check := func(step string) {
		t.Helper()
		got, err := s.GetEntry(ctx, "p1", e.ID)
		if err != nil {
			t.Fatalf("%s: GetEntry: %v", step, err)
		}
		if got.RemainingUses < 0 || got.RemainingUses > got.TotalUses {
			t.Errorf("%s: remaining %d outside [0, %d]", step, got.RemainingUses, got.TotalUses)
		}
		if got.TotalUses != e.TotalUses || got.PatientID != e.PatientID ||
			!got.ExpiresAt.Equal(e.ExpiresAt) || !got.PurchasedAt.Equal(e.PurchasedAt) {
			t.Errorf("%s: fixed fields changed: %+v", step, got)
		}
	}

	for range 5 {
		_, _, _ = s.RefundEntry(ctx, "p1", e.ID, base)
	}
	check("after refunds past the cap")

	for range 5 {
		_, _ = s.ConsumeEntry(ctx, "p1", e.ID, base)
	}
	check("after consumes past zero")
}

func testConsume(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := NewEntry("p1", "Tuina", 2, 1, base)
	mustCreate(t, s, e)

	// The expiry instant itself is still valid.
	got, err := s.ConsumeEntry(ctx, "p1", e.ID, e.ExpiresAt)
	if err != nil {
		t.Fatalf("ConsumeEntry at expiry: %v", err)
	}
	if got.RemainingUses != 1 {
		t.Errorf("remaining = %d, want 1", got.RemainingUses)
	}

	if _, err := s.ConsumeEntry(ctx, "p1", e.ID, e.ExpiresAt.Add(time.Nanosecond)); !errors.Is(err, pkgledger.ErrEntryExpired) {
		t.Errorf("expected ErrEntryExpired, got %v", err)
	}
	if _, err := s.ConsumeEntry(ctx, "p1", e.ID, base); err != nil {
		t.Fatalf("ConsumeEntry: %v", err)
	}
	if _, err := s.ConsumeEntry(ctx, "p1", e.ID, base); !errors.Is(err, pkgledger.ErrEntryExhausted) {
		t.Errorf("expected ErrEntryExhausted, got %v", err)
	}
	if _, err := s.ConsumeEntry(ctx, "p2", e.ID, base); !errors.Is(err, pkgledger.ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}

	final, err := s.GetEntry(ctx, "p1", e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if final.RemainingUses != 0 {
		t.Errorf("remaining = %d, want 0", final.RemainingUses)
	}
}

func testRefund(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := NewEntry("p1", "Cupping", 2, 30, base)
	mustCreate(t, s, e)

	if _, err := s.ConsumeEntry(ctx, "p1", e.ID, base); err != nil {
		t.Fatalf("ConsumeEntry: %v", err)
	}

	got, clamped, err := s.RefundEntry(ctx, "p1", e.ID, base)
	if err != nil || clamped || got.RemainingUses != 2 {
		t.Fatalf("first refund: remaining=%v clamped=%v err=%v", got, clamped, err)
	}

	got, clamped, err = s.RefundEntry(ctx, "p1", e.ID, base)
	if err != nil || !clamped || got.RemainingUses != 2 {
		t.Fatalf("second refund: remaining=%v clamped=%v err=%v", got, clamped, err)
	}

	if _, _, err := s.RefundEntry(ctx, "p1", id.NewEntryID(), base); !errors.Is(err, pkgledger.ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func testConcurrentConsume(t *testing.T, s store.Store) {
	ctx := context.Background()
	const uses, callers = 8, 20
	e := NewEntry("p1", "Cupping", uses, 30, base)
	mustCreate(t, s, e)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		exhausted atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeEntry(ctx, "p1", e.ID, base)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, pkgledger.ErrEntryExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("ConsumeEntry: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != uses || exhausted.Load() != callers-uses {
		t.Errorf("succeeded=%d exhausted=%d, want %d/%d", succeeded.Load(), exhausted.Load(), uses, callers-uses)
	}
	final, err := s.GetEntry(ctx, "p1", e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if final.RemainingUses != 0 {
		t.Errorf("remaining = %d, want 0", final.RemainingUses)
	}
}
