package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/pkgledger"
	audithook "github.com/xraph/pkgledger/audit_hook"
	"github.com/xraph/pkgledger/cart"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/store/memory"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

func newLedger(rec audithook.Recorder, opts ...audithook.Option) *pkgledger.Ledger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return pkgledger.New(memory.New(),
		pkgledger.WithLogger(logger),
		pkgledger.WithClock(func() time.Time { return now }),
		pkgledger.WithPlugin(audithook.New(rec, append(opts, audithook.WithLogger(logger))...)),
	)
}

func TestAuditTrail(t *testing.T) {
	rec := &captured{}
	l := newLedger(rec)
	ctx := context.Background()

	e, err := l.Purchase(ctx, "p1", entry.Offering{ID: "o1", Name: "Cupping", TotalUses: 1, ValidityDays: 30})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	l.Consume(ctx, "p1", e.ID)
	l.Consume(ctx, "p1", e.ID)
	l.Refund(ctx, "p1", e.ID, id.NewLineID(), nil)
	l.Refund(ctx, "p1", e.ID, id.NewLineID(), nil)
	_, _ = l.ReconcilePackageUseLines(ctx, "p1", []*cart.PackageUse{
		{ID: id.NewLineID(), PackageName: "Cupping"},
		{ID: id.NewLineID(), PackageName: "Massage"},
	})

	want := []string{
		audithook.ActionPackagePurchased,
		audithook.ActionPackageConsumed,
		audithook.ActionConsumeRejected,
		audithook.ActionPackageRefunded,
		audithook.ActionRefundClamped,
		audithook.ActionLineReconciled,
		audithook.ActionLineUnbound,
	}
	got := rec.actions()
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}

	rejected := rec.events[2]
	if rejected.ResourceID != e.ID.String() || rejected.Metadata["reason"] != "exhausted" || rejected.Outcome != audithook.OutcomeFailure {
		t.Errorf("unexpected rejection event %+v", rejected)
	}
}

func TestActionFilters(t *testing.T) {
	tests := []struct {
		name string
		opts []audithook.Option
		want []string
	}{
		{
			name: "enabled only",
			opts: []audithook.Option{audithook.WithEnabledActions(audithook.ActionPackageConsumed)},
			want: []string{audithook.ActionPackageConsumed},
		},
		{
			name: "disabled",
			opts: []audithook.Option{audithook.WithDisabledActions(audithook.ActionPackagePurchased)},
			want: []string{audithook.ActionPackageConsumed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &captured{}
			l := newLedger(rec, tt.opts...)
			ctx := context.Background()

			e, err := l.Purchase(ctx, "p1", entry.Offering{ID: "o1", Name: "Cupping", TotalUses: 2, ValidityDays: 30})
			if err != nil {
				t.Fatalf("Purchase: %v", err)
			}
			l.Consume(ctx, "p1", e.ID)

			got := rec.actions()
			if len(got) != len(tt.want) || got[0] != tt.want[0] {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	rec := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("audit backend down")
	})
	l := newLedger(rec)

	if _, err := l.Purchase(context.Background(), "p1", entry.Offering{ID: "o1", Name: "Cupping", TotalUses: 1, ValidityDays: 1}); err != nil {
		t.Fatalf("Purchase failed because of the audit backend: %v", err)
	}
}
