package pkgledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/cart"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/store"
	"github.com/xraph/pkgledger/store/memory"
	"github.com/xraph/pkgledger/types"
)

const patient = "patient-001"

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable clock for WithClock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T, s store.Store) (*pkgledger.Ledger, *fakeClock) {
	t.Helper()
	if s == nil {
		s = memory.New()
	}
	clk := &fakeClock{now: t0}
	l := pkgledger.New(s, pkgledger.WithClock(clk.Now), pkgledger.WithLogger(quietLogger()))
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l, clk
}

func offering(name string, uses, days int) entry.Offering {
	return entry.Offering{
		ID:           "off-" + name,
		Name:         name,
		TotalUses:    uses,
		ValidityDays: days,
		Price:        types.HKD(120000),
	}
}

func mustPurchase(t *testing.T, l *pkgledger.Ledger, o entry.Offering) *entry.Entry {
	t.Helper()
	e, err := l.Purchase(context.Background(), patient, o)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	return e
}

func remaining(t *testing.T, l *pkgledger.Ledger, entryID id.EntryID) int {
	t.Helper()
	e, err := l.GetEntry(context.Background(), patient, entryID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	return e.RemainingUses
}

func TestPurchase(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()

	e := mustPurchase(t, l, offering("Acupuncture Package", 5, 90))

	if e.ID.IsNil() || e.ID.Prefix() != id.PrefixEntry {
		t.Errorf("expected pkg id, got %q", e.ID.String())
	}
	if e.RemainingUses != 5 || e.TotalUses != 5 {
		t.Errorf("uses = %d/%d, want 5/5", e.RemainingUses, e.TotalUses)
	}
	if !e.PurchasedAt.Equal(t0) {
		t.Errorf("PurchasedAt = %v, want %v", e.PurchasedAt, t0)
	}
	if want := t0.Add(90 * entry.Day); !e.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", e.ExpiresAt, want)
	}

	// A second purchase of the same offering is a separate entry.
	e2 := mustPurchase(t, l, offering("Acupuncture Package", 5, 90))
	if e2.ID.String() == e.ID.String() {
		t.Fatal("repeat purchase reused the entry id")
	}
	all, err := l.ListEntries(ctx, patient)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 entries, got %d", len(all))
	}
}

func TestPurchaseValidation(t *testing.T) {
	l, _ := newLedger(t, nil)

	tests := []struct {
		name      string
		patientID string
		o         entry.Offering
	}{
		{"empty patient", " ", offering("A", 1, 1)},
		{"zero uses", patient, offering("A", 0, 1)},
		{"negative validity", patient, offering("A", 1, -3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Purchase(context.Background(), tt.patientID, tt.o)
			if !errors.Is(err, pkgledger.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestConsumeUntilExhausted(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Cupping", 3, 30))

	for _, want := range []int{2, 1, 0} {
		res := l.Consume(ctx, patient, e.ID)
		if res.Outcome != pkgledger.OutcomeConsumed {
			t.Fatalf("expected consumed, got %s (%s)", res.Outcome, res.Reason)
		}
		if res.Entry.RemainingUses != want {
			t.Errorf("remaining = %d, want %d", res.Entry.RemainingUses, want)
		}
	}

	res := l.Consume(ctx, patient, e.ID)
	if res.Outcome != pkgledger.OutcomeRejected || res.Reason != pkgledger.ReasonExhausted {
		t.Fatalf("expected rejected/exhausted, got %s/%s", res.Outcome, res.Reason)
	}
	if !errors.Is(res.Err(), pkgledger.ErrEntryExhausted) {
		t.Errorf("Err() = %v, want ErrEntryExhausted", res.Err())
	}
	if got := remaining(t, l, e.ID); got != 0 {
		t.Errorf("remaining after rejection = %d, want 0", got)
	}
}

func TestConsumeExpiryBoundary(t *testing.T) {
	l, clk := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Tuina", 5, 1))

	clk.Set(t0.Add(entry.Day))
	if res := l.Consume(ctx, patient, e.ID); !res.OK() {
		t.Fatalf("consume at expiry instant: %s/%s", res.Outcome, res.Reason)
	}

	clk.Set(t0.Add(entry.Day + time.Second))
	res := l.Consume(ctx, patient, e.ID)
	if res.Outcome != pkgledger.OutcomeRejected || res.Reason != pkgledger.ReasonExpired {
		t.Fatalf("expected rejected/expired, got %s/%s", res.Outcome, res.Reason)
	}
	if got := remaining(t, l, e.ID); got != 4 {
		t.Errorf("remaining = %d, want 4", got)
	}
}

func TestConsumeExpiredWinsOverExhausted(t *testing.T) {
	l, clk := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Tuina", 1, 1))

	if res := l.Consume(ctx, patient, e.ID); !res.OK() {
		t.Fatalf("consume: %s", res.Outcome)
	}
	clk.Set(t0.Add(2 * entry.Day))
	if res := l.Consume(ctx, patient, e.ID); res.Reason != pkgledger.ReasonExpired {
		t.Fatalf("expected expired, got %s", res.Reason)
	}
}

func TestConsumeNotFound(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Tuina", 1, 1))

	tests := []struct {
		name      string
		patientID string
		entryID   id.EntryID
	}{
		{"unknown id", patient, id.NewEntryID()},
		{"other patient", "patient-002", e.ID},
		{"nil id", patient, id.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := l.Consume(ctx, tt.patientID, tt.entryID)
			if res.Reason != pkgledger.ReasonNotFound {
				t.Fatalf("expected not_found, got %s/%s", res.Outcome, res.Reason)
			}
			if !pkgledger.IsNotFound(res.Err()) {
				t.Errorf("IsNotFound(%v) = false", res.Err())
			}
		})
	}
}

func TestConsumeRefundRoundTrip(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Acupuncture Package", 4, 30))
	l.Consume(ctx, patient, e.ID)

	before := remaining(t, l, e.ID)
	if res := l.Consume(ctx, patient, e.ID); !res.OK() {
		t.Fatalf("consume: %s", res.Outcome)
	}
	res := l.Refund(ctx, patient, e.ID, id.NewLineID(), nil)
	if !res.OK() || res.Clamped {
		t.Fatalf("refund: %s clamped=%v", res.Outcome, res.Clamped)
	}
	if got := remaining(t, l, e.ID); got != before {
		t.Errorf("remaining = %d, want %d", got, before)
	}
}

func TestRefundCap(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Cupping", 2, 30))
	l.Consume(ctx, patient, e.ID)

	first := l.Refund(ctx, patient, e.ID, id.NewLineID(), nil)
	if !first.OK() || first.Clamped || first.Entry.RemainingUses != 2 {
		t.Fatalf("first refund: %+v", first)
	}

	second := l.Refund(ctx, patient, e.ID, id.NewLineID(), nil)
	if !second.OK() || !second.Clamped {
		t.Fatalf("second refund: expected clamped success, got %+v", second)
	}
	if got := remaining(t, l, e.ID); got != 2 {
		t.Errorf("remaining = %d, want 2", got)
	}
}

func TestRefundRemovesLine(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Cupping", 2, 30))

	c := cart.New("hkd")
	c.AddItem("Consultation", 1, types.HKD(50000))
	line, res := l.ConsumeInto(ctx, c, patient, e.ID)
	if !res.OK() {
		t.Fatalf("ConsumeInto: %s", res.Outcome)
	}
	if line.DisplayName() != "Cupping（使用套票）" || !line.Bound() {
		t.Fatalf("unexpected line %+v", line)
	}
	if c.Len() != 2 || c.Total() != types.HKD(50000) {
		t.Fatalf("cart len=%d total=%s", c.Len(), c.Total())
	}

	rr := l.Refund(ctx, patient, e.ID, line.ID, c)
	if !rr.OK() {
		t.Fatalf("refund: %s", rr.Outcome)
	}
	if c.Find(line.ID) != nil {
		t.Error("package-use line still in cart after refund")
	}
	if got := remaining(t, l, e.ID); got != 2 {
		t.Errorf("remaining = %d, want 2", got)
	}
}

func TestRemoveAndDecrementLine(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Cupping", 3, 30))
	c := cart.New("hkd")

	item := c.AddItem("Herbs", 2, types.HKD(8000))
	a, _ := l.ConsumeInto(ctx, c, patient, e.ID)
	b, _ := l.ConsumeInto(ctx, c, patient, e.ID)
	if got := remaining(t, l, e.ID); got != 1 {
		t.Fatalf("remaining = %d, want 1", got)
	}

	if err := l.DecrementLine(ctx, c, a.ID); err != nil {
		t.Fatalf("DecrementLine(package): %v", err)
	}
	if err := l.RemoveLine(ctx, c, b.ID); err != nil {
		t.Fatalf("RemoveLine(package): %v", err)
	}
	if got := remaining(t, l, e.ID); got != 3 {
		t.Errorf("remaining = %d, want 3", got)
	}

	if err := l.DecrementLine(ctx, c, item.ID); err != nil {
		t.Fatalf("DecrementLine(item): %v", err)
	}
	if item.Quantity != 1 || c.Len() != 1 {
		t.Errorf("item qty=%d len=%d", item.Quantity, c.Len())
	}
	if err := l.RemoveLine(ctx, c, id.NewLineID()); !errors.Is(err, pkgledger.ErrLineNotFound) {
		t.Errorf("expected ErrLineNotFound, got %v", err)
	}
}

func TestReleasePackageUses(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	cupping := mustPurchase(t, l, offering("Cupping", 2, 30))
	massage := mustPurchase(t, l, offering("Massage", 1, 30))

	c := cart.New("hkd")
	c.AddItem("Consultation", 1, types.HKD(50000))
	l.ConsumeInto(ctx, c, patient, cupping.ID)
	l.ConsumeInto(ctx, c, patient, cupping.ID)
	l.ConsumeInto(ctx, c, patient, massage.ID)
	// A restored line that was never reconciled is dropped without a refund.
	c.Add(&cart.PackageUse{ID: id.NewLineID(), PackageName: "Cupping", Currency: "hkd"})

	if err := l.ReleasePackageUses(ctx, c); err != nil {
		t.Fatalf("ReleasePackageUses: %v", err)
	}
	if c.Len() != 1 || len(c.PackageUses()) != 0 {
		t.Errorf("cart len = %d, package uses = %d", c.Len(), len(c.PackageUses()))
	}
	if got := remaining(t, l, cupping.ID); got != 2 {
		t.Errorf("cupping remaining = %d, want 2", got)
	}
	if got := remaining(t, l, massage.ID); got != 1 {
		t.Errorf("massage remaining = %d, want 1", got)
	}
}

func TestListActiveEntries(t *testing.T) {
	l, clk := newLedger(t, nil)
	ctx := context.Background()

	long := mustPurchase(t, l, offering("Long", 2, 90))
	clk.Set(t0.Add(time.Hour))
	short := mustPurchase(t, l, offering("Short", 2, 10))
	used := mustPurchase(t, l, offering("Used", 1, 5))
	l.Consume(ctx, patient, used.ID)

	active, err := l.ListActiveEntries(ctx, patient)
	if err != nil {
		t.Fatalf("ListActiveEntries: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active entries, got %d", len(active))
	}
	if active[0].ID.String() != short.ID.String() || active[1].ID.String() != long.ID.String() {
		t.Errorf("order = [%s %s], want soonest expiry first", active[0].Name, active[1].Name)
	}
}

func TestListActiveEntriesKeepsExpired(t *testing.T) {
	l, clk := newLedger(t, nil)
	ctx := context.Background()

	lapsed := mustPurchase(t, l, offering("Lapsed", 3, 1))
	clk.Set(t0.Add(2 * entry.Day))
	fresh := mustPurchase(t, l, offering("Fresh", 3, 30))

	active, err := l.ListActiveEntries(ctx, patient)
	if err != nil {
		t.Fatalf("ListActiveEntries: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(active))
	}
	if active[0].ID.String() != lapsed.ID.String() || active[1].ID.String() != fresh.ID.String() {
		t.Errorf("order = [%s %s], want [Lapsed Fresh]", active[0].Name, active[1].Name)
	}
	if got := active[0].State(l.Now()); got != entry.StateExpired {
		t.Errorf("lapsed state = %s, want expired", got)
	}
	if res := l.Consume(ctx, patient, lapsed.ID); res.Reason != pkgledger.ReasonExpired {
		t.Errorf("consume lapsed reason = %q, want expired", res.Reason)
	}
}

func TestDescribeStatus(t *testing.T) {
	l, clk := newLedger(t, nil)
	e := mustPurchase(t, l, offering("Cupping", 5, 30))

	if got, want := l.DescribeStatus(e), "remaining 5/5 uses · expires 2026-02-09 (in ~30 days)"; got != want {
		t.Errorf("DescribeStatus = %q, want %q", got, want)
	}
	clk.Set(t0.Add(31 * entry.Day))
	if got, want := l.DescribeStatus(e), "expired on 2026-02-09"; got != want {
		t.Errorf("DescribeStatus = %q, want %q", got, want)
	}
}

func TestReconcileUniqueMatch(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Acupuncture Package", 5, 90))

	lines := []*cart.PackageUse{{ID: id.NewLineID(), PackageName: "Acupuncture Package（使用套票）"}}
	report, err := l.ReconcilePackageUseLines(ctx, patient, lines)
	if err != nil {
		t.Fatalf("ReconcilePackageUseLines: %v", err)
	}
	if lines[0].EntryID.String() != e.ID.String() || lines[0].PatientID != patient {
		t.Errorf("line bound to %q, want %q", lines[0].EntryID.String(), e.ID.String())
	}
	if len(report.Bindings) != 1 || report.Bindings[0].Heuristic != pkgledger.HeuristicOnlyCandidate {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestReconcileFromDescription(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Acupuncture Package", 5, 90))

	c := cart.New("hkd")
	c.AddItem("Consultation", 1, types.HKD(50000))
	l.ConsumeInto(ctx, c, patient, e.ID)

	restored := cart.New("hkd")
	for _, line := range cart.ParseDescription(cart.FormatDescription(c.Lines()), "hkd") {
		restored.Add(line)
	}
	uses := restored.PackageUses()
	if len(uses) != 1 || uses[0].Bound() {
		t.Fatalf("expected one unbound line, got %+v", uses)
	}

	if _, err := l.ReconcilePackageUseLines(ctx, patient, uses); err != nil {
		t.Fatalf("ReconcilePackageUseLines: %v", err)
	}
	if err := l.RemoveLine(ctx, restored, uses[0].ID); err != nil {
		t.Fatalf("RemoveLine: %v", err)
	}
	if got := remaining(t, l, e.ID); got != 5 {
		t.Errorf("remaining = %d, want 5", got)
	}
}

func TestReconcileMostUsedWins(t *testing.T) {
	l, clk := newLedger(t, nil)
	ctx := context.Background()

	older := mustPurchase(t, l, offering("Massage Package", 5, 90))
	clk.Set(t0.Add(entry.Day))
	busier := mustPurchase(t, l, offering("Massage Package", 5, 90))
	l.Consume(ctx, patient, busier.ID)
	l.Consume(ctx, patient, busier.ID)
	l.Consume(ctx, patient, older.ID)

	lines := []*cart.PackageUse{{ID: id.NewLineID(), PackageName: "Massage Package"}}
	report, err := l.ReconcilePackageUseLines(ctx, patient, lines)
	if err != nil {
		t.Fatalf("ReconcilePackageUseLines: %v", err)
	}
	if lines[0].EntryID.String() != busier.ID.String() {
		t.Errorf("bound to %s, want most-used entry %s", lines[0].EntryID, busier.ID)
	}
	b := report.Bindings[0]
	if b.Candidates != 2 || b.Heuristic != pkgledger.HeuristicMostUsed {
		t.Errorf("unexpected binding %+v", b)
	}

	// Equal usage goes to the earlier purchase.
	l.Consume(ctx, patient, older.ID)
	lines[0].EntryID = id.Nil
	if _, err := l.ReconcilePackageUseLines(ctx, patient, lines); err != nil {
		t.Fatalf("ReconcilePackageUseLines: %v", err)
	}
	if lines[0].EntryID.String() != older.ID.String() {
		t.Errorf("tie bound to %s, want earlier purchase %s", lines[0].EntryID, older.ID)
	}
}

func TestReconcileNoMatch(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	other := mustPurchase(t, l, offering("Acupuncture Package", 3, 90))

	line := &cart.PackageUse{ID: id.NewLineID(), PackageName: "Massage Package（使用套票）"}
	report, err := l.ReconcilePackageUseLines(ctx, patient, []*cart.PackageUse{line})
	if err != nil {
		t.Fatalf("ReconcilePackageUseLines: %v", err)
	}
	if line.Bound() {
		t.Fatal("line should stay unbound")
	}
	if len(report.Unbound) != 1 || report.Unbound[0].Name != "Massage Package" {
		t.Errorf("unexpected report %+v", report)
	}

	res := l.Refund(ctx, patient, line.EntryID, line.ID, nil)
	if res.Outcome != pkgledger.OutcomeRejected || res.Reason != pkgledger.ReasonNotFound {
		t.Fatalf("expected rejected/not_found, got %s/%s", res.Outcome, res.Reason)
	}
	if got := remaining(t, l, other.ID); got != 3 {
		t.Errorf("unrelated entry changed: remaining = %d", got)
	}
}

func TestReconcileKeepsValidLinks(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Cupping", 3, 30))

	line := cart.NewPackageUse("Cupping", patient, e.ID, "hkd")
	stale := cart.NewPackageUse("Cupping", patient, id.NewEntryID(), "hkd")
	report, err := l.ReconcilePackageUseLines(ctx, patient, []*cart.PackageUse{line, stale})
	if err != nil {
		t.Fatalf("ReconcilePackageUseLines: %v", err)
	}
	if report.AlreadyBound != 1 || len(report.Bindings) != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if stale.EntryID.String() != e.ID.String() {
		t.Errorf("stale link not repaired: %s", stale.EntryID)
	}
}

// failingStore fails every mutating call with a driver-style error.
type failingStore struct {
	store.Store
	err error
}

func (f *failingStore) ConsumeEntry(context.Context, string, id.EntryID, time.Time) (*entry.Entry, error) {
	return nil, f.err
}

func (f *failingStore) RefundEntry(context.Context, string, id.EntryID, time.Time) (*entry.Entry, bool, error) {
	return nil, false, f.err
}

func (f *failingStore) ListEntries(context.Context, string, entry.ListOpts) ([]*entry.Entry, error) {
	return nil, f.err
}

func TestStoreFailure(t *testing.T) {
	mem := memory.New()
	fs := &failingStore{Store: mem, err: errors.New("connection reset")}
	l, _ := newLedger(t, fs)
	ctx := context.Background()

	e := mustPurchase(t, l, offering("Cupping", 2, 30))

	res := l.Consume(ctx, patient, e.ID)
	if res.Outcome != pkgledger.OutcomeStoreFailure {
		t.Fatalf("expected store_failure, got %s", res.Outcome)
	}
	if !errors.Is(res.Err(), pkgledger.ErrStoreFailure) || !pkgledger.IsRetryable(res.Err()) {
		t.Errorf("Err() = %v, want retryable store failure", res.Err())
	}

	c := cart.New("hkd")
	line := cart.NewPackageUse("Cupping", patient, e.ID, "hkd")
	c.Add(line)
	rr := l.Refund(ctx, patient, e.ID, line.ID, c)
	if rr.Outcome != pkgledger.OutcomeStoreFailure {
		t.Fatalf("expected store_failure, got %s", rr.Outcome)
	}
	if c.Find(line.ID) == nil {
		t.Error("line removed despite failed refund")
	}

	err := l.ReleasePackageUses(ctx, c)
	var multi pkgledger.MultiError
	if !errors.As(err, &multi) || len(multi.Errors) != 1 || !errors.Is(err, pkgledger.ErrStoreFailure) {
		t.Errorf("ReleasePackageUses = %v, want one store failure", err)
	}
	if c.Len() != 1 {
		t.Errorf("cart len = %d, want the failed line kept", c.Len())
	}

	if _, err := l.ReconcilePackageUseLines(ctx, patient, []*cart.PackageUse{line}); !errors.Is(err, pkgledger.ErrStoreFailure) {
		t.Errorf("expected ErrStoreFailure, got %v", err)
	}
}

func TestConcurrentConsume(t *testing.T) {
	l, _ := newLedger(t, nil)
	ctx := context.Background()
	e := mustPurchase(t, l, offering("Cupping", 10, 30))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Consume(ctx, patient, e.ID).OK() {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if consumed != 10 {
		t.Errorf("consumed = %d, want 10", consumed)
	}
	if got := remaining(t, l, e.ID); got != 0 {
		t.Errorf("remaining = %d, want 0", got)
	}
}
