package pkgledger

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/plugin"
	"github.com/xraph/pkgledger/store"
)

// Ledger owns the lifecycle of patients' purchased packages. It is safe for
// concurrent use; every balance change is a single atomic store update.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call. Non-positive values keep
// plugin.DefaultTimeout.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.plugins.WithTimeout(d)
		}
	}
}

// WithClock replaces the wall clock used for purchase, expiry and status.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Start migrates the store and initialises plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("package ledger started", "plugins", l.plugins.Count())
	return nil
}

// Stop shuts down plugins and closes the store.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// ──────────────────────────────────────────────────
// Purchase
// ──────────────────────────────────────────────────

// Purchase records a new package entry for patientID. Each call creates an
// independent entry; repeat purchases of one offering are never merged.
func (l *Ledger) Purchase(ctx context.Context, patientID string, o entry.Offering) (*entry.Entry, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, ValidationError{Field: "patient_id", Message: "must not be empty"}
	}
	if o.TotalUses <= 0 {
		return nil, ValidationError{Field: "total_uses", Message: "must be positive"}
	}
	if o.ValidityDays <= 0 {
		return nil, ValidationError{Field: "validity_days", Message: "must be positive"}
	}

	e := entry.New(patientID, o, l.now())
	e.ID = id.NewEntryID()

	if err := l.store.CreateEntry(ctx, e); err != nil {
		return nil, l.failed(ctx, "create entry", err)
	}

	l.logger.Info("package purchased",
		"patient_id", patientID,
		"entry_id", e.ID.String(),
		"offering_id", o.ID,
		"price", o.Price.String(),
		"total_uses", e.TotalUses,
		"expires_at", e.ExpiresAt,
	)
	l.plugins.EmitPackagePurchased(ctx, e)

	return e, nil
}

// ──────────────────────────────────────────────────
// Consumption
// ──────────────────────────────────────────────────

// Consume deducts one use from the entry. Entries are valid up to and
// including their expiry instant.
func (l *Ledger) Consume(ctx context.Context, patientID string, entryID id.EntryID) ConsumeResult {
	e, err := l.store.ConsumeEntry(ctx, patientID, entryID, l.now())
	if err != nil {
		if reason, ok := rejectionOf(err); ok {
			l.logger.Info("package consumption rejected",
				"patient_id", patientID,
				"entry_id", entryID.String(),
				"reason", reason,
			)
			l.plugins.EmitConsumeRejected(ctx, patientID, entryID, string(reason))
			return ConsumeResult{Outcome: OutcomeRejected, Reason: reason}
		}
		return ConsumeResult{Outcome: OutcomeStoreFailure, Cause: l.failed(ctx, "consume entry", err)}
	}

	l.logger.Info("package consumed",
		"patient_id", patientID,
		"entry_id", entryID.String(),
		"remaining_uses", e.RemainingUses,
	)
	l.plugins.EmitPackageConsumed(ctx, e)

	return ConsumeResult{Outcome: OutcomeConsumed, Entry: e}
}

// ──────────────────────────────────────────────────
// Refund
// ──────────────────────────────────────────────────

// LineRemover removes a billing line from the caller's cart.
type LineRemover interface {
	RemoveLine(lineID id.LineID) bool
}

// Refund returns one use to the entry, never exceeding its TotalUses, and on
// success removes lineID from lines. On a store failure the line is left in
// place so the cart and the ledger do not diverge. lines may be nil.
func (l *Ledger) Refund(ctx context.Context, patientID string, entryID id.EntryID, lineID id.LineID, lines LineRemover) RefundResult {
	if entryID.IsNil() {
		return l.refundRejected(ctx, patientID, entryID, lineID)
	}

	e, clamped, err := l.store.RefundEntry(ctx, patientID, entryID, l.now())
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return l.refundRejected(ctx, patientID, entryID, lineID)
		}
		return RefundResult{Outcome: OutcomeStoreFailure, Cause: l.failed(ctx, "refund entry", err)}
	}

	if lines != nil {
		lines.RemoveLine(lineID)
	}

	if clamped {
		l.logger.Warn("package refund clamped at total uses",
			"patient_id", patientID,
			"entry_id", entryID.String(),
			"line_id", lineID.String(),
			"total_uses", e.TotalUses,
		)
		l.plugins.EmitRefundClamped(ctx, e, lineID)
	} else {
		l.logger.Info("package refunded",
			"patient_id", patientID,
			"entry_id", entryID.String(),
			"line_id", lineID.String(),
			"remaining_uses", e.RemainingUses,
		)
		l.plugins.EmitPackageRefunded(ctx, e, lineID)
	}

	return RefundResult{Outcome: OutcomeRefunded, Entry: e, Clamped: clamped}
}

func (l *Ledger) refundRejected(ctx context.Context, patientID string, entryID id.EntryID, lineID id.LineID) RefundResult {
	l.logger.Warn("package refund found no entry",
		"patient_id", patientID,
		"entry_id", entryID.String(),
		"line_id", lineID.String(),
	)
	return RefundResult{Outcome: OutcomeRejected, Reason: ReasonNotFound}
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetEntry returns one of the patient's entries.
func (l *Ledger) GetEntry(ctx context.Context, patientID string, entryID id.EntryID) (*entry.Entry, error) {
	e, err := l.store.GetEntry(ctx, patientID, entryID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, err
		}
		return nil, l.failed(ctx, "get entry", err)
	}
	return e, nil
}

// ListEntries returns all of the patient's entries, including exhausted and
// expired ones, soonest-expiring first.
func (l *Ledger) ListEntries(ctx context.Context, patientID string) ([]*entry.Entry, error) {
	return l.list(ctx, patientID, entry.ListOpts{})
}

// ListActiveEntries returns the patient's entries with uses left, ordered by
// ascending expiry so staff use the soonest-lapsing package first.
//
// Expired entries that still have uses are included; callers that only want
// consumable entries check Entry.State. Consume rejects them either way.
func (l *Ledger) ListActiveEntries(ctx context.Context, patientID string) ([]*entry.Entry, error) {
	return l.list(ctx, patientID, entry.ListOpts{WithRemaining: true})
}

func (l *Ledger) list(ctx context.Context, patientID string, opts entry.ListOpts) ([]*entry.Entry, error) {
	entries, err := l.store.ListEntries(ctx, patientID, opts)
	if err != nil {
		return nil, l.failed(ctx, "list entries", err)
	}
	// Backends already order by expiry; ties are made deterministic here.
	slices.SortStableFunc(entries, func(a, b *entry.Entry) int {
		return cmp.Or(
			a.ExpiresAt.Compare(b.ExpiresAt),
			a.PurchasedAt.Compare(b.PurchasedAt),
			strings.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return entries, nil
}

// DescribeStatus renders the entry's status at the ledger clock's now.
func (l *Ledger) DescribeStatus(e *entry.Entry) string {
	return entry.DescribeStatus(e, l.now())
}

// failed logs a store failure, notifies plugins and wraps it.
func (l *Ledger) failed(ctx context.Context, op string, err error) error {
	l.logger.Error("package ledger store failure",
		"op", op,
		"error", err,
	)
	l.plugins.EmitStoreFailure(ctx, op, err)
	return storeFailure(op, err)
}
