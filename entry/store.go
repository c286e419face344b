package entry

import (
	"context"
	"time"

	"github.com/xraph/pkgledger/id"
)

// Store persists ledger entries. Once created, an entry changes only
// through ConsumeEntry and RefundEntry; there is no whole-entry overwrite.
//
// ConsumeEntry and RefundEntry must be single atomic conditional updates: a
// concurrent caller can never observe or overwrite a stale RemainingUses.
type Store interface {
	// CreateEntry persists a new entry. The entry's ID must be set.
	CreateEntry(ctx context.Context, e *Entry) error

	// GetEntry returns the entry with entryID owned by patientID.
	GetEntry(ctx context.Context, patientID string, entryID id.EntryID) (*Entry, error)

	// ListEntries returns the patient's entries ordered by ascending ExpiresAt.
	ListEntries(ctx context.Context, patientID string, opts ListOpts) ([]*Entry, error)

	// ConsumeEntry decrements RemainingUses by one where RemainingUses > 0
	// and ExpiresAt >= at. On a miss it reports why with the package's
	// not-found, expired or exhausted sentinel errors.
	ConsumeEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (*Entry, error)

	// RefundEntry increments RemainingUses by one where RemainingUses <
	// TotalUses. When the cap is already reached the unchanged entry is
	// returned with clamped set.
	RefundEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (e *Entry, clamped bool, err error)
}

// ListOpts filters ListEntries.
type ListOpts struct {
	// WithRemaining keeps only entries with RemainingUses > 0.
	WithRemaining bool
	// ActiveAt, when non-zero, drops entries expired at that instant.
	ActiveAt time.Time
	// Name keeps only entries with this exact snapshot name.
	Name   string
	Limit  int
	Offset int
}

// Match reports whether e passes the filters in opts (ignoring paging).
func (opts ListOpts) Match(e *Entry) bool {
	if opts.WithRemaining && e.RemainingUses <= 0 {
		return false
	}
	if !opts.ActiveAt.IsZero() && e.Expired(opts.ActiveAt) {
		return false
	}
	if opts.Name != "" && e.Name != opts.Name {
		return false
	}
	return true
}
