// Package plugin provides an extensible plugin system for pkgledger.
// Plugins hook into ledger lifecycle events to extend functionality.
package plugin

import (
	"context"

	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Package entry hooks
// ──────────────────────────────────────────────────

// OnPackagePurchased is called after a new entry is persisted.
type OnPackagePurchased interface {
	Plugin
	OnPackagePurchased(ctx context.Context, e *entry.Entry) error
}

// OnPackageConsumed is called after one use is deducted.
type OnPackageConsumed interface {
	Plugin
	OnPackageConsumed(ctx context.Context, e *entry.Entry) error
}

// OnConsumeRejected is called when a consumption is refused.
// reason is one of "not_found", "expired", "exhausted".
type OnConsumeRejected interface {
	Plugin
	OnConsumeRejected(ctx context.Context, patientID string, entryID id.EntryID, reason string) error
}

// OnPackageRefunded is called after one use is returned.
type OnPackageRefunded interface {
	Plugin
	OnPackageRefunded(ctx context.Context, e *entry.Entry, lineID id.LineID) error
}

// OnRefundClamped is called when a refund found the entry already at its
// full grant and left it unchanged.
type OnRefundClamped interface {
	Plugin
	OnRefundClamped(ctx context.Context, e *entry.Entry, lineID id.LineID) error
}

// OnStoreFailure is called when a store operation fails.
type OnStoreFailure interface {
	Plugin
	OnStoreFailure(ctx context.Context, op string, err error) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnLineReconciled is called when a restored package-use line is bound to an
// entry. candidates is the number of same-named entries considered.
type OnLineReconciled interface {
	Plugin
	OnLineReconciled(ctx context.Context, patientID string, lineID id.LineID, entryID id.EntryID, candidates int) error
}

// OnLineUnbound is called when no entry could be found for a restored line.
type OnLineUnbound interface {
	Plugin
	OnLineUnbound(ctx context.Context, patientID string, lineID id.LineID, packageName string) error
}
