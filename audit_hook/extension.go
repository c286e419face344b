// Package audithook bridges package ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on a
// particular audit store. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnPackagePurchased = (*Extension)(nil)
	_ plugin.OnPackageConsumed  = (*Extension)(nil)
	_ plugin.OnConsumeRejected  = (*Extension)(nil)
	_ plugin.OnPackageRefunded  = (*Extension)(nil)
	_ plugin.OnRefundClamped    = (*Extension)(nil)
	_ plugin.OnStoreFailure     = (*Extension)(nil)
	_ plugin.OnLineReconciled   = (*Extension)(nil)
	_ plugin.OnLineUnbound      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Package entry hooks
// ──────────────────────────────────────────────────

// OnPackagePurchased implements plugin.OnPackagePurchased.
func (e *Extension) OnPackagePurchased(ctx context.Context, en *entry.Entry) error {
	return e.record(ctx, ActionPackagePurchased, SeverityInfo, OutcomeSuccess,
		ResourcePackageEntry, en.ID.String(), CategoryPackage, nil,
		"patient_id", en.PatientID,
		"offering_id", en.OfferingID,
		"name", en.Name,
		"total_uses", en.TotalUses,
		"expires_at", en.ExpiresAt,
	)
}

// OnPackageConsumed implements plugin.OnPackageConsumed.
func (e *Extension) OnPackageConsumed(ctx context.Context, en *entry.Entry) error {
	return e.record(ctx, ActionPackageConsumed, SeverityInfo, OutcomeSuccess,
		ResourcePackageEntry, en.ID.String(), CategoryPackage, nil,
		"patient_id", en.PatientID,
		"remaining_uses", en.RemainingUses,
	)
}

// OnConsumeRejected implements plugin.OnConsumeRejected.
func (e *Extension) OnConsumeRejected(ctx context.Context, patientID string, entryID id.EntryID, reason string) error {
	return e.record(ctx, ActionConsumeRejected, SeverityWarning, OutcomeFailure,
		ResourcePackageEntry, entryID.String(), CategoryPackage, fmt.Errorf("consume rejected: %s", reason),
		"patient_id", patientID,
		"reason", reason,
	)
}

// OnPackageRefunded implements plugin.OnPackageRefunded.
func (e *Extension) OnPackageRefunded(ctx context.Context, en *entry.Entry, lineID id.LineID) error {
	return e.record(ctx, ActionPackageRefunded, SeverityInfo, OutcomeSuccess,
		ResourcePackageEntry, en.ID.String(), CategoryPackage, nil,
		"patient_id", en.PatientID,
		"line_id", lineID.String(),
		"remaining_uses", en.RemainingUses,
	)
}

// OnRefundClamped implements plugin.OnRefundClamped.
func (e *Extension) OnRefundClamped(ctx context.Context, en *entry.Entry, lineID id.LineID) error {
	return e.record(ctx, ActionRefundClamped, SeverityWarning, OutcomePartial,
		ResourcePackageEntry, en.ID.String(), CategoryPackage, nil,
		"patient_id", en.PatientID,
		"line_id", lineID.String(),
		"total_uses", en.TotalUses,
	)
}

// OnStoreFailure implements plugin.OnStoreFailure.
func (e *Extension) OnStoreFailure(ctx context.Context, op string, err error) error {
	return e.record(ctx, ActionStoreFailure, SeverityError, OutcomeFailure,
		ResourceStore, "", CategoryInfrastructure, err,
		"op", op,
	)
}

// ──────────────────────────────────────────────────
// Billing line hooks
// ──────────────────────────────────────────────────

// OnLineReconciled implements plugin.OnLineReconciled.
func (e *Extension) OnLineReconciled(ctx context.Context, patientID string, lineID id.LineID, entryID id.EntryID, candidates int) error {
	severity := SeverityInfo
	if candidates > 1 {
		// The binding came from the most-used heuristic and may be wrong.
		severity = SeverityWarning
	}
	return e.record(ctx, ActionLineReconciled, severity, OutcomeSuccess,
		ResourceBillingLine, lineID.String(), CategoryBilling, nil,
		"patient_id", patientID,
		"entry_id", entryID.String(),
		"candidates", candidates,
	)
}

// OnLineUnbound implements plugin.OnLineUnbound.
func (e *Extension) OnLineUnbound(ctx context.Context, patientID string, lineID id.LineID, packageName string) error {
	return e.record(ctx, ActionLineUnbound, SeverityWarning, OutcomeFailure,
		ResourceBillingLine, lineID.String(), CategoryBilling, nil,
		"patient_id", patientID,
		"package_name", packageName,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
