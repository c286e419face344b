// Package observability provides a metrics extension for pkgledger that
// records package lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnPackagePurchased = (*MetricsExtension)(nil)
	_ plugin.OnPackageConsumed  = (*MetricsExtension)(nil)
	_ plugin.OnConsumeRejected  = (*MetricsExtension)(nil)
	_ plugin.OnPackageRefunded  = (*MetricsExtension)(nil)
	_ plugin.OnRefundClamped    = (*MetricsExtension)(nil)
	_ plugin.OnStoreFailure     = (*MetricsExtension)(nil)
	_ plugin.OnLineReconciled   = (*MetricsExtension)(nil)
	_ plugin.OnLineUnbound      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger-wide lifecycle metrics.
// Register it as a Ledger plugin to track package usage automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Purchase metrics
	PackagePurchased Counter
	UsesGranted      Counter

	// Consumption metrics
	PackageConsumed   Counter
	RemainingUses     Histogram
	RejectedNotFound  Counter
	RejectedExpired   Counter
	RejectedExhausted Counter

	// Refund metrics
	PackageRefunded Counter
	RefundClamped   Counter

	// Reconciliation metrics
	LinesReconciled     Counter
	LinesUnbound        Counter
	ReconcileCandidates Histogram
	AmbiguousReconciles Counter

	// Error metrics
	StoreErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a Prometheus registry.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Purchase metrics
		PackagePurchased: factory.Counter("pkgledger.package.purchased"),
		UsesGranted:      factory.Counter("pkgledger.package.uses_granted"),

		// Consumption metrics
		PackageConsumed:   factory.Counter("pkgledger.package.consumed"),
		RemainingUses:     factory.Histogram("pkgledger.package.remaining_uses"),
		RejectedNotFound:  factory.Counter("pkgledger.consume.rejected.not_found"),
		RejectedExpired:   factory.Counter("pkgledger.consume.rejected.expired"),
		RejectedExhausted: factory.Counter("pkgledger.consume.rejected.exhausted"),

		// Refund metrics
		PackageRefunded: factory.Counter("pkgledger.package.refunded"),
		RefundClamped:   factory.Counter("pkgledger.refund.clamped"),

		// Reconciliation metrics
		LinesReconciled:     factory.Counter("pkgledger.reconcile.bound"),
		LinesUnbound:        factory.Counter("pkgledger.reconcile.unbound"),
		ReconcileCandidates: factory.Histogram("pkgledger.reconcile.candidates"),
		AmbiguousReconciles: factory.Counter("pkgledger.reconcile.ambiguous"),

		// Error metrics
		StoreErrors: factory.Counter("pkgledger.store.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Package entry hooks
// ──────────────────────────────────────────────────

// OnPackagePurchased implements plugin.OnPackagePurchased.
func (m *MetricsExtension) OnPackagePurchased(_ context.Context, e *entry.Entry) error {
	m.PackagePurchased.Inc()
	m.UsesGranted.Add(float64(e.TotalUses))
	return nil
}

// OnPackageConsumed implements plugin.OnPackageConsumed.
func (m *MetricsExtension) OnPackageConsumed(_ context.Context, e *entry.Entry) error {
	m.PackageConsumed.Inc()
	m.RemainingUses.Observe(float64(e.RemainingUses))
	return nil
}

// OnConsumeRejected implements plugin.OnConsumeRejected.
func (m *MetricsExtension) OnConsumeRejected(_ context.Context, _ string, _ id.EntryID, reason string) error {
	switch reason {
	case "expired":
		m.RejectedExpired.Inc()
	case "exhausted":
		m.RejectedExhausted.Inc()
	default:
		m.RejectedNotFound.Inc()
	}
	return nil
}

// OnPackageRefunded implements plugin.OnPackageRefunded.
func (m *MetricsExtension) OnPackageRefunded(_ context.Context, _ *entry.Entry, _ id.LineID) error {
	m.PackageRefunded.Inc()
	return nil
}

// OnRefundClamped implements plugin.OnRefundClamped.
func (m *MetricsExtension) OnRefundClamped(_ context.Context, _ *entry.Entry, _ id.LineID) error {
	m.RefundClamped.Inc()
	return nil
}

// OnStoreFailure implements plugin.OnStoreFailure.
func (m *MetricsExtension) OnStoreFailure(_ context.Context, _ string, _ error) error {
	m.StoreErrors.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnLineReconciled implements plugin.OnLineReconciled.
func (m *MetricsExtension) OnLineReconciled(_ context.Context, _ string, _ id.LineID, _ id.EntryID, candidates int) error {
	m.LinesReconciled.Inc()
	m.ReconcileCandidates.Observe(float64(candidates))
	if candidates > 1 {
		m.AmbiguousReconciles.Inc()
	}
	return nil
}

// OnLineUnbound implements plugin.OnLineUnbound.
func (m *MetricsExtension) OnLineUnbound(_ context.Context, _ string, _ id.LineID, _ string) error {
	m.LinesUnbound.Inc()
	return nil
}
