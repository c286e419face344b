package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
)

// DefaultTimeout bounds a single plugin hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages registered plugins and dispatches events to them.
// Implemented hook interfaces are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit             []OnInit
	onShutdown         []OnShutdown
	onPackagePurchased []OnPackagePurchased
	onPackageConsumed  []OnPackageConsumed
	onConsumeRejected  []OnConsumeRejected
	onPackageRefunded  []OnPackageRefunded
	onRefundClamped    []OnRefundClamped
	onStoreFailure     []OnStoreFailure
	onLineReconciled   []OnLineReconciled
	onLineUnbound      []OnLineUnbound
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPackagePurchased); ok {
		r.onPackagePurchased = append(r.onPackagePurchased, v)
	}
	if v, ok := p.(OnPackageConsumed); ok {
		r.onPackageConsumed = append(r.onPackageConsumed, v)
	}
	if v, ok := p.(OnConsumeRejected); ok {
		r.onConsumeRejected = append(r.onConsumeRejected, v)
	}
	if v, ok := p.(OnPackageRefunded); ok {
		r.onPackageRefunded = append(r.onPackageRefunded, v)
	}
	if v, ok := p.(OnRefundClamped); ok {
		r.onRefundClamped = append(r.onRefundClamped, v)
	}
	if v, ok := p.(OnStoreFailure); ok {
		r.onStoreFailure = append(r.onStoreFailure, v)
	}
	if v, ok := p.(OnLineReconciled); ok {
		r.onLineReconciled = append(r.onLineReconciled, v)
	}
	if v, ok := p.(OnLineUnbound); ok {
		r.onLineUnbound = append(r.onLineUnbound, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnPackagePurchased", reflect.TypeOf((*OnPackagePurchased)(nil)).Elem()},
	{"OnPackageConsumed", reflect.TypeOf((*OnPackageConsumed)(nil)).Elem()},
	{"OnConsumeRejected", reflect.TypeOf((*OnConsumeRejected)(nil)).Elem()},
	{"OnPackageRefunded", reflect.TypeOf((*OnPackageRefunded)(nil)).Elem()},
	{"OnRefundClamped", reflect.TypeOf((*OnRefundClamped)(nil)).Elem()},
	{"OnStoreFailure", reflect.TypeOf((*OnStoreFailure)(nil)).Elem()},
	{"OnLineReconciled", reflect.TypeOf((*OnLineReconciled)(nil)).Elem()},
	{"OnLineUnbound", reflect.TypeOf((*OnLineUnbound)(nil)).Elem()},
}

func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// dispatch runs call for every plugin in hooks, logging failures.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, call func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// snapshot copies a hook slice under the read lock.
func snapshot[T any](r *Registry, s *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *s
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l interface{}) {
	dispatch(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, l)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitPackagePurchased emits a purchase event.
func (r *Registry) EmitPackagePurchased(ctx context.Context, e *entry.Entry) {
	dispatch(ctx, r, "OnPackagePurchased", snapshot(r, &r.onPackagePurchased), func(p OnPackagePurchased) error {
		return p.OnPackagePurchased(ctx, e.Clone())
	})
}

// EmitPackageConsumed emits a consumption event.
func (r *Registry) EmitPackageConsumed(ctx context.Context, e *entry.Entry) {
	dispatch(ctx, r, "OnPackageConsumed", snapshot(r, &r.onPackageConsumed), func(p OnPackageConsumed) error {
		return p.OnPackageConsumed(ctx, e.Clone())
	})
}

// EmitConsumeRejected emits a refused consumption.
func (r *Registry) EmitConsumeRejected(ctx context.Context, patientID string, entryID id.EntryID, reason string) {
	dispatch(ctx, r, "OnConsumeRejected", snapshot(r, &r.onConsumeRejected), func(p OnConsumeRejected) error {
		return p.OnConsumeRejected(ctx, patientID, entryID, reason)
	})
}

// EmitPackageRefunded emits a refund event.
func (r *Registry) EmitPackageRefunded(ctx context.Context, e *entry.Entry, lineID id.LineID) {
	dispatch(ctx, r, "OnPackageRefunded", snapshot(r, &r.onPackageRefunded), func(p OnPackageRefunded) error {
		return p.OnPackageRefunded(ctx, e.Clone(), lineID)
	})
}

// EmitRefundClamped emits a refund that hit the TotalUses cap.
func (r *Registry) EmitRefundClamped(ctx context.Context, e *entry.Entry, lineID id.LineID) {
	dispatch(ctx, r, "OnRefundClamped", snapshot(r, &r.onRefundClamped), func(p OnRefundClamped) error {
		return p.OnRefundClamped(ctx, e.Clone(), lineID)
	})
}

// EmitStoreFailure emits a failed store operation.
func (r *Registry) EmitStoreFailure(ctx context.Context, op string, err error) {
	dispatch(ctx, r, "OnStoreFailure", snapshot(r, &r.onStoreFailure), func(p OnStoreFailure) error {
		return p.OnStoreFailure(ctx, op, err)
	})
}

// EmitLineReconciled emits a successful binding of a restored line.
func (r *Registry) EmitLineReconciled(ctx context.Context, patientID string, lineID id.LineID, entryID id.EntryID, candidates int) {
	dispatch(ctx, r, "OnLineReconciled", snapshot(r, &r.onLineReconciled), func(p OnLineReconciled) error {
		return p.OnLineReconciled(ctx, patientID, lineID, entryID, candidates)
	})
}

// EmitLineUnbound emits a restored line that could not be bound.
func (r *Registry) EmitLineUnbound(ctx context.Context, patientID string, lineID id.LineID, packageName string) {
	dispatch(ctx, r, "OnLineUnbound", snapshot(r, &r.onLineUnbound), func(p OnLineUnbound) error {
		return p.OnLineUnbound(ctx, patientID, lineID, packageName)
	})
}

// callWithTimeout calls a plugin function with a timeout so a slow plugin
// cannot stall a consultation.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
