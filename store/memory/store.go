// Package memory provides an in-process store.Store for tests, demos and
// single-terminal deployments.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Entry storage keyed by entry id
	entries map[string]*entry.Entry

	closed bool
}

func New() *Store {
	return &Store{
		entries: make(map[string]*entry.Entry),
	}
}

// Entry Store implementation
func (s *Store) CreateEntry(_ context.Context, e *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return pkgledger.ErrStoreClosed
	}
	if _, exists := s.entries[e.ID.String()]; exists {
		return pkgledger.ErrAlreadyExists
	}
	s.entries[e.ID.String()] = e.Clone()
	return nil
}

func (s *Store) GetEntry(_ context.Context, patientID string, entryID id.EntryID) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, pkgledger.ErrStoreClosed
	}
	e, err := s.lookup(patientID, entryID)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

func (s *Store) ListEntries(_ context.Context, patientID string, opts entry.ListOpts) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, pkgledger.ErrStoreClosed
	}

	result := make([]*entry.Entry, 0)
	for _, e := range s.entries {
		if e.PatientID == patientID && opts.Match(e) {
			result = append(result, e.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *entry.Entry) int {
		return cmp.Or(
			a.ExpiresAt.Compare(b.ExpiresAt),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})

	// Apply limit/offset
	start := min(opts.Offset, len(result))
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

// ConsumeEntry checks and decrements under the write lock, which makes the
// pair atomic with respect to every other caller.
func (s *Store) ConsumeEntry(_ context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, pkgledger.ErrStoreClosed
	}
	e, err := s.lookup(patientID, entryID)
	if err != nil {
		return nil, err
	}
	if e.Expired(at) {
		return nil, pkgledger.ErrEntryExpired
	}
	if e.Exhausted() {
		return nil, pkgledger.ErrEntryExhausted
	}
	e.RemainingUses--
	e.Touch(at)
	return e.Clone(), nil
}

func (s *Store) RefundEntry(_ context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, pkgledger.ErrStoreClosed
	}
	e, err := s.lookup(patientID, entryID)
	if err != nil {
		return nil, false, err
	}
	if e.RemainingUses >= e.TotalUses {
		return e.Clone(), true, nil
	}
	e.RemainingUses++
	e.Touch(at)
	return e.Clone(), false, nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(patientID string, entryID id.EntryID) (*entry.Entry, error) {
	e, ok := s.entries[entryID.String()]
	if !ok || e.PatientID != patientID {
		return nil, pkgledger.ErrEntryNotFound
	}
	return e, nil
}

// Lifecycle

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return pkgledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
