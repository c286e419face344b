// Package entry defines purchased package-ticket ledger entries and the
// catalog offerings they are bought from.
package entry

import (
	"time"

	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/types"
)

// Day is the unit of package validity.
const Day = 24 * time.Hour

// Offering is a package in the clinic's billing-item catalog. Its values are
// snapshotted into an Entry at purchase time.
type Offering struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	TotalUses    int         `json:"total_uses"`
	ValidityDays int         `json:"validity_days"`
	Price        types.Money `json:"price,omitempty"`
}

// Entry is one purchased instance of a package for one patient.
//
// Invariant: 0 <= RemainingUses <= TotalUses. TotalUses, Name and ExpiresAt
// never change after creation.
type Entry struct {
	types.Entity
	ID            id.EntryID `json:"id"`
	PatientID     string     `json:"patient_id"`
	OfferingID    string     `json:"offering_id"`
	Name          string     `json:"name"`
	TotalUses     int        `json:"total_uses"`
	RemainingUses int        `json:"remaining_uses"`
	PurchasedAt   time.Time  `json:"purchased_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// State summarises an entry's eligibility at a point in time.
type State string

const (
	StateActive    State = "active"
	StateExpired   State = "expired"
	StateExhausted State = "exhausted"
)

// New builds an unsaved entry for a purchase of o made at purchasedAt.
func New(patientID string, o Offering, purchasedAt time.Time) *Entry {
	purchasedAt = purchasedAt.UTC()
	return &Entry{
		Entity:        types.NewEntityAt(purchasedAt),
		PatientID:     patientID,
		OfferingID:    o.ID,
		Name:          o.Name,
		TotalUses:     o.TotalUses,
		RemainingUses: o.TotalUses,
		PurchasedAt:   purchasedAt,
		ExpiresAt:     purchasedAt.Add(time.Duration(o.ValidityDays) * Day),
	}
}

// Used returns how many uses have been consumed.
func (e *Entry) Used() int { return e.TotalUses - e.RemainingUses }

// Expired reports whether the entry has lapsed at now. The expiry instant
// itself is still valid.
func (e *Entry) Expired(now time.Time) bool { return now.After(e.ExpiresAt) }

// Exhausted reports whether no uses are left.
func (e *Entry) Exhausted() bool { return e.RemainingUses <= 0 }

// State returns the entry's state at now. Expiry wins over exhaustion.
func (e *Entry) State(now time.Time) State {
	switch {
	case e.Expired(now):
		return StateExpired
	case e.Exhausted():
		return StateExhausted
	default:
		return StateActive
	}
}

// Clone returns a copy that shares nothing mutable with e.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}
