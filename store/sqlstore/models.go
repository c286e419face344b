package sqlstore

import (
	"fmt"
	"time"

	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/types"
)

// ==================== Entry models ====================

// entryModel stores instants as UTC unix nanoseconds so that expiry
// comparisons behave the same on every SQL dialect. The id column goes
// through id.ID's driver.Valuer and sql.Scanner.
type entryModel struct {
	ID            id.EntryID `gorm:"column:id;primaryKey;type:varchar(64)"`
	PatientID     string     `gorm:"column:patient_id;size:128;not null;index:idx_pkg_entries_patient_expiry,priority:1"`
	OfferingID    string     `gorm:"column:offering_id;size:128"`
	Name          string     `gorm:"column:name;size:255;not null"`
	TotalUses     int        `gorm:"column:total_uses;not null"`
	RemainingUses int        `gorm:"column:remaining_uses;not null"`
	PurchasedAt   int64      `gorm:"column:purchased_at;not null"`
	ExpiresAt     int64      `gorm:"column:expires_at;not null;index:idx_pkg_entries_patient_expiry,priority:2"`
	CreatedAtNs   int64      `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAtNs   int64      `gorm:"column:updated_at;autoUpdateTime:false"`
}

// TableName implements gorm's tabler.
func (entryModel) TableName() string { return "pkg_ledger_entries" }

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		ID:            e.ID,
		PatientID:     e.PatientID,
		OfferingID:    e.OfferingID,
		Name:          e.Name,
		TotalUses:     e.TotalUses,
		RemainingUses: e.RemainingUses,
		PurchasedAt:   e.PurchasedAt.UnixNano(),
		ExpiresAt:     e.ExpiresAt.UnixNano(),
		CreatedAtNs:   e.CreatedAt.UnixNano(),
		UpdatedAtNs:   e.UpdatedAt.UnixNano(),
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	if m.ID.Prefix() != id.PrefixEntry {
		return nil, fmt.Errorf("pkgledger/sql: row id %q is not an entry id", m.ID)
	}

	return &entry.Entry{
		Entity: types.Entity{
			CreatedAt: fromNanos(m.CreatedAtNs),
			UpdatedAt: fromNanos(m.UpdatedAtNs),
		},
		ID:            m.ID,
		PatientID:     m.PatientID,
		OfferingID:    m.OfferingID,
		Name:          m.Name,
		TotalUses:     m.TotalUses,
		RemainingUses: m.RemainingUses,
		PurchasedAt:   fromNanos(m.PurchasedAt),
		ExpiresAt:     fromNanos(m.ExpiresAt),
	}, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
