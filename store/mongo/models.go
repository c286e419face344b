package mongo

import (
	"time"

	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/types"
)

// ==================== Entry models ====================

// entryModel keeps instants as unix nanoseconds; BSON dates only hold
// milliseconds, which would shift the inclusive expiry boundary.
type entryModel struct {
	ID            string `bson:"_id"`
	PatientID     string `bson:"patient_id"`
	OfferingID    string `bson:"offering_id"`
	Name          string `bson:"name"`
	TotalUses     int    `bson:"total_uses"`
	RemainingUses int    `bson:"remaining_uses"`
	PurchasedAt   int64  `bson:"purchased_at"`
	ExpiresAt     int64  `bson:"expires_at"`
	CreatedAt     int64  `bson:"created_at"`
	UpdatedAt     int64  `bson:"updated_at"`
}

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		ID:            e.ID.String(),
		PatientID:     e.PatientID,
		OfferingID:    e.OfferingID,
		Name:          e.Name,
		TotalUses:     e.TotalUses,
		RemainingUses: e.RemainingUses,
		PurchasedAt:   e.PurchasedAt.UnixNano(),
		ExpiresAt:     e.ExpiresAt.UnixNano(),
		CreatedAt:     e.CreatedAt.UnixNano(),
		UpdatedAt:     e.UpdatedAt.UnixNano(),
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}

	return &entry.Entry{
		Entity: types.Entity{
			CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
			UpdatedAt: time.Unix(0, m.UpdatedAt).UTC(),
		},
		ID:            entryID,
		PatientID:     m.PatientID,
		OfferingID:    m.OfferingID,
		Name:          m.Name,
		TotalUses:     m.TotalUses,
		RemainingUses: m.RemainingUses,
		PurchasedAt:   time.Unix(0, m.PurchasedAt).UTC(),
		ExpiresAt:     time.Unix(0, m.ExpiresAt).UTC(),
	}, nil
}
