// Package sqlstore implements store.Store on gorm. It is dialect-neutral;
// the sqlite and postgres packages open a *gorm.DB and wrap it.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	pkgstore "github.com/xraph/pkgledger/store"
)

// compile-time interface check
var _ pkgstore.Store = (*Store)(nil)

// Store implements store.Store using gorm.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying gorm handle for direct access.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates the entries table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&entryModel{}); err != nil {
		return fmt.Errorf("pkgledger/sql: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ==================== Entry Store ====================

func (s *Store) CreateEntry(ctx context.Context, e *entry.Entry) error {
	if err := s.db.WithContext(ctx).Create(toEntryModel(e)).Error; err != nil {
		if isDuplicateKey(err) {
			return pkgledger.ErrAlreadyExists
		}
		return fmt.Errorf("pkgledger/sql: create entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, patientID string, entryID id.EntryID) (*entry.Entry, error) {
	m, err := findEntry(ctx, s.db, patientID, entryID)
	if err != nil {
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) ListEntries(ctx context.Context, patientID string, opts entry.ListOpts) ([]*entry.Entry, error) {
	var models []entryModel
	q := s.db.WithContext(ctx).Where("patient_id = ?", patientID)

	if opts.WithRemaining {
		q = q.Where("remaining_uses > 0")
	}
	if !opts.ActiveAt.IsZero() {
		q = q.Where("expires_at >= ?", opts.ActiveAt.UnixNano())
	}
	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Order("expires_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("pkgledger/sql: list entries: %w", err)
	}

	result := make([]*entry.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ConsumeEntry runs a conditional decrement and reads the row back in the
// same transaction. A miss is classified from that read.
func (s *Store) ConsumeEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, error) {
	var out *entry.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entryModel{}).
			Where("id = ? AND patient_id = ?", entryID, patientID).
			Where("remaining_uses > 0 AND expires_at >= ?", at.UnixNano()).
			Updates(map[string]any{
				"remaining_uses": gorm.Expr("remaining_uses - 1"),
				"updated_at":     at.UnixNano(),
			})
		if res.Error != nil {
			return res.Error
		}

		m, err := findEntry(ctx, tx, patientID, entryID)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			if at.UnixNano() > m.ExpiresAt {
				return pkgledger.ErrEntryExpired
			}
			return pkgledger.ErrEntryExhausted
		}

		out, err = fromEntryModel(m)
		return err
	})
	if err != nil {
		if pkgledger.IsRejection(err) {
			return nil, err
		}
		return nil, fmt.Errorf("pkgledger/sql: consume entry: %w", err)
	}
	return out, nil
}

// RefundEntry increments below the TotalUses cap. When the cap is already
// reached the row is returned unchanged with clamped set.
func (s *Store) RefundEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, bool, error) {
	var (
		out     *entry.Entry
		clamped bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entryModel{}).
			Where("id = ? AND patient_id = ?", entryID, patientID).
			Where("remaining_uses < total_uses").
			Updates(map[string]any{
				"remaining_uses": gorm.Expr("remaining_uses + 1"),
				"updated_at":     at.UnixNano(),
			})
		if res.Error != nil {
			return res.Error
		}

		m, err := findEntry(ctx, tx, patientID, entryID)
		if err != nil {
			return err
		}
		clamped = res.RowsAffected == 0

		out, err = fromEntryModel(m)
		return err
	})
	if err != nil {
		if errors.Is(err, pkgledger.ErrEntryNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("pkgledger/sql: refund entry: %w", err)
	}
	return out, clamped, nil
}

func findEntry(ctx context.Context, db *gorm.DB, patientID string, entryID id.EntryID) (*entryModel, error) {
	m := new(entryModel)
	err := db.WithContext(ctx).
		Where("id = ? AND patient_id = ?", entryID, patientID).
		Take(m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgledger.ErrEntryNotFound
		}
		return nil, fmt.Errorf("pkgledger/sql: get entry: %w", err)
	}
	return m, nil
}

// isDuplicateKey recognises unique violations from the supported dialects.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
