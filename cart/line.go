// Package cart models the parts of a consultation's billing cart that the
// package ledger touches: ordinary billed items, zero-price package-use lines,
// and the free-text description a saved consultation keeps its lines in.
package cart

import (
	"strings"

	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/types"
)

// PackageUseSuffix marks a billing line as one use of a prepaid package.
const PackageUseSuffix = "（使用套票）"

// Line is a billing cart line.
type Line interface {
	LineID() id.LineID
	DisplayName() string
	Amount() types.Money
}

// Item is an ordinary billed item.
type Item struct {
	ID        id.LineID   `json:"id"`
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	UnitPrice types.Money `json:"unit_price"`
}

// LineID implements Line.
func (i *Item) LineID() id.LineID { return i.ID }

// DisplayName implements Line.
func (i *Item) DisplayName() string { return i.Name }

// Amount implements Line.
func (i *Item) Amount() types.Money { return i.UnitPrice.Multiply(int64(i.Quantity)) }

// PackageUse records one consumption of a package ledger entry. It has no
// quantity: each line is exactly one use, and removing it is the only way to
// undo it.
//
// EntryID is nil for lines restored from a saved description until
// reconciliation binds them.
type PackageUse struct {
	ID          id.LineID  `json:"id"`
	PackageName string     `json:"package_name"`
	PatientID   string     `json:"patient_id,omitempty"`
	EntryID     id.EntryID `json:"entry_id"`
	Currency    string     `json:"currency"`
}

// NewPackageUse creates a line bound to a consumed entry.
func NewPackageUse(packageName, patientID string, entryID id.EntryID, currency string) *PackageUse {
	return &PackageUse{
		ID:          id.NewLineID(),
		PackageName: packageName,
		PatientID:   patientID,
		EntryID:     entryID,
		Currency:    currency,
	}
}

// LineID implements Line.
func (p *PackageUse) LineID() id.LineID { return p.ID }

// DisplayName implements Line.
func (p *PackageUse) DisplayName() string { return p.PackageName + PackageUseSuffix }

// Amount implements Line. Package uses are always free.
func (p *PackageUse) Amount() types.Money { return types.Zero(p.Currency) }

// Bound reports whether the line is linked to a ledger entry.
func (p *PackageUse) Bound() bool { return !p.EntryID.IsNil() }

// PackageNameOf strips the package-use suffix from a display name. ok is
// false when the name does not carry the suffix.
func PackageNameOf(displayName string) (name string, ok bool) {
	name, ok = strings.CutSuffix(strings.TrimSpace(displayName), PackageUseSuffix)
	return strings.TrimSpace(name), ok
}
