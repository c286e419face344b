package cart

import (
	"errors"
	"slices"

	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/types"
)

var (
	// ErrLineNotFound is returned when no line has the requested id.
	ErrLineNotFound = errors.New("cart: line not found")
	// ErrPackageUseQuantity is returned when a quantity change targets a
	// package-use line. Those lines can only be removed.
	ErrPackageUseQuantity = errors.New("cart: package-use lines have no quantity")
)

// Cart is the in-memory list of billing lines for one consultation.
// It is not safe for concurrent use.
type Cart struct {
	Currency string
	lines    []Line
}

// New creates an empty cart.
func New(currency string) *Cart {
	return &Cart{Currency: currency}
}

// Add appends a line.
func (c *Cart) Add(l Line) {
	c.lines = append(c.lines, l)
}

// AddItem appends an ordinary item and returns it.
func (c *Cart) AddItem(name string, qty int, unitPrice types.Money) *Item {
	it := &Item{ID: id.NewLineID(), Name: name, Quantity: qty, UnitPrice: unitPrice}
	c.Add(it)
	return it
}

// Lines returns the cart's lines in insertion order.
func (c *Cart) Lines() []Line {
	return slices.Clone(c.lines)
}

// Len returns the number of lines.
func (c *Cart) Len() int { return len(c.lines) }

// Find returns the line with lineID, or nil.
func (c *Cart) Find(lineID id.LineID) Line {
	for _, l := range c.lines {
		if l.LineID().String() == lineID.String() {
			return l
		}
	}
	return nil
}

// RemoveLine removes the line with lineID and reports whether it was present.
func (c *Cart) RemoveLine(lineID id.LineID) bool {
	for i, l := range c.lines {
		if l.LineID().String() == lineID.String() {
			c.lines = slices.Delete(c.lines, i, i+1)
			return true
		}
	}
	return false
}

// Increment adds one to an item's quantity.
func (c *Cart) Increment(lineID id.LineID) error {
	return c.adjust(lineID, 1)
}

// Decrement subtracts one from an item's quantity, removing it at zero.
// Package-use lines are rejected with ErrPackageUseQuantity; callers undo
// them through the ledger instead.
func (c *Cart) Decrement(lineID id.LineID) error {
	return c.adjust(lineID, -1)
}

func (c *Cart) adjust(lineID id.LineID, delta int) error {
	switch l := c.Find(lineID).(type) {
	case nil:
		return ErrLineNotFound
	case *PackageUse:
		return ErrPackageUseQuantity
	case *Item:
		l.Quantity += delta
		if l.Quantity <= 0 {
			c.RemoveLine(lineID)
		}
		return nil
	default:
		return ErrLineNotFound
	}
}

// PackageUses returns the package-use lines in the cart.
func (c *Cart) PackageUses() []*PackageUse {
	var out []*PackageUse
	for _, l := range c.lines {
		if pu, ok := l.(*PackageUse); ok {
			out = append(out, pu)
		}
	}
	return out
}

// Total sums all line amounts in the cart currency.
func (c *Cart) Total() types.Money {
	total := types.Zero(c.Currency)
	for _, l := range c.lines {
		total = total.Add(l.Amount())
	}
	return total
}
