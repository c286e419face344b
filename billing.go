package pkgledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/pkgledger/cart"
	"github.com/xraph/pkgledger/id"
)

// ConsumeInto consumes one use of the entry and, on success, appends a
// package-use line bound to it. The cart is left untouched on rejection or
// store failure.
func (l *Ledger) ConsumeInto(ctx context.Context, c *cart.Cart, patientID string, entryID id.EntryID) (*cart.PackageUse, ConsumeResult) {
	res := l.Consume(ctx, patientID, entryID)
	if !res.OK() {
		return nil, res
	}

	line := cart.NewPackageUse(res.Entry.Name, patientID, entryID, c.Currency)
	c.Add(line)
	return line, res
}

// RemoveLine removes a line from the cart. Package-use lines are refunded
// first and only leave the cart when the refund succeeds; lines with no
// ledger link are removed directly.
func (l *Ledger) RemoveLine(ctx context.Context, c *cart.Cart, lineID id.LineID) error {
	switch line := c.Find(lineID).(type) {
	case nil:
		return ErrLineNotFound
	case *cart.PackageUse:
		if !line.Bound() {
			l.logger.Warn("removing unlinked package-use line without refund",
				"line_id", lineID.String(),
				"package_name", line.PackageName,
			)
			c.RemoveLine(lineID)
			return nil
		}
		res := l.Refund(ctx, line.PatientID, line.EntryID, lineID, c)
		if res.Outcome == OutcomeRejected {
			// The entry is gone; the line carries no balance to return.
			c.RemoveLine(lineID)
			return nil
		}
		return res.Err()
	default:
		c.RemoveLine(lineID)
		return nil
	}
}

// DecrementLine lowers an item's quantity. A package-use line has no
// quantity, so decrementing it removes it and refunds its use.
func (l *Ledger) DecrementLine(ctx context.Context, c *cart.Cart, lineID id.LineID) error {
	err := c.Decrement(lineID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cart.ErrPackageUseQuantity):
		return l.RemoveLine(ctx, c, lineID)
	case errors.Is(err, cart.ErrLineNotFound):
		return ErrLineNotFound
	default:
		return fmt.Errorf("pkgledger: decrement line: %w", err)
	}
}

// ReleasePackageUses removes every package-use line from the cart and
// returns their uses, as when a consultation is cancelled. Lines whose
// refund fails stay in the cart; their errors are collected in a MultiError.
func (l *Ledger) ReleasePackageUses(ctx context.Context, c *cart.Cart) error {
	var errs MultiError
	for _, line := range c.PackageUses() {
		if err := l.RemoveLine(ctx, c, line.ID); err != nil {
			errs.Add(fmt.Errorf("line %s: %w", line.ID, err))
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
