package pkgledger

import (
	"errors"

	"github.com/xraph/pkgledger/entry"
)

// Outcome is the result kind of a consume or refund.
type Outcome string

const (
	OutcomeConsumed     Outcome = "consumed"
	OutcomeRefunded     Outcome = "refunded"
	OutcomeRejected     Outcome = "rejected"
	OutcomeStoreFailure Outcome = "store_failure"
)

// Reason explains a rejected consume or refund.
type Reason string

const (
	ReasonNotFound  Reason = "not_found"
	ReasonExpired   Reason = "expired"
	ReasonExhausted Reason = "exhausted"
)

// ConsumeResult reports the outcome of Ledger.Consume.
type ConsumeResult struct {
	Outcome Outcome
	// Reason is set when Outcome is OutcomeRejected.
	Reason Reason
	// Entry is the updated entry when Outcome is OutcomeConsumed.
	Entry *entry.Entry
	// Cause is the wrapped store error when Outcome is OutcomeStoreFailure.
	Cause error
}

// OK reports whether a use was deducted.
func (r ConsumeResult) OK() bool { return r.Outcome == OutcomeConsumed }

// Err maps the result back to the package's sentinel errors. It returns nil
// on success.
func (r ConsumeResult) Err() error {
	return resultErr(r.Outcome, r.Reason, r.Cause)
}

// RefundResult reports the outcome of Ledger.Refund.
type RefundResult struct {
	Outcome Outcome
	Reason  Reason
	Entry   *entry.Entry
	// Clamped is set when the entry was already at TotalUses and the refund
	// left it unchanged.
	Clamped bool
	Cause   error
}

// OK reports whether the refund was applied (clamped refunds included).
func (r RefundResult) OK() bool { return r.Outcome == OutcomeRefunded }

// Err maps the result back to the package's sentinel errors.
func (r RefundResult) Err() error {
	return resultErr(r.Outcome, r.Reason, r.Cause)
}

func resultErr(o Outcome, reason Reason, cause error) error {
	switch o {
	case OutcomeRejected:
		switch reason {
		case ReasonExpired:
			return ErrEntryExpired
		case ReasonExhausted:
			return ErrEntryExhausted
		default:
			return ErrEntryNotFound
		}
	case OutcomeStoreFailure:
		if cause == nil {
			return ErrStoreFailure
		}
		return cause
	default:
		return nil
	}
}

// rejectionOf classifies a store error as a business rejection.
func rejectionOf(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ErrEntryNotFound):
		return ReasonNotFound, true
	case errors.Is(err, ErrEntryExpired):
		return ReasonExpired, true
	case errors.Is(err, ErrEntryExhausted):
		return ReasonExhausted, true
	default:
		return "", false
	}
}
