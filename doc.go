// Package pkgledger tracks patients' prepaid treatment packages for a clinic
// front desk.
//
// A package ("套票") is bought once and used up over several visits. The
// ledger keeps one entry per purchase with its remaining uses and expiry, and
// ties each use to a zero-price line in the consultation's billing cart. It
// provides:
//
//   - Purchase: one independent entry per purchase, never merged
//   - Consume: atomic deduction of one use, refused when expired or exhausted
//   - Refund: undo of a use when its billing line is removed, capped at the
//     original grant
//   - Status text for staff ("remaining 3/5 uses · expires ...")
//   - Reconciliation of billing lines restored from a saved description
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/pkgledger"
//	    "github.com/xraph/pkgledger/store/sqlite"
//	)
//
//	s, err := sqlite.Open("file:pkgledger.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := pkgledger.New(s, pkgledger.WithLogger(logger))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// An offering is snapshotted into the entry at purchase; later catalog edits
// do not change existing entries:
//
//	e, err := l.Purchase(ctx, patientID, entry.Offering{
//	    ID:           "massage-5",
//	    Name:         "Massage 5x",
//	    TotalUses:    5,
//	    ValidityDays: 90,
//	})
//
// Uses are consumed into a cart, which adds the matching package-use line:
//
//	line, res := l.ConsumeInto(ctx, c, patientID, e.ID)
//	if !res.OK() {
//	    return res.Err()
//	}
//
// Removing that line returns the use:
//
//	err := l.RemoveLine(ctx, c, line.ID)
//
// ReleasePackageUses does the same for every package-use line when a
// consultation is cancelled.
//
// # Storage
//
// Backends live under store/: memory, sqlite and postgres (through gorm),
// mongo and redis. Each implements consume and refund as one conditional
// update, so concurrent front-desk sessions cannot oversell a package.
// Package store/backend opens any of them from a driver name and DSN.
//
// # Plugins
//
// Plugins observe ledger events through the hook interfaces in package
// plugin. The observability and audit_hook packages are ready-made plugins.
package pkgledger
