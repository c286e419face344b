package pkgledger

import (
	"context"
	"strings"

	"github.com/xraph/pkgledger/cart"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
)

// Heuristic names how a restored line was matched to an entry.
type Heuristic string

const (
	// HeuristicOnlyCandidate means exactly one entry carried the line's name.
	HeuristicOnlyCandidate Heuristic = "only_candidate"
	// HeuristicMostUsed means several entries matched and the one with the
	// most uses consumed was chosen.
	HeuristicMostUsed Heuristic = "most_used"
)

// Binding records a line that reconciliation linked to an entry.
type Binding struct {
	LineID     id.LineID  `json:"line_id"`
	EntryID    id.EntryID `json:"entry_id"`
	Candidates int        `json:"candidates"`
	Heuristic  Heuristic  `json:"heuristic"`
}

// Unbound records a line no entry could be found for.
type Unbound struct {
	LineID id.LineID `json:"line_id"`
	Name   string    `json:"name"`
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	PatientID string    `json:"patient_id"`
	Bindings  []Binding `json:"bindings"`
	Unbound   []Unbound `json:"unbound"`
	// AlreadyBound counts lines whose link was still valid.
	AlreadyBound int `json:"already_bound"`
}

// ReconcilePackageUseLines relinks package-use lines restored from a saved
// billing description to the patient's ledger entries. Lines are updated in
// place; the store is only read. Lines that stay unbound are reported, not
// treated as errors. A failed read returns the error and changes nothing.
func (l *Ledger) ReconcilePackageUseLines(ctx context.Context, patientID string, lines []*cart.PackageUse) (*ReconcileReport, error) {
	report := &ReconcileReport{PatientID: patientID}
	if len(lines) == 0 {
		return report, nil
	}

	entries, err := l.store.ListEntries(ctx, patientID, entry.ListOpts{})
	if err != nil {
		return nil, l.failed(ctx, "list entries", err)
	}

	known := make(map[string]struct{}, len(entries))
	byName := make(map[string][]*entry.Entry)
	for _, e := range entries {
		known[e.ID.String()] = struct{}{}
		byName[e.Name] = append(byName[e.Name], e)
	}

	for _, line := range lines {
		if line == nil {
			continue
		}
		if !line.EntryID.IsNil() {
			if _, ok := known[line.EntryID.String()]; ok {
				report.AlreadyBound++
				continue
			}
		}

		name := strings.TrimSpace(line.PackageName)
		if n, ok := cart.PackageNameOf(name); ok {
			name = n
		}

		candidates := byName[name]
		if len(candidates) == 0 {
			l.logger.Warn("package-use line has no matching entry",
				"patient_id", patientID,
				"line_id", line.ID.String(),
				"package_name", name,
			)
			l.plugins.EmitLineUnbound(ctx, patientID, line.ID, name)
			report.Unbound = append(report.Unbound, Unbound{LineID: line.ID, Name: name})
			continue
		}

		chosen, heuristic := pickCandidate(candidates)
		line.EntryID = chosen.ID
		line.PatientID = patientID
		line.PackageName = name

		l.logger.Debug("package-use line reconciled",
			"patient_id", patientID,
			"line_id", line.ID.String(),
			"entry_id", chosen.ID.String(),
			"candidates", len(candidates),
		)
		l.plugins.EmitLineReconciled(ctx, patientID, line.ID, chosen.ID, len(candidates))
		report.Bindings = append(report.Bindings, Binding{
			LineID:     line.ID,
			EntryID:    chosen.ID,
			Candidates: len(candidates),
			Heuristic:  heuristic,
		})
	}

	return report, nil
}

// pickCandidate returns the entry with the most uses consumed. Ties go to
// the earliest purchase, then the smallest id.
func pickCandidate(candidates []*entry.Entry) (*entry.Entry, Heuristic) {
	if len(candidates) == 1 {
		return candidates[0], HeuristicOnlyCandidate
	}
	best := candidates[0]
	for _, e := range candidates[1:] {
		switch {
		case e.Used() > best.Used():
			best = e
		case e.Used() < best.Used():
		case e.PurchasedAt.Before(best.PurchasedAt):
			best = e
		case e.PurchasedAt.Equal(best.PurchasedAt) && e.ID.String() < best.ID.String():
			best = e
		}
	}
	return best, HeuristicMostUsed
}
