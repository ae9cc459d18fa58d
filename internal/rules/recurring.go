package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/tally/internal/model"
)

const (
	// RecurringAmountEpsilon is how far a payment may differ from its template.
	RecurringAmountEpsilon = "0.01"
	// RecurringWindow is how far a payment may fall from the due date.
	RecurringWindow = 5 * 24 * time.Hour
)

var amountEpsilon = decimal.RequireFromString(RecurringAmountEpsilon)

// IsFuzzyMatch reports whether txn pays tmpl's current cycle: it is not linked
// to another template, its absolute amount is within the epsilon of the
// template amount, and it falls within the window around NextDueDate.
func IsFuzzyMatch(tmpl model.RecurringTransaction, txn model.ParsedTransaction) bool {
	if txn.RecurringID != "" && txn.RecurringID != tmpl.ID {
		return false
	}
	if txn.Amount.Abs().Sub(tmpl.Amount.Abs()).Abs().GreaterThan(amountEpsilon) {
		return false
	}
	gap := txn.Date.Sub(tmpl.NextDueDate)
	if gap < 0 {
		gap = -gap
	}
	return gap <= RecurringWindow
}

// FuzzyMatches returns the indices in pool that match tmpl's current cycle.
// Earlier cycles are not considered.
func FuzzyMatches(tmpl model.RecurringTransaction, pool []model.ParsedTransaction) []int {
	var idx []int
	for i, txn := range pool {
		if IsFuzzyMatch(tmpl, txn) {
			idx = append(idx, i)
		}
	}
	return idx
}

// LinkRecurring links the first unlinked match in pool for each active
// template, advancing the template to its next cycle. It returns the updated
// pool and templates.
func LinkRecurring(templates []model.RecurringTransaction, pool []model.ParsedTransaction) ([]model.ParsedTransaction, []model.RecurringTransaction) {
	out := make([]model.ParsedTransaction, len(pool))
	copy(out, pool)
	updated := make([]model.RecurringTransaction, len(templates))
	copy(updated, templates)

	for ti, tmpl := range updated {
		if !tmpl.Active {
			continue
		}
		for _, i := range FuzzyMatches(tmpl, out) {
			if out[i].RecurringID == tmpl.ID {
				continue
			}
			out[i].RecurringID = tmpl.ID
			if tmpl.CategoryID != "" && IsGenericCategory(out[i].CategoryID) {
				out[i].CategoryID = tmpl.CategoryID
			}
			updated[ti] = tmpl.Advance()
			break
		}
	}
	return out, updated
}
