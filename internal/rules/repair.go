package rules

import (
	"strings"

	"github.com/cleared-dev/tally/internal/model"
)

// RepairState is the outcome of re-evaluating an unattributed transaction.
type RepairState int

const (
	// NoMatch: no active rule matched.
	NoMatch RepairState = iota
	// Attributed: the category was generic and is now set from the rule.
	Attributed
	// Reinforced: the category already equaled the suggestion; only the
	// attribution is added.
	Reinforced
	// Untouched: the user chose a different category; nothing changes.
	Untouched
)

func (s RepairState) String() string {
	switch s {
	case Attributed:
		return "attributed"
	case Reinforced:
		return "reinforced"
	case Untouched:
		return "untouched"
	default:
		return "no-match"
	}
}

// RepairOutcome is what Repair decided for a transaction.
type RepairOutcome struct {
	State RepairState
	Rule  *model.CategoryRule
}

// Changed reports whether Apply would modify the transaction.
func (o RepairOutcome) Changed() bool {
	return o.State == Attributed || o.State == Reinforced
}

// IsGenericCategory reports whether id is a placeholder a rule may overwrite.
func IsGenericCategory(id string) bool {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", "other", DefaultCategory:
		return true
	}
	return false
}

// Repair re-evaluates rules against txn. It never proposes replacing a
// non-generic category with a different one.
func Repair(txn model.ParsedTransaction, rules []model.CategoryRule) RepairOutcome {
	res := Evaluate(rules, txn)
	if !res.Matched {
		return RepairOutcome{State: NoMatch}
	}
	switch {
	case IsGenericCategory(txn.CategoryID):
		return RepairOutcome{State: Attributed, Rule: res.Rule}
	case strings.EqualFold(txn.CategoryID, res.Rule.CategoryID):
		return RepairOutcome{State: Reinforced, Rule: res.Rule}
	default:
		return RepairOutcome{State: Untouched, Rule: res.Rule}
	}
}

// Apply returns txn updated per o. Untouched and NoMatch return txn unchanged.
func (o RepairOutcome) Apply(txn model.ParsedTransaction) model.ParsedTransaction {
	if !o.Changed() {
		return txn
	}
	txn.CategoryID = o.Rule.CategoryID
	txn.CategoryRuleID = o.Rule.ID
	return txn
}
