package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/tally/internal/model"
)

// DefaultCategory is suggested when no rule matches.
const DefaultCategory = "uncategorized"

// MatchResult is the outcome of evaluating category rules.
type MatchResult struct {
	Rule    *model.CategoryRule // nil when nothing matched
	Matched bool
}

// CategoryID returns the matched category or DefaultCategory.
func (r MatchResult) CategoryID() string {
	if r.Rule == nil {
		return DefaultCategory
	}
	return r.Rule.CategoryID
}

func categoryPriority(r model.CategoryRule) int { return r.Priority }

// Evaluate returns the first active rule matching txn, in priority order.
// A rule with a transaction type only matches transactions of that type.
// Evaluate does not modify rules.
func Evaluate(rules []model.CategoryRule, txn model.ParsedTransaction) MatchResult {
	for _, r := range SortByPriority(rules, categoryPriority) {
		if !r.Active {
			continue
		}
		if r.TxnType != "" && r.TxnType != txn.Type {
			continue
		}
		if Match(r.Pattern, r.MatchType, txn.Description) {
			return MatchResult{Rule: &r, Matched: true}
		}
	}
	return MatchResult{}
}

// Suggestion is a category suggested for a description.
type Suggestion struct {
	CategoryID string
	Rule       *model.CategoryRule
}

// SuggestCategory evaluates rules against a bare description, amount and type.
func SuggestCategory(description string, amount decimal.Decimal, txnType model.TxnType, rules []model.CategoryRule) Suggestion {
	res := Evaluate(rules, model.ParsedTransaction{
		Description: description,
		Amount:      amount,
		Type:        txnType,
	})
	return Suggestion{CategoryID: res.CategoryID(), Rule: res.Rule}
}

// RecordUsage returns a copy of r with its usage counters advanced.
func RecordUsage(r model.CategoryRule, now time.Time) model.CategoryRule {
	r.MatchCount++
	r.LastUsed = now.UTC()
	return r
}

// Categorize applies a match result to txn.
func Categorize(txn model.ParsedTransaction, res MatchResult) model.ParsedTransaction {
	if res.Rule == nil {
		if txn.CategoryID == "" {
			txn.CategoryID = DefaultCategory
		}
		return txn
	}
	txn.CategoryID = res.Rule.CategoryID
	txn.CategoryRuleID = res.Rule.ID
	return txn
}
