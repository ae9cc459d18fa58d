package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/tally/internal/model"
)

var hundred = decimal.NewFromInt(100)

func sipPriority(r model.SIPRule) int { return r.Priority }

// MatchSIPRule returns the first active SIP rule, in priority order, whose
// pattern, amount band and day window all accept txn. It returns nil when
// none does.
func MatchSIPRule(txn model.ParsedTransaction, rules []model.SIPRule) *model.SIPRule {
	for _, r := range SortByPriority(rules, sipPriority) {
		if !r.Active {
			continue
		}
		if !Match(r.Pattern, r.MatchType, txn.Description) {
			continue
		}
		if !AmountWithinTolerance(txn.Amount, r.Amount, r.AmountTolerance) {
			continue
		}
		if r.ExpectedDay > 0 && DayDistance(txn.Date, r.ExpectedDay) > r.DateTolerance {
			continue
		}
		return &r
	}
	return nil
}

// AmountWithinTolerance reports whether |amount| lies in the inclusive band
// target×(1±tolPercent/100).
func AmountWithinTolerance(amount, target, tolPercent decimal.Decimal) bool {
	delta := target.Abs().Mul(tolPercent.Abs()).Div(hundred)
	lo := target.Abs().Sub(delta)
	hi := target.Abs().Add(delta)
	a := amount.Abs()
	return a.GreaterThanOrEqual(lo) && a.LessThanOrEqual(hi)
}

// DayDistance is the distance in days between date's day-of-month and
// expectedDay, measured around the month so that the 30th and the 1st are
// close. expectedDay is clamped to the length of date's month.
func DayDistance(date time.Time, expectedDay int) int {
	n := daysIn(date.Year(), date.Month())
	e := min(expectedDay, n)
	diff := date.Day() - e
	if diff < 0 {
		diff = -diff
	}
	return min(diff, n-diff)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// RecordSIPUsage returns a copy of r with its usage counters advanced.
func RecordSIPUsage(r model.SIPRule, now time.Time) model.SIPRule {
	r.MatchCount++
	r.LastUsed = now.UTC()
	return r
}

// LinkSIP attaches rule to txn and marks it as an investment.
func LinkSIP(txn model.ParsedTransaction, rule *model.SIPRule) model.ParsedTransaction {
	if rule == nil {
		return txn
	}
	txn.SIPRuleID = rule.ID
	txn.Type = model.TxnInvestment
	return txn
}
