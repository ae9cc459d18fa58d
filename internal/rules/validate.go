package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cleared-dev/tally/internal/model"
)

// ValidationError describes a single problem in a rule file.
type ValidationError struct {
	RuleID      string
	Field       string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("rule %s [%s]: %s", e.RuleID, e.Field, e.Description)
}

// CategoryChecker tests whether a category ID is known.
type CategoryChecker interface {
	HasCategory(id string) bool
}

// Validate checks category and SIP rules for problems that would make them
// never match or point nowhere. A nil categories skips the category check.
func Validate(categoryRules []model.CategoryRule, sipRules []model.SIPRule, categories CategoryChecker) []ValidationError {
	var errs []ValidationError
	ids := make(map[string]bool)

	checkID := func(id string) {
		if id == "" {
			errs = append(errs, ValidationError{RuleID: "?", Field: "id", Description: "missing id"})
			return
		}
		if ids[id] {
			errs = append(errs, ValidationError{RuleID: id, Field: "id", Description: "duplicate id"})
		}
		ids[id] = true
	}
	checkPattern := func(id, pattern string, mt model.MatchType) {
		if strings.TrimSpace(pattern) == "" {
			errs = append(errs, ValidationError{RuleID: id, Field: "pattern", Description: "empty pattern"})
			return
		}
		if mt == model.MatchRegex {
			if _, err := regexp.Compile(pattern); err != nil {
				errs = append(errs, ValidationError{RuleID: id, Field: "pattern", Description: fmt.Sprintf("invalid regex: %v", err)})
			}
		}
	}

	for _, r := range categoryRules {
		checkID(r.ID)
		checkPattern(r.ID, r.Pattern, r.MatchType)
		if r.CategoryID == "" {
			errs = append(errs, ValidationError{RuleID: r.ID, Field: "category", Description: "missing category"})
		} else if categories != nil && !categories.HasCategory(r.CategoryID) {
			errs = append(errs, ValidationError{RuleID: r.ID, Field: "category", Description: fmt.Sprintf("unknown category %q", r.CategoryID)})
		}
		if r.TxnType != "" && !r.TxnType.Valid() {
			errs = append(errs, ValidationError{RuleID: r.ID, Field: "type", Description: fmt.Sprintf("unknown type %q", r.TxnType)})
		}
	}

	for _, r := range sipRules {
		checkID(r.ID)
		checkPattern(r.ID, r.Pattern, r.MatchType)
		if !r.Amount.IsPositive() {
			errs = append(errs, ValidationError{RuleID: r.ID, Field: "amount", Description: "amount must be positive"})
		}
		if r.AmountTolerance.IsNegative() {
			errs = append(errs, ValidationError{RuleID: r.ID, Field: "amount_tolerance", Description: "tolerance must not be negative"})
		}
		if r.ExpectedDay < 0 || r.ExpectedDay > 31 {
			errs = append(errs, ValidationError{RuleID: r.ID, Field: "expected_day", Description: fmt.Sprintf("day %d out of range 1..31", r.ExpectedDay)})
		}
		if r.DateTolerance < 0 {
			errs = append(errs, ValidationError{RuleID: r.ID, Field: "date_tolerance", Description: "tolerance must not be negative"})
		}
	}

	return errs
}
