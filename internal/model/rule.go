package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchType selects how a rule pattern is compared to a description.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchEquals   MatchType = "equals"
	MatchRegex    MatchType = "regex"
)

// ParseMatchType accepts the canonical names plus the "partial" and "exact" aliases.
func ParseMatchType(s string) (MatchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "contains", "partial":
		return MatchContains, nil
	case "equals", "exact":
		return MatchEquals, nil
	case "regex":
		return MatchRegex, nil
	}
	return "", fmt.Errorf("unknown match type %q", s)
}

// UnmarshalText lets yaml and flag decoding go through ParseMatchType.
func (m *MatchType) UnmarshalText(b []byte) error {
	mt, err := ParseMatchType(string(b))
	if err != nil {
		return err
	}
	*m = mt
	return nil
}

// CategoryRule maps a description pattern to a category.
type CategoryRule struct {
	ID         string    `yaml:"id"`
	Pattern    string    `yaml:"pattern"`
	MatchType  MatchType `yaml:"match_type"`
	CategoryID string    `yaml:"category"`
	TxnType    TxnType   `yaml:"type,omitempty"` // empty = any type
	Priority   int       `yaml:"priority"`
	Active     bool      `yaml:"active"`
	MatchCount int       `yaml:"match_count"`
	LastUsed   time.Time `yaml:"last_used,omitempty"`
}

// SIPRule links recurring investment debits to an asset.
type SIPRule struct {
	ID              string          `yaml:"id"`
	Pattern         string          `yaml:"pattern"`
	MatchType       MatchType       `yaml:"match_type"`
	Amount          decimal.Decimal `yaml:"amount"`
	AmountTolerance decimal.Decimal `yaml:"amount_tolerance"` // percent
	ExpectedDay     int             `yaml:"expected_day,omitempty"` // 0 = any day
	DateTolerance   int             `yaml:"date_tolerance"`         // days
	Priority        int             `yaml:"priority"`
	Active          bool            `yaml:"active"`
	AssetID         string          `yaml:"asset"`
	MatchCount      int             `yaml:"match_count"`
	LastUsed        time.Time       `yaml:"last_used,omitempty"`
}

// Frequency is the period of a recurring transaction.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// RecurringTransaction is a template for an expected periodic payment.
type RecurringTransaction struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Amount      decimal.Decimal `yaml:"amount"`
	NextDueDate time.Time       `yaml:"next_due"`
	Frequency   Frequency       `yaml:"frequency"`
	CategoryID  string          `yaml:"category,omitempty"`
	Active      bool            `yaml:"active"`
}

// Advance moves NextDueDate forward by one period.
func (r RecurringTransaction) Advance() RecurringTransaction {
	switch r.Frequency {
	case FrequencyWeekly:
		r.NextDueDate = r.NextDueDate.AddDate(0, 0, 7)
	case FrequencyQuarterly:
		r.NextDueDate = r.NextDueDate.AddDate(0, 3, 0)
	case FrequencyYearly:
		r.NextDueDate = r.NextDueDate.AddDate(1, 0, 0)
	default:
		r.NextDueDate = r.NextDueDate.AddDate(0, 1, 0)
	}
	return r
}
