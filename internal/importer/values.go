package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// defaultDateLayouts are tried in order. Day-first layouts precede month-first
// ones because statements are issued by Indian banks.
var defaultDateLayouts = []string{
	"2/1/2006",
	"2/1/06",
	"2-1-2006",
	"2-1-06",
	"2.1.2006",
	"2006-01-02",
	"2006/01/02",
	"2 Jan 2006",
	"2 Jan 06",
	"2-Jan-2006",
	"2-Jan-06",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
}

// excelEpoch is day zero of spreadsheet serial dates (1900 date system).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var errEmptyValue = errors.New("empty value")

// DateParser parses statement dates into UTC calendar dates.
type DateParser struct {
	layouts []string
}

// NewDateParser returns a parser that tries extra layouts before the defaults.
func NewDateParser(extra ...string) DateParser {
	layouts := make([]string, 0, len(extra)+len(defaultDateLayouts))
	layouts = append(layouts, extra...)
	layouts = append(layouts, defaultDateLayouts...)
	return DateParser{layouts: layouts}
}

// Parse returns the calendar date in s at UTC midnight.
func (p DateParser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyValue
	}
	if t, ok := parseSerialDate(s); ok {
		return t, nil
	}
	for _, layout := range p.layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 1900 || t.Year() > 2200 {
			continue
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseSerialDate accepts spreadsheet serial day numbers between 1954 and 2118.
func parseSerialDate(s string) (time.Time, bool) {
	whole, _, _ := strings.Cut(s, ".")
	if len(whole) != 5 {
		return time.Time{}, false
	}
	days, err := strconv.Atoi(whole)
	if err != nil || days < 20000 || days > 80000 {
		return time.Time{}, false
	}
	return excelEpoch.AddDate(0, 0, days), true
}

// ParseAmount parses a statement amount such as "1,23,456.78", "₹ 199.00",
// "(250.00)", "-75" or "1,000.00 Cr". A "Dr" suffix or parentheses make the
// value negative.
func ParseAmount(s string) (decimal.Decimal, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errEmptyValue
	}

	negative := false
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "dr"):
		negative = true
		s = s[:len(s)-2]
	case strings.HasSuffix(lower, "cr"):
		s = s[:len(s)-2]
	}
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = !negative
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer(
		"₹", "",
		"INR", "",
		"Rs.", "",
		"Rs", "",
		",", "",
		" ", "",
		"\u00a0", "",
	).Replace(s)

	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" || s == "-" {
		return decimal.Zero, errEmptyValue
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognized amount %q", orig)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// parseOptionalAmount treats a blank cell as zero.
func parseOptionalAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if errors.Is(err, errEmptyValue) {
		return decimal.Zero, nil
	}
	return d, err
}
