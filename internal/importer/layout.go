package importer

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/tally/internal/model"
)

// Layout segments the text lines of a PDF statement into table rows. Each
// layout emits its own header row so the regular header detection applies.
type Layout interface {
	Name() string
	Detect(lines []string) bool
	Segment(lines []string) model.RawTable
}

// LayoutRegistry picks a Layout by bank identity.
type LayoutRegistry struct {
	layouts  []Layout
	fallback Layout
}

// NewLayoutRegistry creates a registry that falls back to fallback.
func NewLayoutRegistry(fallback Layout) *LayoutRegistry {
	return &LayoutRegistry{fallback: fallback}
}

// Register adds a layout. Layouts are tried in registration order.
func (r *LayoutRegistry) Register(l Layout) {
	for _, existing := range r.layouts {
		if existing.Name() == l.Name() {
			panic("duplicate layout: " + l.Name())
		}
	}
	r.layouts = append(r.layouts, l)
}

// Detect returns the first layout recognizing lines, or the fallback.
func (r *LayoutRegistry) Detect(lines []string) Layout {
	for _, l := range r.layouts {
		if l.Detect(lines) {
			return l
		}
	}
	return r.fallback
}

// DefaultLayouts returns the built-in bank layouts.
func DefaultLayouts() *LayoutRegistry {
	r := NewLayoutRegistry(&GenericLayout{})
	r.Register(&HDFCLayout{})
	return r
}

var (
	leadingDate = regexp.MustCompile(`(?i)^(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{1,2}[ -](?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*[ -]\d{2,4})\s+`)
	moneyToken  = regexp.MustCompile(`(?i)(?:^|\s)(-?(?:\d{1,3}(?:,\d{2,3})+|\d+)\.\d{2})(?:\s*(cr|dr)\b)?`)
	refToken    = regexp.MustCompile(`^[A-Z0-9]{8,}$`)
	innerDate   = regexp.MustCompile(`^\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}$`)
)

// statementEntry is one date-led line plus its continuation lines.
type statementEntry struct {
	date      string
	narration []string
	amount    decimal.Decimal // always positive
	credit    bool
}

// segmentEntries groups date-led lines into entries. The last money token on
// a line is the running balance when a line carries two or more; the balance
// delta then decides the direction. A Cr/Dr marker takes precedence.
func segmentEntries(lines []string, stripRefs bool) []statementEntry {
	var (
		entries     []statementEntry
		prevBalance *decimal.Decimal
		open        = -1
	)
	for _, line := range lines {
		m := leadingDate.FindStringSubmatch(line)
		if m == nil {
			if open >= 0 && !looksLikeFooter(line) {
				entries[open].narration = append(entries[open].narration, line)
			}
			continue
		}
		rest := line[len(m[0]):]
		tokens := moneyToken.FindAllStringSubmatchIndex(rest, -1)
		if len(tokens) == 0 {
			open = -1
			continue
		}

		values := make([]decimal.Decimal, len(tokens))
		for i, tok := range tokens {
			values[i], _ = ParseAmount(rest[tok[2]:tok[3]])
		}
		text := strings.TrimSpace(rest[:tokens[0][0]])

		if strings.Contains(strings.ToLower(text), "opening balance") {
			b := values[len(values)-1]
			prevBalance = &b
			open = -1
			continue
		}

		amountIdx := 0
		if len(values) >= 2 {
			amountIdx = len(values) - 2
		}
		e := statementEntry{date: m[1], amount: values[amountIdx].Abs()}
		marker := ""
		if tok := tokens[amountIdx]; tok[4] >= 0 {
			marker = strings.ToLower(rest[tok[4]:tok[5]])
		}
		if len(values) >= 2 {
			balance := values[len(values)-1]
			if prevBalance != nil && marker == "" {
				e.credit = balance.GreaterThan(*prevBalance)
			}
			prevBalance = &balance
		}
		switch marker {
		case "cr":
			e.credit = true
		case "dr":
			e.credit = false
		}

		if stripRefs {
			text = stripReferenceTokens(text)
		}
		if text != "" {
			e.narration = append(e.narration, text)
		}
		entries = append(entries, e)
		open = len(entries) - 1
	}
	return entries
}

func stripReferenceTokens(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if isReference(f) || innerDate.MatchString(f) {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// isReference reports whether f looks like a cheque or UPI reference: a long
// uppercase alphanumeric token that is mostly digits.
func isReference(f string) bool {
	if !refToken.MatchString(f) {
		return false
	}
	digits := 0
	for _, r := range f {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits*2 >= len(f)
}

func looksLikeFooter(line string) bool {
	lower := strings.ToLower(line)
	for _, w := range []string{"page ", "closing balance", "statement summary", "generated on", "this is a computer"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// GenericLayout handles any statement whose rows start with a date.
// It emits a signed amount column.
type GenericLayout struct{}

// Name returns the layout name.
func (l *GenericLayout) Name() string { return "generic" }

// Detect always succeeds.
func (l *GenericLayout) Detect([]string) bool { return true }

// Segment emits Date, Narration, Amount rows.
func (l *GenericLayout) Segment(lines []string) model.RawTable {
	table := model.RawTable{{"Date", "Narration", "Amount"}}
	for _, e := range segmentEntries(lines, false) {
		amount := e.amount
		if !e.credit {
			amount = amount.Neg()
		}
		table = append(table, model.Row{e.date, strings.Join(e.narration, " "), amount.StringFixed(2)})
	}
	return table
}

// HDFCLayout handles HDFC Bank account statements, whose rows carry a
// reference number and value date between narration and amounts.
type HDFCLayout struct{}

// Name returns the layout name.
func (l *HDFCLayout) Name() string { return "hdfc" }

// Detect looks for the bank name in the statement preamble.
func (l *HDFCLayout) Detect(lines []string) bool {
	for i, line := range lines {
		if i >= 40 {
			break
		}
		if strings.Contains(strings.ToUpper(line), "HDFC BANK") {
			return true
		}
	}
	return false
}

// Segment emits Date, Narration, Withdrawal, Deposit rows.
func (l *HDFCLayout) Segment(lines []string) model.RawTable {
	table := model.RawTable{{"Date", "Narration", "Withdrawal", "Deposit"}}
	for _, e := range segmentEntries(lines, true) {
		row := model.Row{e.date, strings.Join(e.narration, " "), "", ""}
		if e.credit {
			row[3] = e.amount.StringFixed(2)
		} else {
			row[2] = e.amount.StringFixed(2)
		}
		table = append(table, row)
	}
	return table
}
