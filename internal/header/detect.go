package header

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/cleared-dev/tally/internal/model"
)

// MaxScanRows bounds how far into a table header detection looks.
const MaxScanRows = 30

// ErrNoHeader is returned when no row within the scan window qualifies as a header.
var ErrNoHeader = errors.New("no header row detected")

// vocabulary lists header tokens per field, checked in this order. Debit and
// credit come before amount so "Withdrawal Amount" is read as a debit column.
var vocabulary = []struct {
	field  Field
	tokens []string
}{
	{FieldDate, []string{"date", "txn date", "value date", "transaction date"}},
	{FieldDescription, []string{"narration", "description", "particulars", "details"}},
	{FieldDebit, []string{"withdrawal", "debit"}},
	{FieldCredit, []string{"deposit", "credit"}},
	{FieldAmount, []string{"amount"}},
}

// Result is a detected header row and the mapping inferred from it.
type Result struct {
	HeaderRow int
	Mapping   ColumnMapping
}

// Detect finds the first row in the leading MaxScanRows rows whose cells name
// a date, a description and either an amount or debit/credit columns.
func Detect(table model.RawTable) (Result, error) {
	return DetectWithin(table, MaxScanRows)
}

// DetectWithin is Detect with an explicit scan window.
func DetectWithin(table model.RawTable, scanRows int) (Result, error) {
	if scanRows <= 0 {
		scanRows = MaxScanRows
	}
	limit := min(len(table), scanRows)
	for i := 0; i < limit; i++ {
		m := inferRow(table[i])
		if qualifies(m) {
			return Result{HeaderRow: i, Mapping: m}, nil
		}
	}
	return Result{}, fmt.Errorf("scanned %d rows: %w", limit, ErrNoHeader)
}

func qualifies(m ColumnMapping) bool {
	return m.Has(FieldDate) && m.Has(FieldDescription) && (m.Has(FieldAmount) || m.UsesDebitCredit())
}

// inferRow maps each recognizable cell of row to a field. The first column
// matching a field keeps it.
func inferRow(row model.Row) ColumnMapping {
	m := NewMapping()
	for col, cell := range row {
		norm := normalize(cell)
		if norm == "" {
			continue
		}
		if f, ok := classify(norm); ok && !m.Has(f) {
			m.Assign(f, col)
		}
	}
	if m.UsesDebitCredit() {
		m.Clear(FieldAmount)
	}
	return m
}

func classify(norm string) (Field, bool) {
	padded := " " + norm + " "
	for _, v := range vocabulary {
		for _, tok := range v.tokens {
			if strings.Contains(padded, " "+tok+" ") {
				return v.field, true
			}
		}
	}
	return "", false
}

// normalize lowercases s, turns punctuation into spaces and collapses runs of spaces.
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// Describe returns a label per column for a mapping prompt, taken from the
// chosen header row where present.
func Describe(table model.RawTable, headerRow int) []string {
	width := table.Width()
	labels := make([]string, width)
	for col := 0; col < width; col++ {
		label := strings.TrimSpace(table.Cell(headerRow, col))
		if label == "" {
			label = fmt.Sprintf("Column %d", col+1)
		}
		labels[col] = label
	}
	return labels
}
