package header

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Field is a semantic column of a statement.
type Field string

const (
	FieldDate        Field = "date"
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
	FieldDebit       Field = "debit"
	FieldCredit      Field = "credit"
)

// Fields is the fixed vocabulary a column can be assigned to.
var Fields = []Field{FieldDate, FieldDescription, FieldAmount, FieldDebit, FieldCredit}

// ParseField converts a field name into a Field.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Fields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// ErrAmountConflict is reported when amount is mapped together with debit or credit.
var ErrAmountConflict = errors.New("amount cannot be mapped together with debit or credit")

// MappingError describes why a ColumnMapping cannot be confirmed.
type MappingError struct {
	Missing  []Field
	Conflict bool
}

func (e *MappingError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, f := range e.Missing {
			names[i] = string(f)
		}
		parts = append(parts, "missing required fields: "+strings.Join(names, ", "))
	}
	if e.Conflict {
		parts = append(parts, ErrAmountConflict.Error())
	}
	return "invalid column mapping: " + strings.Join(parts, "; ")
}

func (e *MappingError) Unwrap() error {
	if e.Conflict {
		return ErrAmountConflict
	}
	return nil
}

// ColumnMapping assigns semantic fields to zero-based column indices.
// A column holds at most one field and a field occupies at most one column.
type ColumnMapping struct {
	cols map[Field]int
}

// NewMapping returns an empty mapping.
func NewMapping() ColumnMapping {
	return ColumnMapping{cols: make(map[Field]int)}
}

// Assign maps field to col. The field leaves any column it held before, and
// whatever field previously held col is unassigned.
func (m *ColumnMapping) Assign(field Field, col int) {
	if m.cols == nil {
		m.cols = make(map[Field]int)
	}
	if other, ok := m.FieldAt(col); ok {
		delete(m.cols, other)
	}
	m.cols[field] = col
}

// Unassign clears whatever field is mapped to col.
func (m *ColumnMapping) Unassign(col int) {
	if f, ok := m.FieldAt(col); ok {
		delete(m.cols, f)
	}
}

// Clear removes field from the mapping.
func (m *ColumnMapping) Clear(field Field) {
	delete(m.cols, field)
}

// Column returns the column assigned to field.
func (m ColumnMapping) Column(field Field) (int, bool) {
	c, ok := m.cols[field]
	return c, ok
}

// FieldAt returns the field assigned to col.
func (m ColumnMapping) FieldAt(col int) (Field, bool) {
	for f, c := range m.cols {
		if c == col {
			return f, true
		}
	}
	return "", false
}

// Has reports whether field is assigned.
func (m ColumnMapping) Has(field Field) bool {
	_, ok := m.cols[field]
	return ok
}

// UsesDebitCredit reports whether the mapping uses split debit/credit columns.
func (m ColumnMapping) UsesDebitCredit() bool {
	return m.Has(FieldDebit) || m.Has(FieldCredit)
}

// Len returns the number of assigned fields.
func (m ColumnMapping) Len() int {
	return len(m.cols)
}

// Validate checks that date and description are assigned and that exactly one
// of amount or debit/credit is in use.
func (m ColumnMapping) Validate() error {
	var missing []Field
	for _, f := range []Field{FieldDate, FieldDescription} {
		if !m.Has(f) {
			missing = append(missing, f)
		}
	}
	if !m.Has(FieldAmount) && !m.UsesDebitCredit() {
		missing = append(missing, FieldAmount)
	}
	conflict := m.Has(FieldAmount) && m.UsesDebitCredit()
	if len(missing) == 0 && !conflict {
		return nil
	}
	return &MappingError{Missing: missing, Conflict: conflict}
}

// String renders the mapping as "date=0,description=1,...", ordered by Fields.
func (m ColumnMapping) String() string {
	var parts []string
	for _, f := range Fields {
		if c, ok := m.cols[f]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", f, c))
		}
	}
	return strings.Join(parts, ",")
}

// ParseMapping parses the String form back into a mapping. Later entries win
// under the same rules as Assign.
func ParseMapping(s string) (ColumnMapping, error) {
	m := NewMapping()
	if strings.TrimSpace(s) == "" {
		return m, nil
	}
	for _, part := range strings.Split(s, ",") {
		name, idx, ok := strings.Cut(part, "=")
		if !ok {
			return ColumnMapping{}, fmt.Errorf("parsing mapping entry %q: expected field=column", part)
		}
		f, err := ParseField(name)
		if err != nil {
			return ColumnMapping{}, err
		}
		col, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil || col < 0 {
			return ColumnMapping{}, fmt.Errorf("parsing column for %s: invalid index %q", f, idx)
		}
		m.Assign(f, col)
	}
	return m, nil
}

// Columns returns the assigned column indices in ascending order.
func (m ColumnMapping) Columns() []int {
	cols := make([]int, 0, len(m.cols))
	for _, c := range m.cols {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}
