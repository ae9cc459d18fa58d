package id

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FormatTxnID returns a ledger transaction ID like "2024-04-007".
func FormatTxnID(year, month, seq int) string {
	return fmt.Sprintf("%04d-%02d-%03d", year, month, seq)
}

// ParseTxnID parses "2024-04-007" into year, month, seq.
func ParseTxnID(id string) (year, month, seq int, err error) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid transaction ID format: %q", id)
	}

	year, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid year in transaction ID %q: %w", id, err)
	}

	month, err = strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, 0, fmt.Errorf("invalid month in transaction ID %q", id)
	}

	seq, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid sequence in transaction ID %q: %w", id, err)
	}

	return year, month, seq, nil
}

// NewImportID returns a random identifier for one import batch.
func NewImportID() string {
	return uuid.NewString()
}

// NewRuleID returns a short identifier for a user rule, prefixed by its family,
// e.g. "cat-1b9d6bcd".
func NewRuleID(family string) string {
	return family + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
