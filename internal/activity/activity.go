// Package activity records imports, repairs and rule changes in logs/activity.csv.
package activity

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Action names used in the log.
const (
	ActionImport    = "import"
	ActionRepair    = "repair"
	ActionRecurring = "recurring_link"
	ActionRuleAdd   = "rule_add"
)

// Entry is one row in the activity log.
type Entry struct {
	Timestamp time.Time
	Action    string
	File      string
	ImportID  string
	Count     int
	Details   string
}

// Header is the CSV header for activity.csv.
var Header = []string{"timestamp", "action", "file", "import_id", "count", "details"}

const (
	numFields   = 6
	logFile     = "logs/activity.csv"
	colTime     = 0
	colAction   = 1
	colFile     = 2
	colImportID = 3
	colCount    = 4
	colDetails  = 5
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTime] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colAction] = e.Action
	row[colFile] = e.File
	row[colImportID] = e.ImportID
	row[colCount] = strconv.Itoa(e.Count)
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTime])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTime], err)
	}
	count, err := strconv.Atoi(record[colCount])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing count %q: %w", record[colCount], err)
	}

	return Entry{
		Timestamp: ts,
		Action:    record[colAction],
		File:      record[colFile],
		ImportID:  record[colImportID],
		Count:     count,
		Details:   record[colDetails],
	}, nil
}

// Append writes entries to <workspace>/logs/activity.csv, creating the file and header if needed.
func Append(workspace string, entries ...Entry) error {
	path := filepath.Join(workspace, logFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(Header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <workspace>/logs/activity.csv.
// Returns nil if the file does not exist.
func Read(workspace string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(workspace, logFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading activity CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
