package model

import (
	"fmt"
	"time"
)

// Row is one decoded statement row.
type Row []string

// RawTable is the decoded form of a statement before column resolution.
// Rows may have different lengths.
type RawTable []Row

// Cell returns the cell at (row, col), or "" when out of range.
func (t RawTable) Cell(row, col int) string {
	if row < 0 || row >= len(t) {
		return ""
	}
	r := t[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// Width returns the length of the longest row.
func (t RawTable) Width() int {
	w := 0
	for _, r := range t {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// FileFingerprint identifies an uploaded file by its metadata.
type FileFingerprint struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Key renders the fingerprint as a stable lookup key.
func (f FileFingerprint) Key() string {
	return fmt.Sprintf("%s|%d|%d", f.Name, f.Size, f.ModTime.UTC().UnixMilli())
}
