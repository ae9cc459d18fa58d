package activity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 4, 15, 10, 30, 0, 0, time.UTC)

func testEntry() Entry {
	return Entry{
		Timestamp: testTime,
		Action:    ActionImport,
		File:      "hdfc-april.csv",
		ImportID:  "0b7f6c1e-2d1a-4c55-9d59-6f0b6f1c2a10",
		Count:     42,
		Details:   "3 categorized, 1 SIP linked",
	}
}

func TestAppend_NewFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Append(dir, testEntry()))

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionImport, entries[0].Action)
	assert.Equal(t, 42, entries[0].Count)
}

func TestAppend_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Append(dir, testEntry()))

	e2 := testEntry()
	e2.Action = ActionRepair
	e2.File = ""
	require.NoError(t, Append(dir, e2))

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionImport, entries[0].Action)
	assert.Equal(t, ActionRepair, entries[1].Action)

	data, err := os.ReadFile(filepath.Join(dir, "logs", "activity.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,action"))
}

func TestRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	original := testEntry()
	original.Details = `renamed "Other", kept commas, too`
	require.NoError(t, Append(dir, original))

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.True(t, original.Timestamp.Equal(got.Timestamp))
	got.Timestamp = original.Timestamp
	assert.Equal(t, original, got)
}

func TestRead_NotFound(t *testing.T) {
	entries, err := Read(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestRead_HeaderOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs", "activity.csv"), []byte(strings.Join(Header, ",")+"\n"), 0o644))

	entries, err := Read(dir)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestUnmarshalEntry_Errors(t *testing.T) {
	_, err := UnmarshalEntry([]string{"one", "two"})
	assert.ErrorContains(t, err, "expected 6 fields")

	row := MarshalEntry(testEntry())
	row[colCount] = "many"
	_, err = UnmarshalEntry(row)
	assert.ErrorContains(t, err, "parsing count")
}

func TestTimestampFormat(t *testing.T) {
	ist := time.FixedZone("IST", 19800)
	e := testEntry()
	e.Timestamp = time.Date(2024, 4, 15, 16, 0, 0, 0, ist)
	assert.Equal(t, "2024-04-15T10:30:00Z", MarshalEntry(e)[0])
}
