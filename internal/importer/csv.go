package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/cleared-dev/tally/internal/model"
)

// CSVDecoder decodes comma-separated statement exports.
type CSVDecoder struct{}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extensions returns the extensions handled by the decoder.
func (d *CSVDecoder) Extensions() []string { return []string{".csv"} }

// Decode reads every record into a RawTable. Records may differ in width.
func (d *CSVDecoder) Decode(_ context.Context, src Source) (model.RawTable, error) {
	data := bytes.TrimPrefix(src.Data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	table := make(model.RawTable, 0, len(records))
	for _, rec := range records {
		table = append(table, trimRow(rec))
	}
	return table, nil
}

func trimRow(cells []string) model.Row {
	row := make(model.Row, len(cells))
	for i, c := range cells {
		row[i] = strings.TrimSpace(c)
	}
	return row
}
