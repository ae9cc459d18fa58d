package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/cleared-dev/tally/internal/model"
)

// oleMagic starts every OLE2 compound file. Password protected xlsx
// workbooks are wrapped in one.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// XLSXDecoder decodes the first worksheet of an Office Open XML workbook.
type XLSXDecoder struct{}

// Extensions returns the extensions handled by the decoder.
func (d *XLSXDecoder) Extensions() []string { return []string{".xlsx"} }

// Decode returns the rows of the first sheet with raw cell values, so dates
// come through as serial day numbers rather than locale formatted text.
func (d *XLSXDecoder) Decode(_ context.Context, src Source) (model.RawTable, error) {
	encrypted := bytes.HasPrefix(src.Data, oleMagic)
	if encrypted && src.Password == "" {
		return nil, ErrPasswordRequired
	}

	f, err := excelize.OpenReader(bytes.NewReader(src.Data), excelize.Options{Password: src.Password})
	if err != nil {
		if encrypted && (errors.Is(err, excelize.ErrWorkbookFileFormat) || errors.Is(err, excelize.ErrWorkbookPassword)) {
			return nil, ErrIncorrectPassword
		}
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}

	table := make(model.RawTable, 0, len(rows))
	for _, r := range rows {
		table = append(table, trimRow(r))
	}
	return table, nil
}

// XLSDecoder decodes the first worksheet of a legacy BIFF workbook.
type XLSDecoder struct{}

// Extensions returns the extensions handled by the decoder.
func (d *XLSDecoder) Extensions() []string { return []string{".xls"} }

// Decode returns the rows of the first sheet. Missing rows decode as empty rows.
func (d *XLSDecoder) Decode(_ context.Context, src Source) (table model.RawTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xls reader crashed: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(src.Data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		table = append(table, xlsRow(sheet, i))
	}
	return table, nil
}

func xlsRow(sheet *xls.WorkSheet, i int) (row model.Row) {
	defer func() {
		// WorkSheet.Row dereferences rows the file never stored.
		if recover() != nil {
			row = nil
		}
	}()
	r := sheet.Row(i)
	for c := 0; c <= r.LastCol(); c++ {
		row = append(row, r.Col(c))
	}
	return trimRow(trimTrailingEmpty(row))
}

func trimTrailingEmpty(row model.Row) model.Row {
	n := len(row)
	for n > 0 && row[n-1] == "" {
		n--
	}
	return row[:n]
}
