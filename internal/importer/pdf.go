package importer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/cleared-dev/tally/internal/model"
)

// PDFDecoder extracts statement lines from a PDF and segments them into rows
// with the layout matching the issuing bank.
type PDFDecoder struct {
	layouts *LayoutRegistry
}

// NewPDFDecoder creates a PDFDecoder that segments text with layouts.
func NewPDFDecoder(layouts *LayoutRegistry) *PDFDecoder {
	return &PDFDecoder{layouts: layouts}
}

// Extensions returns the extensions handled by the decoder.
func (d *PDFDecoder) Extensions() []string { return []string{".pdf"} }

// Decode extracts text and hands it to the detected layout.
func (d *PDFDecoder) Decode(ctx context.Context, src Source) (model.RawTable, error) {
	lines, err := ExtractLines(src.Data, src.Password)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layout := d.layouts.Detect(lines)
	return layout.Segment(lines), nil
}

// ExtractLines returns the non-empty text lines of every page in order.
// An encrypted document yields ErrPasswordRequired without a password and
// ErrIncorrectPassword when password does not open it. Encryption the pdf
// reader cannot handle (only RC4 and AES-128 are supported) yields
// ErrUnsupportedEncryption.
func ExtractLines(data []byte, password string) (lines []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF library crashed: %v", r)
		}
	}()

	r, err := pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), onceString(password))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, passwordError(password)
		}
		// The reader reports encryption it cannot open as plain text errors.
		if strings.Contains(err.Error(), "encryption") {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncryption, err)
		}
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	lines = linesByRow(r, numPages)
	if len(lines) > 0 {
		return lines, nil
	}
	return plainTextLines(r)
}

// onceString returns a password callback that offers pw a single time. The
// pdf reader keeps asking until it receives "".
func onceString(pw string) func() string {
	offered := false
	return func() string {
		if offered {
			return ""
		}
		offered = true
		return pw
	}
}

func linesByRow(r *pdf.Reader, numPages int) []string {
	var lines []string
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			parts := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				parts = append(parts, word.S)
			}
			line := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

func plainTextLines(r *pdf.Reader) ([]string, error) {
	rd, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting PDF text: %w", err)
	}
	var lines []string
	sc := bufio.NewScanner(rd)
	sc.Buffer(nil, 1<<20)
	for sc.Scan() {
		line := strings.Join(strings.Fields(sc.Text()), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading PDF text: %w", err)
	}
	return lines, nil
}
