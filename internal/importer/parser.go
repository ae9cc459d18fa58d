package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/tally/internal/header"
	"github.com/cleared-dev/tally/internal/model"
)

// Parser turns statement files into normalized transactions.
type Parser struct {
	registry *Registry
	dates    DateParser
	scanRows int
	log      zerolog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithRegistry replaces the default decoder registry.
func WithRegistry(r *Registry) Option {
	return func(p *Parser) { p.registry = r }
}

// WithDateLayouts adds date layouts tried before the built-in ones.
func WithDateLayouts(layouts ...string) Option {
	return func(p *Parser) { p.dates = NewDateParser(layouts...) }
}

// WithScanRows sets how many leading rows header detection inspects.
func WithScanRows(n int) Option {
	return func(p *Parser) { p.scanRows = n }
}

// WithLogger sets the logger used for dropped-row diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Parser) { p.log = l }
}

// NewParser creates a Parser with the built-in decoders.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		registry: DefaultRegistry(),
		dates:    NewDateParser(),
		scanRows: header.MaxScanRows,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the decoders the parser dispatches to.
func (p *Parser) Registry() *Registry {
	return p.registry
}

// Decode reads f and converts it into a RawTable with the decoder for its extension.
func (p *Parser) Decode(ctx context.Context, f File) (model.RawTable, error) {
	dec := p.registry.Get(f.Ext())
	if dec == nil {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrUnsupportedFormat)
	}
	if f.Body == nil {
		return nil, fmt.Errorf("%s: empty body", f.Name)
	}
	data, err := io.ReadAll(f.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	table, err := dec.Decode(ctx, Source{Name: f.Name, Data: data, Password: f.Password})
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.Name, err)
	}
	return table, nil
}

// Parse decodes f, detects its header row and interprets the rows below it.
// When no header row is found it returns a *HeaderDetectionError carrying the
// table for ParseWithMapping.
func (p *Parser) Parse(ctx context.Context, f File) ([]model.ParsedTransaction, error) {
	table, err := p.Decode(ctx, f)
	if err != nil {
		return nil, err
	}
	res, err := header.DetectWithin(table, p.scanRows)
	if err != nil {
		p.log.Debug().Str("file", f.Name).Int("rows", len(table)).Msg("header not detected")
		return nil, &HeaderDetectionError{Table: table}
	}
	p.log.Debug().
		Str("file", f.Name).
		Int("header_row", res.HeaderRow).
		Str("mapping", res.Mapping.String()).
		Msg("header detected")
	return p.ParseWithMapping(table, res.Mapping, res.HeaderRow)
}

// ParseWithMapping interprets every row after headerRow using mapping. A
// headerRow of -1 means the table has no header. Rows without a valid date or
// amount are skipped; if none remain it returns ErrNoTransactionsFound.
func (p *Parser) ParseWithMapping(table model.RawTable, mapping header.ColumnMapping, headerRow int) ([]model.ParsedTransaction, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if headerRow < -1 || headerRow >= len(table) {
		return nil, fmt.Errorf("header row %d out of range for %d rows", headerRow, len(table))
	}

	var txns []model.ParsedTransaction
	for i := headerRow + 1; i < len(table); i++ {
		txn, err := p.interpretRow(table[i], mapping)
		if err != nil {
			p.log.Debug().Int("row", i+1).Err(err).Msg("skipping row")
			continue
		}
		txns = append(txns, txn)
	}
	if len(txns) == 0 {
		return nil, ErrNoTransactionsFound
	}
	return txns, nil
}

var errZeroAmount = errors.New("zero amount")

func (p *Parser) interpretRow(row model.Row, m header.ColumnMapping) (model.ParsedTransaction, error) {
	cell := func(f header.Field) string {
		col, ok := m.Column(f)
		if !ok || col >= len(row) {
			return ""
		}
		return row[col]
	}

	date, err := p.dates.Parse(cell(header.FieldDate))
	if err != nil {
		return model.ParsedTransaction{}, fmt.Errorf("parsing date: %w", err)
	}

	txn := model.ParsedTransaction{
		Date:        date,
		Description: strings.TrimSpace(cell(header.FieldDescription)),
		Currency:    model.DefaultCurrency,
	}

	if m.UsesDebitCredit() {
		debit, err := parseOptionalAmount(cell(header.FieldDebit))
		if err != nil {
			return model.ParsedTransaction{}, fmt.Errorf("parsing debit: %w", err)
		}
		credit, err := parseOptionalAmount(cell(header.FieldCredit))
		if err != nil {
			return model.ParsedTransaction{}, fmt.Errorf("parsing credit: %w", err)
		}
		debit = debit.Abs().Round(model.AmountPlaces)
		credit = credit.Abs().Round(model.AmountPlaces)
		if debit.IsZero() && credit.IsZero() {
			return model.ParsedTransaction{}, errZeroAmount
		}
		txn.Amount = credit.Sub(debit)
		txn.Type = model.TxnExpense
		if credit.IsPositive() {
			txn.Type = model.TxnIncome
		}
	} else {
		amount, err := ParseAmount(cell(header.FieldAmount))
		if err != nil {
			return model.ParsedTransaction{}, fmt.Errorf("parsing amount: %w", err)
		}
		amount = amount.Round(model.AmountPlaces)
		if amount.IsZero() {
			return model.ParsedTransaction{}, errZeroAmount
		}
		txn.Amount = amount
		txn.Type = model.TxnIncome
		if amount.IsNegative() {
			txn.Type = model.TxnExpense
		}
	}
	return txn, nil
}
