package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/tally/internal/model"
)

// Header is the CSV header for transactions.csv.
var Header = []string{
	"txn_id", "date", "description", "amount", "type", "currency", "category",
	"category_rule", "sip_rule", "recurring", "account_id", "tags", "import_id",
}

const (
	numFields    = 13
	dateFormat   = "2006-01-02"
	tagSep       = ";"
	colID        = 0
	colDate      = 1
	colDesc      = 2
	colAmount    = 3
	colType      = 4
	colCurrency  = 5
	colCategory  = 6
	colCatRule   = 7
	colSIPRule   = 8
	colRecurring = 9
	colAccount   = 10
	colTags      = 11
	colImport    = 12
)

// ReadTransactions reads all rows from a transactions.csv reader.
func ReadTransactions(r io.Reader) ([]model.StoredTransaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading ledger CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var txns []model.StoredTransaction
	for i, rec := range records[1:] {
		txn, err := UnmarshalTransaction(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// WriteTransactions writes txns to w, including the header.
func WriteTransactions(w io.Writer, txns []model.StoredTransaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, txn := range txns {
		if err := cw.Write(MarshalTransaction(txn)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendTransactions appends txns to w without a header.
func AppendTransactions(w io.Writer, txns []model.StoredTransaction) error {
	cw := csv.NewWriter(w)
	for i, txn := range txns {
		if err := cw.Write(MarshalTransaction(txn)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalTransaction converts a StoredTransaction to a CSV row.
func MarshalTransaction(txn model.StoredTransaction) []string {
	row := make([]string, numFields)
	row[colID] = txn.ID
	row[colDate] = txn.Date.Format(dateFormat)
	row[colDesc] = txn.Description
	row[colAmount] = txn.Amount.StringFixed(2)
	row[colType] = string(txn.Type)
	row[colCurrency] = txn.Currency
	row[colCategory] = txn.CategoryID
	row[colCatRule] = txn.CategoryRuleID
	row[colSIPRule] = txn.SIPRuleID
	row[colRecurring] = txn.RecurringID
	if txn.AccountID != 0 {
		row[colAccount] = strconv.Itoa(txn.AccountID)
	}
	row[colTags] = strings.Join(txn.Tags, tagSep)
	row[colImport] = txn.ImportID
	return row
}

// UnmarshalTransaction converts a CSV row to a StoredTransaction.
func UnmarshalTransaction(record []string) (model.StoredTransaction, error) {
	if len(record) != numFields {
		return model.StoredTransaction{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	date, err := time.Parse(dateFormat, record[colDate])
	if err != nil {
		return model.StoredTransaction{}, fmt.Errorf("parsing date %q: %w", record[colDate], err)
	}

	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return model.StoredTransaction{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}

	var accountID int
	if record[colAccount] != "" {
		accountID, err = strconv.Atoi(record[colAccount])
		if err != nil {
			return model.StoredTransaction{}, fmt.Errorf("parsing account_id %q: %w", record[colAccount], err)
		}
	}

	var tags []string
	if record[colTags] != "" {
		tags = strings.Split(record[colTags], tagSep)
	}

	return model.StoredTransaction{
		ID:       record[colID],
		ImportID: record[colImport],
		ParsedTransaction: model.ParsedTransaction{
			Date:           date,
			Description:    record[colDesc],
			Amount:         amount,
			Type:           model.TxnType(record[colType]),
			Currency:       record[colCurrency],
			CategoryID:     record[colCategory],
			CategoryRuleID: record[colCatRule],
			SIPRuleID:      record[colSIPRule],
			RecurringID:    record[colRecurring],
			AccountID:      accountID,
			Tags:           tags,
		},
	}, nil
}
