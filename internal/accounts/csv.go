package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/cleared-dev/tally/internal/model"
)

const (
	numFields   = 5
	colID       = 0
	colName     = 1
	colBank     = 2
	colLastFour = 3
	colType     = 4
)

// Header is the CSV header for bank-accounts.csv.
var Header = []string{"account_id", "name", "bank", "last_four", "type"}

// ReadAccounts reads bank-accounts.csv.
func ReadAccounts(r io.Reader) ([]model.BankAccount, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading accounts CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var accounts []model.BankAccount
	for i, rec := range records[1:] {
		acct, err := UnmarshalAccount(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// WriteAccounts writes bank-accounts.csv.
func WriteAccounts(w io.Writer, accounts []model.BankAccount) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, acct := range accounts {
		if err := cw.Write(MarshalAccount(acct)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalAccount converts a BankAccount to a CSV row.
func MarshalAccount(acct model.BankAccount) []string {
	row := make([]string, numFields)
	row[colID] = strconv.Itoa(acct.ID)
	row[colName] = acct.Name
	row[colBank] = acct.Bank
	row[colLastFour] = acct.LastFour
	row[colType] = string(acct.Type)
	return row
}

// UnmarshalAccount converts a CSV row to a BankAccount.
func UnmarshalAccount(record []string) (model.BankAccount, error) {
	if len(record) != numFields {
		return model.BankAccount{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	id, err := strconv.Atoi(record[colID])
	if err != nil {
		return model.BankAccount{}, fmt.Errorf("parsing account_id %q: %w", record[colID], err)
	}
	if id <= 0 {
		return model.BankAccount{}, fmt.Errorf("account_id must be positive, got %d", id)
	}

	acctType := model.AccountType(record[colType])
	switch acctType {
	case model.AccountTypeSavings, model.AccountTypeCurrent, model.AccountTypeCreditCard:
	default:
		return model.BankAccount{}, fmt.Errorf("unknown account type %q", record[colType])
	}

	return model.BankAccount{
		ID:       id,
		Name:     record[colName],
		Bank:     record[colBank],
		LastFour: record[colLastFour],
		Type:     acctType,
	}, nil
}
