package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TxnType classifies a transaction's direction or purpose.
type TxnType string

const (
	TxnIncome     TxnType = "income"
	TxnExpense    TxnType = "expense"
	TxnInvestment TxnType = "investment"
	TxnInsurance  TxnType = "insurance"
)

// DefaultCurrency is the only currency statements are assumed to carry.
const DefaultCurrency = "INR"

// AmountPlaces is the number of decimal places amounts are stored with.
const AmountPlaces = 2

// Valid reports whether t is one of the known transaction types.
func (t TxnType) Valid() bool {
	switch t {
	case TxnIncome, TxnExpense, TxnInvestment, TxnInsurance:
		return true
	}
	return false
}

// ParseTxnType converts a string into a TxnType.
func ParseTxnType(s string) (TxnType, error) {
	t := TxnType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

// ParsedTransaction is one normalized statement row.
type ParsedTransaction struct {
	Date        time.Time       // calendar date, UTC midnight
	Description string
	Amount      decimal.Decimal // negative = expense, positive = income
	Type        TxnType
	Currency    string

	// Attribution, attached downstream of the parser.
	CategoryID     string
	CategoryRuleID string
	SIPRuleID      string
	RecurringID    string
	AccountID      int // 0 = unassigned
	Tags           []string
}

// HasRuleAttribution reports whether a category rule has been recorded.
func (t ParsedTransaction) HasRuleAttribution() bool {
	return t.CategoryRuleID != ""
}

// StoredTransaction is a ParsedTransaction persisted in the ledger.
type StoredTransaction struct {
	ParsedTransaction
	ID       string // "YYYY-MM-NNN"
	ImportID string
}
