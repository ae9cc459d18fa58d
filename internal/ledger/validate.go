package ledger

import (
	"fmt"

	"github.com/cleared-dev/tally/internal/id"
	"github.com/cleared-dev/tally/internal/model"
)

// ValidationError describes a single ledger invariant violation.
type ValidationError struct {
	Invariant   string
	TxnID       string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Invariant, e.TxnID, e.Description)
}

// AccountChecker tests whether a bank account ID exists.
type AccountChecker interface {
	Exists(id int) bool
}

// ValidateMonth checks the transactions stored for one month.
func ValidateMonth(txns []model.StoredTransaction, accounts AccountChecker, year, month int) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)

	for _, txn := range txns {
		errs = append(errs, validateTransaction(txn.ID, txn.ParsedTransaction, accounts)...)

		if txn.Date.Year() != year || int(txn.Date.Month()) != month {
			errs = append(errs, ValidationError{
				Invariant:   "month",
				TxnID:       txn.ID,
				Description: fmt.Sprintf("date %s not in %04d-%02d", txn.Date.Format(dateFormat), year, month),
			})
		}

		y, m, _, err := id.ParseTxnID(txn.ID)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Invariant: "id", TxnID: txn.ID, Description: err.Error()})
		case y != year || m != month:
			errs = append(errs, ValidationError{Invariant: "id", TxnID: txn.ID, Description: fmt.Sprintf("id not in %04d-%02d", year, month)})
		case seen[txn.ID]:
			errs = append(errs, ValidationError{Invariant: "id", TxnID: txn.ID, Description: "duplicate id"})
		}
		seen[txn.ID] = true
	}
	return errs
}

func validateTransaction(txnID string, txn model.ParsedTransaction, accounts AccountChecker) []ValidationError {
	var errs []ValidationError
	add := func(inv, format string, args ...any) {
		errs = append(errs, ValidationError{Invariant: inv, TxnID: txnID, Description: fmt.Sprintf(format, args...)})
	}

	if txn.Date.IsZero() {
		add("date", "missing date")
	}
	if txn.Description == "" {
		add("description", "empty description")
	}
	if !txn.Type.Valid() {
		add("type", "unknown type %q", txn.Type)
	}
	// Income may be negative when a row carries both a debit and a credit.
	if txn.Type == model.TxnExpense && txn.Amount.IsPositive() {
		add("sign", "expense amount %s is positive", txn.Amount.StringFixed(2))
	}
	if !txn.Amount.Equal(txn.Amount.Round(model.AmountPlaces)) {
		add("precision", "amount %s has more than %d decimal places", txn.Amount, model.AmountPlaces)
	}
	if txn.AccountID != 0 && accounts != nil && !accounts.Exists(txn.AccountID) {
		add("account", "unknown account %d", txn.AccountID)
	}
	return errs
}
