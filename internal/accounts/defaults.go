package accounts

import "github.com/cleared-dev/tally/internal/model"

// DefaultAccounts returns the accounts a new workspace starts with: a single
// savings account the user renames once their first statement arrives.
func DefaultAccounts(bank string) []model.BankAccount {
	if bank == "" {
		bank = "Primary Bank"
	}
	return []model.BankAccount{
		{ID: 1, Name: "Savings", Bank: bank, Type: model.AccountTypeSavings},
	}
}
