package model

// AccountType classifies bank accounts.
type AccountType string

const (
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCurrent    AccountType = "current"
	AccountTypeCreditCard AccountType = "credit_card"
)

// BankAccount represents a row in bank-accounts.csv.
type BankAccount struct {
	ID       int
	Name     string
	Bank     string
	LastFour string
	Type     AccountType
}

// Category is a known transaction category.
type Category struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Type TxnType `yaml:"type,omitempty"`
}
