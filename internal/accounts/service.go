package accounts

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cleared-dev/tally/internal/model"
)

// File is the bank account list's path inside a workspace.
const File = "accounts/bank-accounts.csv"

// Service provides in-memory lookup over the bank accounts.
type Service struct {
	accounts []model.BankAccount
	byID     map[int]model.BankAccount
}

// NewService creates a Service from a slice of accounts.
func NewService(accounts []model.BankAccount) *Service {
	byID := make(map[int]model.BankAccount, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return &Service{accounts: accounts, byID: byID}
}

// Load reads bank-accounts.csv from a workspace and returns a Service.
func Load(workspace string) (*Service, error) {
	path := filepath.Join(workspace, File)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bank accounts: %w", err)
	}
	defer f.Close()

	accts, err := ReadAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("reading bank accounts: %w", err)
	}
	return NewService(accts), nil
}

// All returns all accounts.
func (s *Service) All() []model.BankAccount {
	return s.accounts
}

// Get returns an account by ID.
func (s *Service) Get(id int) (model.BankAccount, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// Exists reports whether an account ID exists.
func (s *Service) Exists(id int) bool {
	_, ok := s.byID[id]
	return ok
}

// ByLastFour returns the account whose number ends in lastFour. Statements
// usually print a masked number such as "XXXXXX1234".
func (s *Service) ByLastFour(lastFour string) (model.BankAccount, bool) {
	lastFour = strings.TrimSpace(lastFour)
	if len(lastFour) > 4 {
		lastFour = lastFour[len(lastFour)-4:]
	}
	if lastFour == "" {
		return model.BankAccount{}, false
	}
	for _, a := range s.accounts {
		if a.LastFour == lastFour {
			return a, true
		}
	}
	return model.BankAccount{}, false
}

// Resolve looks ref up as an account ID first and then as a last-four suffix.
func (s *Service) Resolve(ref string) (model.BankAccount, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.Atoi(ref); err == nil && len(ref) < 4 {
		if a, ok := s.Get(id); ok {
			return a, nil
		}
	}
	if a, ok := s.ByLastFour(ref); ok {
		return a, nil
	}
	return model.BankAccount{}, fmt.Errorf("no bank account matches %q", ref)
}

// Save writes the accounts to accounts/bank-accounts.csv.
func (s *Service) Save(workspace string) error {
	dir := filepath.Join(workspace, filepath.Dir(File))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating accounts dir: %w", err)
	}

	f, err := os.Create(filepath.Join(workspace, File))
	if err != nil {
		return fmt.Errorf("creating bank accounts file: %w", err)
	}
	defer f.Close()

	if err := WriteAccounts(f, s.accounts); err != nil {
		return fmt.Errorf("writing bank accounts: %w", err)
	}
	return nil
}
