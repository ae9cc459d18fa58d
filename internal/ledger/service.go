package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cleared-dev/tally/internal/id"
	"github.com/cleared-dev/tally/internal/model"
)

// Dir is the ledger root inside a workspace.
const Dir = "ledger"

// Month identifies one ledger file.
type Month struct {
	Year  int
	Month int
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// ParseMonth parses "2024-04".
func ParseMonth(s string) (Month, error) {
	y, mo, ok := strings.Cut(s, "-")
	if !ok {
		return Month{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	month, err := strconv.Atoi(mo)
	if err != nil || month < 1 || month > 12 {
		return Month{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return Month{Year: year, Month: month}, nil
}

// Service stores transactions in monthly transactions.csv files.
type Service struct {
	root     string
	accounts AccountChecker
	mu       sync.Mutex
}

// NewService creates a ledger Service for a workspace. accounts may be nil
// to skip account checks.
func NewService(workspace string, accounts AccountChecker) *Service {
	return &Service{root: filepath.Join(workspace, Dir), accounts: accounts}
}

// Append validates txns and appends them to their months under importID.
// It returns the assigned IDs in input order. Nothing is written when any
// transaction fails validation.
func (s *Service) Append(txns []model.ParsedTransaction, importID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var verrs []string
	for i, txn := range txns {
		for _, ve := range validateTransaction(fmt.Sprintf("#%d", i+1), txn, s.accounts) {
			verrs = append(verrs, ve.Error())
		}
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("validation failed: %s", strings.Join(verrs, "; "))
	}

	byMonth := make(map[Month][]int)
	var order []Month
	for i, txn := range txns {
		m := Month{Year: txn.Date.Year(), Month: int(txn.Date.Month())}
		if _, ok := byMonth[m]; !ok {
			order = append(order, m)
		}
		byMonth[m] = append(byMonth[m], i)
	}

	ids := make([]string, len(txns))
	for _, m := range order {
		seq, err := s.nextSeq(m)
		if err != nil {
			return nil, err
		}
		stored := make([]model.StoredTransaction, 0, len(byMonth[m]))
		for _, i := range byMonth[m] {
			ids[i] = id.FormatTxnID(m.Year, m.Month, seq)
			seq++
			stored = append(stored, model.StoredTransaction{ParsedTransaction: txns[i], ID: ids[i], ImportID: importID})
		}
		if err := s.appendMonth(m, stored); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ReadMonth reads all transactions for a given month.
func (s *Service) ReadMonth(year, month int) ([]model.StoredTransaction, error) {
	path := s.monthPath(Month{Year: year, Month: month})
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	defer f.Close()

	txns, err := ReadTransactions(f)
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}
	return txns, nil
}

// Months lists the months that have a ledger file, oldest first.
func (s *Service) Months() ([]Month, error) {
	years, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}

	var months []Month
	for _, y := range years {
		year, err := strconv.Atoi(y.Name())
		if err != nil || !y.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, y.Name()))
		if err != nil {
			return nil, fmt.Errorf("listing ledger %s: %w", y.Name(), err)
		}
		for _, e := range entries {
			month, err := strconv.Atoi(e.Name())
			if err != nil || !e.IsDir() || month < 1 || month > 12 {
				continue
			}
			m := Month{Year: year, Month: month}
			if _, err := os.Stat(s.monthPath(m)); err == nil {
				months = append(months, m)
			}
		}
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}
		return months[i].Month < months[j].Month
	})
	return months, nil
}

// ReadAll reads every month, oldest first.
func (s *Service) ReadAll() ([]model.StoredTransaction, error) {
	months, err := s.Months()
	if err != nil {
		return nil, err
	}
	var all []model.StoredTransaction
	for _, m := range months {
		txns, err := s.ReadMonth(m.Year, m.Month)
		if err != nil {
			return nil, err
		}
		all = append(all, txns...)
	}
	return all, nil
}

// Update replaces stored transactions by ID, rewriting each affected month.
func (s *Service) Update(txns ...model.StoredTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMonth := make(map[Month]map[string]model.StoredTransaction)
	for _, txn := range txns {
		y, mo, _, err := id.ParseTxnID(txn.ID)
		if err != nil {
			return err
		}
		m := Month{Year: y, Month: mo}
		if byMonth[m] == nil {
			byMonth[m] = make(map[string]model.StoredTransaction)
		}
		byMonth[m][txn.ID] = txn
	}

	for m, updates := range byMonth {
		existing, err := s.ReadMonth(m.Year, m.Month)
		if err != nil {
			return err
		}
		for i, txn := range existing {
			if u, ok := updates[txn.ID]; ok {
				existing[i] = u
				delete(updates, txn.ID)
			}
		}
		if len(updates) > 0 {
			missing := make([]string, 0, len(updates))
			for txnID := range updates {
				missing = append(missing, txnID)
			}
			sort.Strings(missing)
			return fmt.Errorf("transactions not found in %s: %s", m, strings.Join(missing, ", "))
		}
		if verrs := ValidateMonth(existing, s.accounts, m.Year, m.Month); len(verrs) > 0 {
			msgs := make([]string, len(verrs))
			for i, ve := range verrs {
				msgs[i] = ve.Error()
			}
			return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
		}
		if err := s.rewriteMonth(m, existing); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) nextSeq(m Month) (int, error) {
	txns, err := s.ReadMonth(m.Year, m.Month)
	if err != nil {
		return 0, err
	}
	maxSeq := 0
	for _, txn := range txns {
		_, _, seq, err := id.ParseTxnID(txn.ID)
		if err != nil {
			continue
		}
		maxSeq = max(maxSeq, seq)
	}
	return maxSeq + 1, nil
}

func (s *Service) appendMonth(m Month, txns []model.StoredTransaction) error {
	path := s.monthPath(m)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	isNew := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	if isNew {
		err = WriteTransactions(f, txns)
	} else {
		err = AppendTransactions(f, txns)
	}
	if err != nil {
		return fmt.Errorf("appending to %s: %w", m, err)
	}
	return nil
}

func (s *Service) rewriteMonth(m Month, txns []model.StoredTransaction) error {
	path := s.monthPath(m)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if err := WriteTransactions(f, txns); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("rewriting %s: %w", m, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func (s *Service) monthPath(m Month) string {
	return filepath.Join(s.root, fmt.Sprintf("%04d", m.Year), fmt.Sprintf("%02d", m.Month), "transactions.csv")
}
