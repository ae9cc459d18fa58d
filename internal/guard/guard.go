package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cleared-dev/tally/internal/model"
)

// ErrDuplicateFile matches any *DuplicateFileError.
var ErrDuplicateFile = errors.New("file already imported")

// DuplicateFileError reports that a file with the same fingerprint was imported before.
type DuplicateFileError struct {
	Fingerprint model.FileFingerprint
	ImportedAt  time.Time
	ImportID    string
}

func (e *DuplicateFileError) Error() string {
	return fmt.Sprintf("%s was already imported on %s (import %s)",
		e.Fingerprint.Name, e.ImportedAt.Local().Format("2006-01-02 15:04"), e.ImportID)
}

func (e *DuplicateFileError) Is(target error) bool {
	return target == ErrDuplicateFile
}

// Prefs controls duplicate detection. It replaces ambient settings lookups.
type Prefs struct {
	Enabled          bool
	ShowFileWarnings bool
	TransactionLevel bool
}

// DefaultPrefs enables file-level detection only.
func DefaultPrefs() Prefs {
	return Prefs{Enabled: true, ShowFileWarnings: true}
}

// ImportRecord is one successful import in the history.
type ImportRecord struct {
	Fingerprint model.FileFingerprint
	ImportID    string
	Count       int
	ImportedAt  time.Time
}

// HistoryStore persists import fingerprints and transaction hashes.
type HistoryStore interface {
	GetImport(ctx context.Context, key string) (*ImportRecord, error)
	RecordImport(ctx context.Context, rec ImportRecord) error
	HasTransactions(ctx context.Context, hashes []string) (map[string]bool, error)
	RecordTransactions(ctx context.Context, importID string, hashes []string) error
}

// Guard is a lookup/record pair over a HistoryStore. It does not own the
// import lifecycle; callers record after a successful import.
type Guard struct {
	store HistoryStore
	prefs Prefs
}

// New creates a Guard.
func New(store HistoryStore, prefs Prefs) *Guard {
	return &Guard{store: store, prefs: prefs}
}

// Prefs returns the guard's preferences.
func (g *Guard) Prefs() Prefs {
	return g.prefs
}

// IsFileAlreadyImported reports whether fp is recorded. It ignores Prefs.
func (g *Guard) IsFileAlreadyImported(ctx context.Context, fp model.FileFingerprint) (bool, error) {
	rec, err := g.store.GetImport(ctx, fp.Key())
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", fp.Name, err)
	}
	return rec != nil, nil
}

// Check returns a *DuplicateFileError when detection and file warnings are
// enabled and fp has been imported before.
func (g *Guard) Check(ctx context.Context, fp model.FileFingerprint) error {
	if !g.prefs.Enabled || !g.prefs.ShowFileWarnings {
		return nil
	}
	rec, err := g.store.GetImport(ctx, fp.Key())
	if err != nil {
		return fmt.Errorf("looking up %s: %w", fp.Name, err)
	}
	if rec == nil {
		return nil
	}
	return &DuplicateFileError{Fingerprint: fp, ImportedAt: rec.ImportedAt, ImportID: rec.ImportID}
}

// Record stores rec's fingerprint.
func (g *Guard) Record(ctx context.Context, rec ImportRecord) error {
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = time.Now().UTC()
	}
	if err := g.store.RecordImport(ctx, rec); err != nil {
		return fmt.Errorf("recording %s: %w", rec.Fingerprint.Name, err)
	}
	return nil
}

// TxnHash identifies a transaction by date, amount and description.
func TxnHash(t model.ParsedTransaction) string {
	key := fmt.Sprintf("%s|%s|%s",
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		strings.ToLower(strings.Join(strings.Fields(t.Description), " ")))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// transactionLevel reports whether per-transaction dedup is active.
func (g *Guard) transactionLevel() bool {
	return g.prefs.Enabled && g.prefs.TransactionLevel
}

// FilterSeen drops transactions already recorded by an earlier import. It is
// a no-op unless detection and TransactionLevel are both enabled. Duplicates
// within txns are kept.
func (g *Guard) FilterSeen(ctx context.Context, txns []model.ParsedTransaction) ([]model.ParsedTransaction, int, error) {
	if !g.transactionLevel() || len(txns) == 0 {
		return txns, 0, nil
	}
	hashes := make([]string, len(txns))
	for i, t := range txns {
		hashes[i] = TxnHash(t)
	}
	seen, err := g.store.HasTransactions(ctx, hashes)
	if err != nil {
		return nil, 0, fmt.Errorf("checking transaction history: %w", err)
	}
	kept := make([]model.ParsedTransaction, 0, len(txns))
	for i, t := range txns {
		if seen[hashes[i]] {
			continue
		}
		kept = append(kept, t)
	}
	return kept, len(txns) - len(kept), nil
}

// RecordTransactions stores the hashes of txns under importID. It is gated
// the same way as FilterSeen.
func (g *Guard) RecordTransactions(ctx context.Context, importID string, txns []model.ParsedTransaction) error {
	if !g.transactionLevel() || len(txns) == 0 {
		return nil
	}
	hashes := make([]string, len(txns))
	for i, t := range txns {
		hashes[i] = TxnHash(t)
	}
	if err := g.store.RecordTransactions(ctx, importID, hashes); err != nil {
		return fmt.Errorf("recording transaction hashes: %w", err)
	}
	return nil
}
