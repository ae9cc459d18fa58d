// Package pipeline runs a statement through parsing, duplicate checks and
// rule matching, and commits the outcome to the workspace.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cleared-dev/tally/internal/guard"
	"github.com/cleared-dev/tally/internal/header"
	"github.com/cleared-dev/tally/internal/importer"
	"github.com/cleared-dev/tally/internal/model"
)

// Kind tags a Result.
type Kind int

const (
	// Ok: the statement parsed and Transactions are annotated.
	Ok Kind = iota
	// NeedsMapping: no header row was found. Table holds the decoded rows.
	NeedsMapping
	// NeedsPassword: the file is encrypted. Retry is set when a password was
	// supplied and rejected.
	NeedsPassword
	// Failed: Err and Reason describe why.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case NeedsMapping:
		return "needs_mapping"
	case NeedsPassword:
		return "needs_password"
	default:
		return "failed"
	}
}

// Failure reasons.
const (
	ReasonDuplicate      = "duplicate"
	ReasonTooLarge       = "too_large"
	ReasonUnsupported    = "unsupported_format"
	ReasonEncryption     = "unsupported_encryption"
	ReasonNoTransactions = "no_transactions"
	ReasonInvalidMapping = "invalid_mapping"
	ReasonUnknownAccount = "unknown_account"
	ReasonCanceled       = "canceled"
	ReasonError          = "error"
)

// Result is the outcome of one Run.
type Result struct {
	Kind Kind

	Transactions []model.ParsedTransaction
	Skipped      int // rows dropped as already imported

	Table model.RawTable

	Retry bool

	Err    error
	Reason string

	usage  usage
	forced bool
}

// usage holds the rule matches of a Run, applied on Commit.
type usage struct {
	at        time.Time
	category  map[string]int // rule ID -> matches
	sip       map[string]int
	recurring []advance
}

// advance moves a recurring template past the cycle a Run linked.
type advance struct {
	id       string
	from, to time.Time
}

func failed(reason string, err error) Result {
	return Result{Kind: Failed, Reason: reason, Err: err}
}

// classify converts a parse error into a Result.
func classify(err error) Result {
	var hde *importer.HeaderDetectionError
	var me *header.MappingError
	switch {
	case errors.As(err, &hde):
		return Result{Kind: NeedsMapping, Table: hde.Table, Err: err}
	case errors.Is(err, importer.ErrPasswordRequired):
		return Result{Kind: NeedsPassword, Err: err}
	case errors.Is(err, importer.ErrIncorrectPassword):
		return Result{Kind: NeedsPassword, Retry: true, Err: err}
	case errors.Is(err, guard.ErrDuplicateFile):
		return failed(ReasonDuplicate, err)
	case errors.Is(err, importer.ErrUnsupportedFormat):
		return failed(ReasonUnsupported, err)
	case errors.Is(err, importer.ErrUnsupportedEncryption):
		return failed(ReasonEncryption, err)
	case errors.Is(err, importer.ErrNoTransactionsFound):
		return failed(ReasonNoTransactions, err)
	case errors.As(err, &me):
		return failed(ReasonInvalidMapping, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failed(ReasonCanceled, err)
	default:
		return failed(ReasonError, err)
	}
}

// Session keeps the latest result of a sequence of runs. A run that finishes
// after a newer one started is discarded.
type Session struct {
	mu     sync.Mutex
	gen    uint64
	latest Result
	has    bool
}

// Begin starts a run and returns its generation.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// Complete stores r if gen is still the current generation.
func (s *Session) Complete(gen uint64, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.latest, s.has = r, true
	return true
}

// Latest returns the last accepted result.
func (s *Session) Latest() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}
