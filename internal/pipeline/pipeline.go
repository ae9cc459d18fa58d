package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/tally/internal/activity"
	"github.com/cleared-dev/tally/internal/guard"
	"github.com/cleared-dev/tally/internal/header"
	"github.com/cleared-dev/tally/internal/id"
	"github.com/cleared-dev/tally/internal/importer"
	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/rules"
)

// RuleStore supplies active rules and persists their usage counters.
// Counters are applied as increments against the stored rules.
type RuleStore interface {
	ActiveCategoryRules() []model.CategoryRule
	ActiveSIPRules() []model.SIPRule
	ActiveRecurring() []model.RecurringTransaction
	RecordCategoryUsage(id string, n int, at time.Time) error
	RecordSIPUsage(id string, n int, at time.Time) error
	AdvanceRecurring(id string, from, to time.Time) (bool, error)
	Save() error
}

// Ledger stores committed transactions.
type Ledger interface {
	Append(txns []model.ParsedTransaction, importID string) ([]string, error)
}

// AccountChecker tests whether a bank account exists.
type AccountChecker interface {
	Exists(id int) bool
}

// Options adjust a single Run.
type Options struct {
	// Mapping, when set, skips header detection.
	Mapping   *header.ColumnMapping
	HeaderRow int
	// AccountID is assigned to every transaction when non-zero.
	AccountID int
	// Force skips the file-level duplicate check.
	Force bool
}

// Deps are the collaborators of a Pipeline. Workspace is where the activity
// log is written; an empty Workspace disables it.
type Deps struct {
	Parser         *importer.Parser
	Guard          *guard.Guard
	Rules          RuleStore
	Ledger         Ledger
	Accounts       AccountChecker
	Workspace      string
	MaxUploadBytes int64
	Logger         zerolog.Logger
	Now            func() time.Time
}

// Pipeline imports statements into a workspace.
type Pipeline struct {
	parser    *importer.Parser
	guard     *guard.Guard
	rules     RuleStore
	ledger    Ledger
	accounts  AccountChecker
	workspace string
	maxUpload int64
	log       zerolog.Logger
	now       func() time.Time

	// commitMu makes the duplicate check and the writes of a Commit atomic.
	commitMu sync.Mutex
}

// New creates a Pipeline. A nil Parser gets the built-in decoders.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		parser:    d.Parser,
		guard:     d.Guard,
		rules:     d.Rules,
		ledger:    d.Ledger,
		accounts:  d.Accounts,
		workspace: d.Workspace,
		maxUpload: d.MaxUploadBytes,
		log:       d.Logger,
		now:       d.Now,
	}
	if p.parser == nil {
		p.parser = importer.NewParser(importer.WithLogger(d.Logger))
	}
	if p.maxUpload <= 0 {
		p.maxUpload = importer.MaxUploadBytes
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Registry returns the decoders Run dispatches to. Callers that pick files
// to import filter with it.
func (p *Pipeline) Registry() *importer.Registry {
	return p.parser.Registry()
}

// Run parses f and annotates its transactions. It does not write anything;
// pass an Ok result to Commit to persist it.
func (p *Pipeline) Run(ctx context.Context, f importer.File, opts Options) Result {
	log := p.log.With().Str("file", f.Name).Logger()

	if f.Size > p.maxUpload {
		return failed(ReasonTooLarge, fmt.Errorf("%s is %d bytes, limit is %d", f.Name, f.Size, p.maxUpload))
	}

	if !opts.Force && p.guard != nil {
		if err := p.guard.Check(ctx, f.Fingerprint()); err != nil {
			if errors.Is(err, guard.ErrDuplicateFile) {
				log.Warn().Err(err).Msg("duplicate file")
			}
			return classify(err)
		}
	}

	if opts.AccountID != 0 && p.accounts != nil && !p.accounts.Exists(opts.AccountID) {
		return failed(ReasonUnknownAccount, fmt.Errorf("unknown account %d", opts.AccountID))
	}

	txns, err := p.parse(ctx, f, opts)
	if err != nil {
		res := classify(err)
		log.Debug().Err(err).Stringer("kind", res.Kind).Msg("parse did not complete")
		return res
	}

	skipped := 0
	if p.guard != nil {
		txns, skipped, err = p.guard.FilterSeen(ctx, txns)
		if err != nil {
			return classify(err)
		}
		if skipped > 0 {
			log.Info().Int("skipped", skipped).Msg("dropped previously imported transactions")
		}
	}

	res := Result{Kind: Ok, Skipped: skipped, forced: opts.Force}
	res.Transactions, res.usage = p.annotate(txns)
	for i := range res.Transactions {
		if opts.AccountID != 0 {
			res.Transactions[i].AccountID = opts.AccountID
		}
	}
	return res
}

func (p *Pipeline) parse(ctx context.Context, f importer.File, opts Options) ([]model.ParsedTransaction, error) {
	if opts.Mapping == nil {
		return p.parser.Parse(ctx, f)
	}
	table, err := p.parser.Decode(ctx, f)
	if err != nil {
		return nil, err
	}
	return p.parser.ParseWithMapping(table, *opts.Mapping, opts.HeaderRow)
}

// annotate attaches categories, SIP links and recurring links to txns and
// returns the rule counters those matches advance.
func (p *Pipeline) annotate(txns []model.ParsedTransaction) ([]model.ParsedTransaction, usage) {
	u := usage{at: p.now()}
	if p.rules == nil {
		return txns, u
	}

	out := make([]model.ParsedTransaction, len(txns))
	catRules := p.rules.ActiveCategoryRules()
	sipRules := p.rules.ActiveSIPRules()
	u.category = make(map[string]int)
	u.sip = make(map[string]int)

	for i, txn := range txns {
		res := rules.Evaluate(catRules, txn)
		txn = rules.Categorize(txn, res)
		if res.Matched {
			u.category[res.Rule.ID]++
		}
		if sip := rules.MatchSIPRule(txn, sipRules); sip != nil {
			txn = rules.LinkSIP(txn, sip)
			u.sip[sip.ID]++
		}
		out[i] = txn
	}

	templates := p.rules.ActiveRecurring()
	out, advanced := rules.LinkRecurring(templates, out)
	for i, tmpl := range advanced {
		if !tmpl.NextDueDate.Equal(templates[i].NextDueDate) {
			u.recurring = append(u.recurring, advance{
				id:   tmpl.ID,
				from: templates[i].NextDueDate,
				to:   tmpl.NextDueDate,
			})
		}
	}
	return out, u
}

// Receipt describes a committed import.
type Receipt struct {
	ImportID string
	TxnIDs   []string
	Skipped  int
}

// Commit writes an Ok result to the ledger, stores the advanced rule
// counters, records f in the import history and appends to the activity log.
// Unless the Run was forced, the duplicate check is repeated first so that a
// file committed since the Run is rejected with guard.ErrDuplicateFile.
func (p *Pipeline) Commit(ctx context.Context, f importer.File, res Result) (Receipt, error) {
	if res.Kind != Ok {
		return Receipt{}, fmt.Errorf("cannot commit %s result", res.Kind)
	}
	log := p.log.With().Str("file", f.Name).Logger()

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	if !res.forced && p.guard != nil {
		if err := p.guard.Check(ctx, f.Fingerprint()); err != nil {
			if errors.Is(err, guard.ErrDuplicateFile) {
				log.Warn().Err(err).Msg("duplicate file at commit")
			}
			return Receipt{}, err
		}
	}

	importID := id.NewImportID()

	txnIDs, err := p.ledger.Append(res.Transactions, importID)
	if err != nil {
		return Receipt{}, fmt.Errorf("writing ledger: %w", err)
	}

	if err := p.applyUsage(res.usage); err != nil {
		return Receipt{}, err
	}

	if p.guard != nil {
		rec := guard.ImportRecord{
			Fingerprint: f.Fingerprint(),
			ImportID:    importID,
			Count:       len(txnIDs),
			ImportedAt:  p.now().UTC(),
		}
		if err := p.guard.Record(ctx, rec); err != nil {
			return Receipt{}, err
		}
		if err := p.guard.RecordTransactions(ctx, importID, res.Transactions); err != nil {
			return Receipt{}, err
		}
	}

	if p.workspace != "" {
		entry := activity.Entry{
			Timestamp: p.now(),
			Action:    activity.ActionImport,
			File:      f.Name,
			ImportID:  importID,
			Count:     len(txnIDs),
		}
		if res.Skipped > 0 {
			entry.Details = fmt.Sprintf("skipped %d already imported", res.Skipped)
		}
		if err := activity.Append(p.workspace, entry); err != nil {
			return Receipt{}, err
		}
	}

	log.Info().
		Str("import_id", importID).
		Int("transactions", len(txnIDs)).
		Int("skipped", res.Skipped).
		Msg("import committed")

	return Receipt{ImportID: importID, TxnIDs: txnIDs, Skipped: res.Skipped}, nil
}

func (p *Pipeline) applyUsage(u usage) error {
	if p.rules == nil {
		return nil
	}
	changed := false
	for ruleID, n := range u.category {
		if err := p.rules.RecordCategoryUsage(ruleID, n, u.at); err != nil {
			return err
		}
		changed = true
	}
	for ruleID, n := range u.sip {
		if err := p.rules.RecordSIPUsage(ruleID, n, u.at); err != nil {
			return err
		}
		changed = true
	}
	for _, a := range u.recurring {
		moved, err := p.rules.AdvanceRecurring(a.id, a.from, a.to)
		if err != nil {
			return err
		}
		if !moved {
			p.log.Debug().Str("template", a.id).Time("due", a.from).Msg("recurring cycle already advanced")
		}
		changed = changed || moved
	}
	if !changed {
		return nil
	}
	if err := p.rules.Save(); err != nil {
		return fmt.Errorf("saving rules: %w", err)
	}
	return nil
}
