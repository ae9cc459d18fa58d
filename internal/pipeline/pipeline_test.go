package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/tally/internal/accounts"
	"github.com/cleared-dev/tally/internal/activity"
	"github.com/cleared-dev/tally/internal/guard"
	"github.com/cleared-dev/tally/internal/header"
	"github.com/cleared-dev/tally/internal/importer"
	"github.com/cleared-dev/tally/internal/ledger"
	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/rulestore"
)

const aprilCSV = `Date,Narration,Withdrawal,Deposit
01/04/2024,NETFLIX SUBSCRIPTION,199.00,
03/04/2024,SALARY APR ACME,,125000.00
05/04/2024,ACH D- PPFAS MUTUAL FUND,5000.00,
07/04/2024,UPI-SWIGGY-ORDER,456.50,
09/04/2024,UPI-SWIGGY-DINNER,300.00,
`

var (
	fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	modTime  = time.Date(2024, 4, 30, 18, 0, 0, 0, time.UTC)
)

func statement(name, body string) importer.File {
	return importer.File{
		Name:    name,
		Size:    int64(len(body)),
		ModTime: modTime,
		Body:    strings.NewReader(body),
	}
}

type fixture struct {
	dir    string
	rules  *rulestore.Store
	ledger *ledger.Service
	store  *guard.MemoryStore
	guard  *guard.Guard
	p      *Pipeline
}

func newFixture(t *testing.T, prefs guard.Prefs, parser *importer.Parser) *fixture {
	t.Helper()
	dir := t.TempDir()

	rs := rulestore.New(dir)
	require.NoError(t, rs.AddCategoryRule(model.CategoryRule{
		ID: "netflix", Pattern: "netflix", MatchType: model.MatchContains, CategoryID: "subscriptions", Active: true,
	}))
	require.NoError(t, rs.AddCategoryRule(model.CategoryRule{
		ID: "swiggy", Pattern: "swiggy", MatchType: model.MatchContains, CategoryID: "food", Active: true,
	}))
	require.NoError(t, rs.AddSIPRule(model.SIPRule{
		ID: "ppfas", Pattern: "MUTUAL", MatchType: model.MatchContains,
		Amount: decimal.NewFromInt(5000), AmountTolerance: decimal.NewFromInt(2),
		ExpectedDay: 5, DateTolerance: 3, AssetID: "ppfas-flexi", Active: true,
	}))
	require.NoError(t, rs.AddRecurring(model.RecurringTransaction{
		ID: "netflix", Name: "Netflix", Amount: decimal.NewFromInt(199),
		NextDueDate: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		Frequency:   model.FrequencyMonthly, CategoryID: "subscriptions", Active: true,
	}))

	accts := accounts.NewService(accounts.DefaultAccounts("HDFC"))
	led := ledger.NewService(dir, accts)
	store := guard.NewMemoryStore()
	g := guard.New(store, prefs)

	p := New(Deps{
		Parser:    parser,
		Guard:     g,
		Rules:     rs,
		Ledger:    led,
		Accounts:  accts,
		Workspace: dir,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return fixedNow },
	})
	return &fixture{dir: dir, rules: rs, ledger: led, store: store, guard: g, p: p}
}

func byDescription(txns []model.ParsedTransaction) map[string]model.ParsedTransaction {
	m := make(map[string]model.ParsedTransaction, len(txns))
	for _, t := range txns {
		m[t.Description] = t
	}
	return m
}

func TestRun_AnnotatesTransactions(t *testing.T) {
	fx := newFixture(t, guard.DefaultPrefs(), nil)

	res := fx.p.Run(context.Background(), statement("april.csv", aprilCSV), Options{AccountID: 1})
	require.Equal(t, Ok, res.Kind, "err: %v", res.Err)
	require.Len(t, res.Transactions, 5)

	got := byDescription(res.Transactions)

	netflix := got["NETFLIX SUBSCRIPTION"]
	assert.True(t, netflix.Amount.Equal(decimal.RequireFromString("-199")))
	assert.Equal(t, model.TxnExpense, netflix.Type)
	assert.Equal(t, "subscriptions", netflix.CategoryID)
	assert.Equal(t, "netflix", netflix.CategoryRuleID)
	assert.Equal(t, "netflix", netflix.RecurringID)

	salary := got["SALARY APR ACME"]
	assert.Equal(t, model.TxnIncome, salary.Type)
	assert.Equal(t, "uncategorized", salary.CategoryID)
	assert.Empty(t, salary.CategoryRuleID)

	sip := got["ACH D- PPFAS MUTUAL FUND"]
	assert.Equal(t, model.TxnInvestment, sip.Type)
	assert.Equal(t, "ppfas", sip.SIPRuleID)

	assert.Equal(t, "food", got["UPI-SWIGGY-ORDER"].CategoryID)
	assert.Equal(t, "food", got["UPI-SWIGGY-DINNER"].CategoryID)

	for _, txn := range res.Transactions {
		assert.Equal(t, 1, txn.AccountID)
	}
}

func TestRun_DoesNotWrite(t *testing.T) {
	fx := newFixture(t, guard.DefaultPrefs(), nil)

	res := fx.p.Run(context.Background(), statement("april.csv", aprilCSV), Options{})
	require.Equal(t, Ok, res.Kind)

	months, err := fx.ledger.Months()
	require.NoError(t, err)
	assert.Empty(t, months)
	for _, r := range fx.rules.CategoryRules() {
		assert.Zero(t, r.MatchCount, r.ID)
	}
	imported, err := fx.guard.IsFileAlreadyImported(context.Background(), statement("april.csv", aprilCSV).Fingerprint())
	require.NoError(t, err)
	assert.False(t, imported)
}

func TestCommit_PersistsEverything(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	f := statement("april.csv", aprilCSV)

	res := fx.p.Run(ctx, f, Options{AccountID: 1})
	require.Equal(t, Ok, res.Kind)

	receipt, err := fx.p.Commit(ctx, f, res)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ImportID)
	assert.Equal(t, []string{"2024-04-001", "2024-04-002", "2024-04-003", "2024-04-004", "2024-04-005"}, receipt.TxnIDs)

	stored, err := fx.ledger.ReadMonth(2024, 4)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	assert.Equal(t, receipt.ImportID, stored[0].ImportID)
	assert.Equal(t, "subscriptions", stored[0].CategoryID)

	cats := fx.rules.CategoryRules()
	require.Len(t, cats, 2)
	assert.Equal(t, 1, cats[0].MatchCount)
	assert.Equal(t, 2, cats[1].MatchCount)
	assert.True(t, cats[1].LastUsed.Equal(fixedNow))

	sips := fx.rules.SIPRules()
	require.Len(t, sips, 1)
	assert.Equal(t, 1, sips[0].MatchCount)

	recurring := fx.rules.Recurring()
	require.Len(t, recurring, 1)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), recurring[0].NextDueDate)

	reloaded, err := rulestore.Load(fx.dir)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CategoryRules()[1].MatchCount)

	imported, err := fx.guard.IsFileAlreadyImported(ctx, f.Fingerprint())
	require.NoError(t, err)
	assert.True(t, imported)

	entries, err := activity.Read(fx.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, activity.ActionImport, entries[0].Action)
	assert.Equal(t, "april.csv", entries[0].File)
	assert.Equal(t, 5, entries[0].Count)
}

func TestCommit_RejectsNonOk(t *testing.T) {
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	_, err := fx.p.Commit(context.Background(), statement("x.csv", ""), Result{Kind: NeedsMapping})
	assert.ErrorContains(t, err, "needs_mapping")
}

func TestRun_DuplicateFile(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)

	first := fx.p.Run(ctx, statement("april.csv", aprilCSV), Options{})
	require.Equal(t, Ok, first.Kind)
	_, err := fx.p.Commit(ctx, statement("april.csv", aprilCSV), first)
	require.NoError(t, err)

	again := fx.p.Run(ctx, statement("april.csv", aprilCSV), Options{})
	assert.Equal(t, Failed, again.Kind)
	assert.Equal(t, ReasonDuplicate, again.Reason)
	assert.ErrorIs(t, again.Err, guard.ErrDuplicateFile)

	stored, err := fx.ledger.ReadMonth(2024, 4)
	require.NoError(t, err)
	assert.Len(t, stored, 5, "second run must not add rows")

	forced := fx.p.Run(ctx, statement("april.csv", aprilCSV), Options{Force: true})
	assert.Equal(t, Ok, forced.Kind)
}

func TestCommit_RechecksDuplicateAfterRun(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	f := statement("april.csv", aprilCSV)

	first := fx.p.Run(ctx, f, Options{})
	second := fx.p.Run(ctx, statement("april.csv", aprilCSV), Options{})
	require.Equal(t, Ok, first.Kind)
	require.Equal(t, Ok, second.Kind)

	_, err := fx.p.Commit(ctx, f, first)
	require.NoError(t, err)
	_, err = fx.p.Commit(ctx, f, second)
	require.ErrorIs(t, err, guard.ErrDuplicateFile)

	stored, err := fx.ledger.ReadMonth(2024, 4)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
	assert.Equal(t, 1, fx.rules.CategoryRules()[0].MatchCount)

	entries, err := activity.Read(fx.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommit_ForcedRunSkipsRecheck(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	f := statement("april.csv", aprilCSV)

	first := fx.p.Run(ctx, f, Options{})
	forced := fx.p.Run(ctx, f, Options{Force: true})
	_, err := fx.p.Commit(ctx, f, first)
	require.NoError(t, err)
	_, err = fx.p.Commit(ctx, f, forced)
	require.NoError(t, err)

	stored, err := fx.ledger.ReadMonth(2024, 4)
	require.NoError(t, err)
	assert.Len(t, stored, 10)
}

func TestCommit_UsageAccumulatesAcrossPendingRuns(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	march := "Date,Narration,Withdrawal,Deposit\n02/03/2024,NETFLIX SUBSCRIPTION,199.00,\n"
	april := statement("april.csv", aprilCSV)
	other := statement("march.csv", march)

	a := fx.p.Run(ctx, april, Options{})
	b := fx.p.Run(ctx, other, Options{})
	require.Equal(t, Ok, a.Kind)
	require.Equal(t, Ok, b.Kind)

	_, err := fx.p.Commit(ctx, april, a)
	require.NoError(t, err)
	_, err = fx.p.Commit(ctx, other, b)
	require.NoError(t, err)

	cats := fx.rules.CategoryRules()
	assert.Equal(t, 2, cats[0].MatchCount, "netflix matched once in each statement")
	assert.Equal(t, 2, cats[1].MatchCount)

	reloaded, err := rulestore.Load(fx.dir)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CategoryRules()[0].MatchCount)
}

func TestCommit_ConcurrentDuplicateUploads(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := statement("april.csv", aprilCSV)
			res := fx.p.Run(ctx, f, Options{})
			if res.Kind != Ok {
				errs[i] = res.Err
				return
			}
			_, errs[i] = fx.p.Commit(ctx, statement("april.csv", aprilCSV), res)
		}()
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		assert.ErrorIs(t, err, guard.ErrDuplicateFile)
	}
	assert.Equal(t, 1, committed)

	stored, err := fx.ledger.ReadMonth(2024, 4)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestCommit_FractionalPaiseStatement(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	body := "Date,Narration,Amount\n01/04/2024,INTEREST,10.125\n02/04/2024,FEE,-99.990000000000009\n"
	f := statement("interest.csv", body)

	res := fx.p.Run(ctx, f, Options{})
	require.Equal(t, Ok, res.Kind, "err: %v", res.Err)

	_, err := fx.p.Commit(ctx, f, res)
	require.NoError(t, err)

	stored, err := fx.ledger.ReadMonth(2024, 4)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "10.13", stored[0].Amount.StringFixed(2))
	assert.Equal(t, "-99.99", stored[1].Amount.StringFixed(2))
}

func TestRun_DetectionDisabledAllowsReimport(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.Prefs{Enabled: false}, nil)

	for i := 0; i < 2; i++ {
		res := fx.p.Run(ctx, statement("april.csv", aprilCSV), Options{})
		require.Equal(t, Ok, res.Kind, "run %d", i)
		_, err := fx.p.Commit(ctx, statement("april.csv", aprilCSV), res)
		require.NoError(t, err)
	}

	stored, err := fx.ledger.ReadMonth(2024, 4)
	require.NoError(t, err)
	assert.Len(t, stored, 10)
}

func TestRun_TransactionLevelSkipsSeenRows(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.Prefs{Enabled: true, TransactionLevel: true}, nil)

	res := fx.p.Run(ctx, statement("april.csv", aprilCSV), Options{})
	require.Equal(t, Ok, res.Kind)
	_, err := fx.p.Commit(ctx, statement("april.csv", aprilCSV), res)
	require.NoError(t, err)

	overlap := aprilCSV + "12/04/2024,UPI-ZEPTO,250.00,\n"
	res = fx.p.Run(ctx, statement("april-full.csv", overlap), Options{})
	require.Equal(t, Ok, res.Kind)
	assert.Equal(t, 5, res.Skipped)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "UPI-ZEPTO", res.Transactions[0].Description)

	receipt, err := fx.p.Commit(ctx, statement("april-full.csv", overlap), res)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-04-006"}, receipt.TxnIDs)
	assert.Equal(t, 5, receipt.Skipped)
}

func TestRun_NeedsMappingThenMapped(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	body := "01/04/2024,NETFLIX,-199.00\n02/04/2024,REFUND,50.00\n"

	res := fx.p.Run(ctx, statement("bare.csv", body), Options{})
	require.Equal(t, NeedsMapping, res.Kind)
	assert.Len(t, res.Table, 2)
	assert.ErrorIs(t, res.Err, importer.ErrHeaderDetection)

	m := header.NewMapping()
	m.Assign(header.FieldDate, 0)
	m.Assign(header.FieldDescription, 1)
	m.Assign(header.FieldAmount, 2)

	res = fx.p.Run(ctx, statement("bare.csv", body), Options{Mapping: &m, HeaderRow: -1})
	require.Equal(t, Ok, res.Kind, "err: %v", res.Err)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "subscriptions", res.Transactions[0].CategoryID)
	assert.Equal(t, model.TxnIncome, res.Transactions[1].Type)
}

func TestRun_InvalidMapping(t *testing.T) {
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	m := header.NewMapping()
	m.Assign(header.FieldDate, 0)

	res := fx.p.Run(context.Background(), statement("bare.csv", "01/04/2024,X,1\n"), Options{Mapping: &m, HeaderRow: -1})
	assert.Equal(t, Failed, res.Kind)
	assert.Equal(t, ReasonInvalidMapping, res.Reason)
}

// lockedDecoder stands in for an encrypted PDF.
type lockedDecoder struct {
	password string
	table    model.RawTable
}

func (d *lockedDecoder) Extensions() []string { return []string{".pdf"} }

func (d *lockedDecoder) Decode(_ context.Context, src importer.Source) (model.RawTable, error) {
	switch src.Password {
	case "":
		return nil, importer.ErrPasswordRequired
	case d.password:
		return d.table, nil
	default:
		return nil, importer.ErrIncorrectPassword
	}
}

func TestRun_PasswordFlow(t *testing.T) {
	ctx := context.Background()
	reg := importer.NewRegistry()
	reg.Register(&importer.CSVDecoder{})
	reg.Register(&lockedDecoder{
		password: "DOB0101",
		table: model.RawTable{
			{"Date", "Description", "Amount"},
			{"01/04/2024", "NETFLIX", "-199.00"},
		},
	})
	fx := newFixture(t, guard.DefaultPrefs(), importer.NewParser(importer.WithRegistry(reg)))
	assert.Same(t, reg, fx.p.Registry())

	f := statement("statement.pdf", "%PDF-1.7")
	res := fx.p.Run(ctx, f, Options{})
	require.Equal(t, NeedsPassword, res.Kind)
	assert.False(t, res.Retry)

	f = statement("statement.pdf", "%PDF-1.7")
	f.Password = "guess"
	res = fx.p.Run(ctx, f, Options{})
	require.Equal(t, NeedsPassword, res.Kind)
	assert.True(t, res.Retry)

	f = statement("statement.pdf", "%PDF-1.7")
	f.Password = "DOB0101"
	res = fx.p.Run(ctx, f, Options{})
	require.Equal(t, Ok, res.Kind, "err: %v", res.Err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "subscriptions", res.Transactions[0].CategoryID)
}

func TestRun_Failures(t *testing.T) {
	fx := newFixture(t, guard.DefaultPrefs(), nil)
	ctx := context.Background()

	big := statement("big.csv", aprilCSV)
	big.Size = importer.MaxUploadBytes + 1
	res := fx.p.Run(ctx, big, Options{})
	assert.Equal(t, ReasonTooLarge, res.Reason)

	res = fx.p.Run(ctx, statement("notes.txt", "hello"), Options{})
	assert.Equal(t, Failed, res.Kind)
	assert.Equal(t, ReasonUnsupported, res.Reason)

	res = fx.p.Run(ctx, statement("april.csv", aprilCSV), Options{AccountID: 9})
	assert.Equal(t, ReasonUnknownAccount, res.Reason)

	empty := "Date,Narration,Amount\nTOTAL,,\n"
	res = fx.p.Run(ctx, statement("empty.csv", empty), Options{})
	assert.Equal(t, ReasonNoTransactions, res.Reason)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ReasonCanceled, classify(context.Canceled).Reason)
	assert.Equal(t, ReasonError, classify(errors.New("boom")).Reason)
	assert.Equal(t, ReasonEncryption, classify(fmt.Errorf("%w: V=5", importer.ErrUnsupportedEncryption)).Reason)
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "needs_password", NeedsPassword.String())
}

func TestSession_DiscardsStaleResults(t *testing.T) {
	var s Session
	_, ok := s.Latest()
	assert.False(t, ok)

	first := s.Begin()
	second := s.Begin()

	assert.True(t, s.Complete(second, Result{Kind: NeedsPassword}))
	assert.False(t, s.Complete(first, Result{Kind: Ok}), "stale generation must be dropped")

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, NeedsPassword, latest.Kind)
}

func TestSession_ConcurrentRuns(t *testing.T) {
	var s Session
	gens := make([]uint64, 20)
	for i := range gens {
		gens[i] = s.Begin()
	}

	var wg sync.WaitGroup
	accepted := make(chan uint64, len(gens))
	for _, g := range gens {
		wg.Add(1)
		go func(g uint64) {
			defer wg.Done()
			if s.Complete(g, Result{Kind: Ok, Skipped: int(g)}) {
				accepted <- g
			}
		}(g)
	}
	wg.Wait()
	close(accepted)

	var got []uint64
	for g := range accepted {
		got = append(got, g)
	}
	assert.Equal(t, []uint64{gens[len(gens)-1]}, got)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, int(gens[len(gens)-1]), latest.Skipped)
}

func TestRegistry_DrivesScan(t *testing.T) {
	reg := importer.NewRegistry()
	reg.Register(&importer.CSVDecoder{})
	fx := newFixture(t, guard.DefaultPrefs(), importer.NewParser(importer.WithRegistry(reg)))

	importDir := filepath.Join(fx.dir, "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))
	for _, name := range []string{"april.csv", "april.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(importDir, name), []byte(aprilCSV), 0o644))
	}

	files, err := importer.Scan(fx.dir, fx.p.Registry())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "april.csv", files[0].Name)
}
