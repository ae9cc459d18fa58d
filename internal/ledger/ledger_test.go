package ledger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/tally/internal/model"
)

type mockAccounts map[int]bool

func (m mockAccounts) Exists(id int) bool { return m[id] }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func parsed(d time.Time, desc, amount string, typ model.TxnType) model.ParsedTransaction {
	return model.ParsedTransaction{
		Date:        d,
		Description: desc,
		Amount:      dec(amount),
		Type:        typ,
		Currency:    model.DefaultCurrency,
	}
}

func TestCSVRoundTrip(t *testing.T) {
	txns := []model.StoredTransaction{
		{
			ID:       "2024-04-001",
			ImportID: "imp-1",
			ParsedTransaction: model.ParsedTransaction{
				Date:           date(2024, 4, 1),
				Description:    `NETFLIX, "PREMIUM"`,
				Amount:         dec("-199.00"),
				Type:           model.TxnExpense,
				Currency:       "INR",
				CategoryID:     "subscriptions",
				CategoryRuleID: "cat-netflix",
				RecurringID:    "netflix",
				AccountID:      1,
				Tags:           []string{"streaming", "family"},
			},
		},
		{
			ID: "2024-04-002",
			ParsedTransaction: model.ParsedTransaction{
				Date:        date(2024, 4, 5),
				Description: "SIP",
				Amount:      dec("-5000.00"),
				Type:        model.TxnInvestment,
				Currency:    "INR",
				SIPRuleID:   "mf",
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTransactions(&buf, txns))

	got, err := ReadTransactions(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range txns {
		assert.True(t, txns[i].Amount.Equal(got[i].Amount))
		got[i].Amount = txns[i].Amount
	}
	assert.Equal(t, txns, got)
}

func TestUnmarshalTransaction_Errors(t *testing.T) {
	_, err := UnmarshalTransaction([]string{"a"})
	assert.ErrorContains(t, err, "expected 13 fields")

	row := MarshalTransaction(model.StoredTransaction{ID: "2024-04-001", ParsedTransaction: parsed(date(2024, 4, 1), "x", "-1", model.TxnExpense)})
	bad := append([]string(nil), row...)
	bad[colDate] = "01/04/2024"
	_, err = UnmarshalTransaction(bad)
	assert.ErrorContains(t, err, "parsing date")

	bad = append([]string(nil), row...)
	bad[colAmount] = "lots"
	_, err = UnmarshalTransaction(bad)
	assert.ErrorContains(t, err, "parsing amount")
}

func TestAppend_AssignsSequentialIDs(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, mockAccounts{1: true})

	ids, err := svc.Append([]model.ParsedTransaction{
		parsed(date(2024, 4, 1), "NETFLIX", "-199", model.TxnExpense),
		parsed(date(2024, 5, 2), "SALARY", "125000", model.TxnIncome),
		parsed(date(2024, 4, 3), "SWIGGY", "-250", model.TxnExpense),
	}, "imp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-04-001", "2024-05-001", "2024-04-002"}, ids)

	assert.FileExists(t, filepath.Join(dir, "ledger", "2024", "04", "transactions.csv"))

	ids, err = svc.Append([]model.ParsedTransaction{
		parsed(date(2024, 4, 20), "UBER", "-300", model.TxnExpense),
	}, "imp-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-04-003"}, ids)

	april, err := svc.ReadMonth(2024, 4)
	require.NoError(t, err)
	require.Len(t, april, 3)
	assert.Equal(t, "imp-1", april[0].ImportID)
	assert.Equal(t, "imp-2", april[2].ImportID)
	assert.Empty(t, ValidateMonth(april, mockAccounts{1: true}, 2024, 4))
}

func TestAppend_ValidationRejectsBatch(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, mockAccounts{1: true})

	bad := parsed(date(2024, 4, 2), "", "-10", model.TxnExpense)
	unknownAcct := parsed(date(2024, 4, 2), "X", "-10", model.TxnExpense)
	unknownAcct.AccountID = 9

	_, err := svc.Append([]model.ParsedTransaction{
		parsed(date(2024, 4, 1), "OK", "-10", model.TxnExpense),
		bad,
		unknownAcct,
	}, "imp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty description")
	assert.Contains(t, err.Error(), "unknown account 9")

	_, statErr := os.Stat(filepath.Join(dir, "ledger", "2024", "04", "transactions.csv"))
	assert.True(t, os.IsNotExist(statErr), "nothing written")
}

func TestValidateTransaction(t *testing.T) {
	tests := []struct {
		name string
		txn  model.ParsedTransaction
		want string
	}{
		{"positive expense", parsed(date(2024, 4, 1), "X", "10", model.TxnExpense), "sign"},
		{"unknown type", parsed(date(2024, 4, 1), "X", "-10", "transfer"), "type"},
		{"zero date", parsed(time.Time{}, "X", "-10", model.TxnExpense), "date"},
		{"precision", parsed(date(2024, 4, 1), "X", "-10.005", model.TxnExpense), "precision"},
	}
	for _, tt := range tests {
		errs := validateTransaction("t", tt.txn, nil)
		require.Len(t, errs, 1, tt.name)
		assert.Equal(t, tt.want, errs[0].Invariant, tt.name)
	}

	mixed := parsed(date(2024, 4, 1), "DEBIT AND CREDIT", "-60", model.TxnIncome)
	assert.Empty(t, validateTransaction("t", mixed, nil))
}

func TestValidateMonth(t *testing.T) {
	txns := []model.StoredTransaction{
		{ID: "2024-04-001", ParsedTransaction: parsed(date(2024, 4, 1), "A", "-1", model.TxnExpense)},
		{ID: "2024-04-001", ParsedTransaction: parsed(date(2024, 4, 2), "B", "-1", model.TxnExpense)},
		{ID: "2024-05-003", ParsedTransaction: parsed(date(2024, 5, 2), "C", "-1", model.TxnExpense)},
	}
	errs := ValidateMonth(txns, nil, 2024, 4)
	require.Len(t, errs, 3)
	assert.Equal(t, "id", errs[0].Invariant)
	assert.Contains(t, errs[0].Error(), "duplicate id")
	assert.Equal(t, "month", errs[1].Invariant)
	assert.Equal(t, "id", errs[2].Invariant)
}

func TestReadAllAndMonths(t *testing.T) {
	svc := NewService(t.TempDir(), nil)
	_, err := svc.Append([]model.ParsedTransaction{
		parsed(date(2024, 12, 31), "NYE", "-500", model.TxnExpense),
		parsed(date(2025, 1, 1), "NY", "-100", model.TxnExpense),
		parsed(date(2024, 3, 15), "MARCH", "-50", model.TxnExpense),
	}, "imp-1")
	require.NoError(t, err)

	months, err := svc.Months()
	require.NoError(t, err)
	assert.Equal(t, []Month{{2024, 3}, {2024, 12}, {2025, 1}}, months)

	all, err := svc.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "MARCH", all[0].Description)
	assert.Equal(t, "NY", all[2].Description)
}

func TestReadAll_Empty(t *testing.T) {
	all, err := NewService(t.TempDir(), nil).ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdate(t *testing.T) {
	svc := NewService(t.TempDir(), nil)
	_, err := svc.Append([]model.ParsedTransaction{
		parsed(date(2024, 4, 1), "HP PETROL", "-1500", model.TxnExpense),
		parsed(date(2024, 4, 2), "SWIGGY", "-250", model.TxnExpense),
	}, "imp-1")
	require.NoError(t, err)

	april, err := svc.ReadMonth(2024, 4)
	require.NoError(t, err)
	april[0].CategoryID = "fuel"
	april[0].CategoryRuleID = "hp"
	require.NoError(t, svc.Update(april[0]))

	got, err := svc.ReadMonth(2024, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fuel", got[0].CategoryID)
	assert.Equal(t, "hp", got[0].CategoryRuleID)
	assert.Equal(t, "SWIGGY", got[1].Description)
	assert.NoFileExists(t, filepath.Join(svc.root, "2024", "04", "transactions.csv.tmp"))
}

func TestUpdate_Errors(t *testing.T) {
	svc := NewService(t.TempDir(), nil)
	_, err := svc.Append([]model.ParsedTransaction{parsed(date(2024, 4, 1), "A", "-1", model.TxnExpense)}, "imp-1")
	require.NoError(t, err)

	missing := model.StoredTransaction{ID: "2024-04-009", ParsedTransaction: parsed(date(2024, 4, 1), "A", "-1", model.TxnExpense)}
	assert.ErrorContains(t, svc.Update(missing), "2024-04-009")

	assert.Error(t, svc.Update(model.StoredTransaction{ID: "garbage"}))

	invalid, err := svc.ReadMonth(2024, 4)
	require.NoError(t, err)
	invalid[0].Amount = dec("5")
	assert.ErrorContains(t, svc.Update(invalid[0]), "validation failed")
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2024-04")
	require.NoError(t, err)
	assert.Equal(t, Month{2024, 4}, m)
	assert.Equal(t, "2024-04", m.String())

	for _, bad := range []string{"2024", "2024-13", "abcd-01", "2024-xx"} {
		_, err := ParseMonth(bad)
		assert.Error(t, err, bad)
	}
}
