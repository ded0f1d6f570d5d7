package commands_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/journal"
)

type line map[string]any

func sale(date string, amount string) map[string]any {
	return map[string]any{
		"type": "journal",
		"date": date,
		"lines": []line{
			{"account_code": "1000.01", "debit": amount},
			{"account_code": "4000.01", "credit": amount},
		},
	}
}

func writeJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vouchers.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type postedView struct {
	ID          uuid.UUID `json:"id"`
	Number      string    `json:"number"`
	Status      string    `json:"status"`
	Currency    string    `json:"currency"`
	Rate        string    `json:"exchange_rate"`
	TotalDebit  string    `json:"total_debit"`
	TotalCredit string    `json:"total_credit"`
}

func decodeAll[T any](t *testing.T, out string) []T {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(out))
	var all []T
	for dec.More() {
		var v T
		require.NoError(t, dec.Decode(&v))
		all = append(all, v)
	}
	return all
}

func TestVoucher_Post(t *testing.T) {
	dir := newProject(t)
	file := writeJSON(t, []map[string]any{sale("2025-02-10", "250"), sale("2025-02-11", "80.50")})

	out, err := runLedger(t, "-C", dir, "voucher", "post", file)
	require.NoError(t, err)

	posted := decodeAll[postedView](t, out)
	require.Len(t, posted, 2)
	assert.Equal(t, "JV-FY2025-00001", posted[0].Number)
	assert.Equal(t, "JV-FY2025-00002", posted[1].Number)
	assert.Equal(t, "posted", posted[0].Status)
	assert.Equal(t, "USD", posted[0].Currency)
	assert.Equal(t, "250.00", posted[0].TotalDebit)
	assert.Equal(t, "80.50", posted[1].TotalCredit)
}

func TestVoucher_PostWithTaxAndForeignCurrency(t *testing.T) {
	dir := newProject(t)
	editConfig(t, dir, func(cfg *config.Config) {
		cfg.Tenants[0].TaxCodes = []config.TaxCodeConfig{{ID: "VAT13", Rate: "13", EffectiveFrom: "2025-01-01"}}
		cfg.Rates = []config.RateConfig{{From: "EUR", To: "USD", Date: "2025-06-01", Rate: "1.1"}}
	})

	file := writeJSON(t, map[string]any{
		"type":            "invoice",
		"date":            "2025-06-15",
		"currency":        "eur",
		"idempotency_key": "inv-42",
		"lines": []line{
			{"account_code": "1000.03", "debit": "113"},
			{"account_code": "4000.01", "credit": "100", "tax_codes": []string{"VAT13"}},
			{"account_code": "2000.02", "credit": "13"},
		},
	})

	out, err := runLedger(t, "-C", dir, "voucher", "post", file)
	require.NoError(t, err)

	posted := decodeAll[postedView](t, out)
	require.Len(t, posted, 1)
	assert.Equal(t, "INV-FY2025-00001", posted[0].Number)
	assert.Equal(t, "EUR", posted[0].Currency)
	assert.Equal(t, "1.1", posted[0].Rate)
	assert.Equal(t, "113.00", posted[0].TotalDebit)
}

func TestVoucher_PostFailures(t *testing.T) {
	tests := []struct {
		name    string
		voucher map[string]any
		want    string
	}{
		{"unbalanced", map[string]any{
			"type": "journal", "date": "2025-02-10",
			"lines": []line{{"account_code": "1000.01", "debit": "10"}, {"account_code": "4000.01", "credit": "9"}},
		}, "UNBALANCED"},
		{"no rate", map[string]any{
			"type": "journal", "date": "2025-02-10", "currency": "GBP",
			"lines": []line{{"account_code": "1000.01", "debit": "10"}, {"account_code": "4000.01", "credit": "10"}},
		}, "NO_RATE_AVAILABLE"},
		{"outside any period", sale("2027-01-01", "10"), "PERIOD_NOT_FOUND"},
		{"missing dimension", map[string]any{
			"type": "journal", "date": "2025-02-10",
			"lines": []line{{"account_code": "5000.01", "debit": "10"}, {"account_code": "1000.01", "credit": "10"}},
		}, "DIMENSION_REQUIRED"},
		{"unknown account code", map[string]any{
			"type": "journal", "date": "2025-02-10",
			"lines": []line{{"account_code": "9999", "debit": "10"}, {"account_code": "1000.01", "credit": "10"}},
		}, "ACCOUNT_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newProject(t)
			_, err := runLedger(t, "-C", dir, "voucher", "post", writeJSON(t, tt.voucher))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVoucher_PostKeyNeedsSingleVoucher(t *testing.T) {
	dir := newProject(t)
	file := writeJSON(t, []map[string]any{sale("2025-02-10", "1"), sale("2025-02-10", "2")})
	_, err := runLedger(t, "-C", dir, "voucher", "post", file, "--post-key", "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--post-key needs exactly one voucher, got 2")
}

type checkView struct {
	Source    string `json:"source"`
	VoucherID string `json:"voucher_id"`
	Status    string `json:"status"`
	Valid     bool   `json:"valid"`
	Errors    []struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	} `json:"errors"`
}

func TestVoucher_Check(t *testing.T) {
	dir := newProject(t)
	noDate := sale("", "5")
	delete(noDate, "date")
	file := writeJSON(t, []map[string]any{
		sale("2025-02-10", "50"),
		{
			"type": "journal", "date": "2025-02-10",
			"lines": []line{{"account_code": "1000.01", "debit": "10"}, {"account_code": "4000.01", "credit": "9"}},
		},
		noDate,
		{
			"type": "journal", "date": "2025-02-10",
			"lines": []line{{"account_code": "1000.01", "debit": "10"}, {"account_code": "4999", "credit": "10"}},
		},
	})

	out, err := runLedger(t, "-C", dir, "voucher", "check", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 of 4 vouchers failed validation")

	reports := decodeAll[checkView](t, out)
	require.Len(t, reports, 4)
	assert.Equal(t, "vouchers.json#1", reports[0].Source)
	assert.Equal(t, "vouchers.json#4", reports[3].Source)

	assert.True(t, reports[0].Valid)
	assert.Equal(t, "validated", reports[0].Status)
	assert.NotEmpty(t, reports[0].VoucherID)
	assert.Empty(t, reports[0].Errors)

	assert.False(t, reports[1].Valid)
	assert.Equal(t, "draft", reports[1].Status)
	require.Len(t, reports[1].Errors, 1)
	assert.Equal(t, "UNBALANCED", reports[1].Errors[0].Code)

	assert.False(t, reports[2].Valid)
	assert.Empty(t, reports[2].VoucherID)
	require.NotEmpty(t, reports[2].Errors)
	assert.Equal(t, "INVALID_PAYLOAD", reports[2].Errors[0].Code)
	assert.Equal(t, "date", reports[2].Errors[0].Field)

	require.Len(t, reports[3].Errors, 1)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", reports[3].Errors[0].Code)
	assert.Equal(t, "lines[1].account_code", reports[3].Errors[0].Field)
}

func TestVoucher_CheckAllValid(t *testing.T) {
	dir := newProject(t)
	out, err := runLedger(t, "-C", dir, "voucher", "check", writeJSON(t, sale("2025-02-10", "50")))
	require.NoError(t, err)
	reports := decodeAll[checkView](t, out)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Valid)
}

func TestVoucher_NextNumber(t *testing.T) {
	dir := newProject(t)
	editConfig(t, dir, func(cfg *config.Config) {
		cfg.Tenants[0].Sequences = map[string]config.SequenceConfig{"payment": {Prefix: "PMT", Padding: 3}}
	})

	out, err := runLedger(t, "-C", dir, "voucher", "next-number", "payment", "--date", "2025-05-01")
	require.NoError(t, err)
	assert.Equal(t, "PMT-FY2025-001\n", out)
}

func TestVoucher_UnknownID(t *testing.T) {
	dir := newProject(t)
	id := uuid.NewString()
	for _, args := range [][]string{
		{"voucher", "show", id},
		{"voucher", "reverse", id},
		{"voucher", "reject", id, "--reason", "duplicate"},
		{"voucher", "resubmit", id},
	} {
		_, err := runLedger(t, append([]string{"-C", dir}, args...)...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "VOUCHER_NOT_FOUND", args)
	}

	_, err := runLedger(t, "-C", dir, "voucher", "show", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid voucher id")
}

func TestVoucher_PostInbox(t *testing.T) {
	dir := newProject(t)
	inbox := filepath.Join(dir, "vouchers")
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "journal_2025-02-10_rent.csv"), []byte(
		"line_no,account_code,description,debit,credit,tax_codes,tax_inclusive,tax_amount,cost_center,department,project\n"+
			"1,5000.02,February rent,1200.00,,,,,,,\n"+
			"2,1000.01,February rent,,1200.00,,,,,,\n"), 0o644))
	data, err := json.Marshal(sale("2025-02-11", "40"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "sale.json"), data, 0o644))

	out, err := runLedger(t, "-C", dir, "voucher", "post")
	require.NoError(t, err)

	posted := decodeAll[postedView](t, out)
	require.Len(t, posted, 2)
	assert.Equal(t, "JV-FY2025-00001", posted[0].Number)
	assert.Equal(t, "1200.00", posted[0].TotalDebit)
	assert.Equal(t, "JV-FY2025-00002", posted[1].Number)

	for _, name := range []string{"journal_2025-02-10_rent.csv", "sale.json"} {
		_, err := os.Stat(filepath.Join(inbox, "processed", name))
		assert.NoError(t, err, name)
		_, err = os.Stat(filepath.Join(inbox, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	_, err = runLedger(t, "-C", dir, "voucher", "post")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inbox is empty")
}

func TestVoucher_PostInboxKeepsFailedFile(t *testing.T) {
	dir := newProject(t)
	inbox := filepath.Join(dir, "vouchers")
	data, err := json.Marshal(sale("2030-01-01", "40"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "late.json"), data, 0o644))

	_, err = runLedger(t, "-C", dir, "voucher", "post")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "late.json: ")
	assert.Contains(t, err.Error(), "PERIOD_NOT_FOUND")

	_, err = os.Stat(filepath.Join(inbox, "late.json"))
	assert.NoError(t, err)
}

func TestVoucher_StatePersistsAcrossRuns(t *testing.T) {
	dir := newProject(t)

	out, err := runLedger(t, "-C", dir, "voucher", "post", writeJSON(t, sale("2025-02-10", "250")))
	require.NoError(t, err)
	first := decodeAll[postedView](t, out)
	require.Len(t, first, 1)
	assert.Equal(t, "JV-FY2025-00001", first[0].Number)
	assert.FileExists(t, filepath.Join(dir, "ledger", "state.json"))

	out, err = runLedger(t, "-C", dir, "voucher", "post", writeJSON(t, sale("2025-02-11", "80.50")))
	require.NoError(t, err)
	second := decodeAll[postedView](t, out)
	require.Len(t, second, 1)
	assert.Equal(t, "JV-FY2025-00002", second[0].Number)

	out, err = runLedger(t, "-C", dir, "voucher", "show", first[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "posted"`)

	out, err = runLedger(t, "-C", dir, "accounts", "balance", "1000.01", "--as-of", "2025-06-30")
	require.NoError(t, err)
	var snap struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.True(t, decimal.RequireFromString("330.50").Equal(snap.Balance), snap.Balance.String())

	out, err = runLedger(t, "-C", dir, "voucher", "reverse", first[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"number": "JV-FY2025-00003"`)

	out, err = runLedger(t, "-C", dir, "voucher", "show", first[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "reversed"`)
}

func TestVoucher_Export(t *testing.T) {
	dir := newProject(t)
	v := sale("2025-02-10", "120")
	v["lines"] = []line{
		{"account_code": "1000.01", "debit": "120", "description": "till", "dimensions": map[string]any{"cost_center": "CC1"}},
		{"account_code": "4000.01", "credit": "120"},
	}
	out, err := runLedger(t, "-C", dir, "voucher", "post", writeJSON(t, v))
	require.NoError(t, err)
	posted := decodeAll[postedView](t, out)
	require.Len(t, posted, 1)
	id := posted[0].ID.String()

	out, err = runLedger(t, "-C", dir, "voucher", "export", id)
	require.NoError(t, err)
	assert.Equal(t, journal.Header+"\n"+
		"1,1000.01,till,120.00,,,,,CC1,,\n"+
		"2,4000.01,,,120.00,,,,,,\n", out)

	path := filepath.Join(t.TempDir(), "lines.csv")
	_, err = runLedger(t, "-C", dir, "voucher", "export", id, path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))

	_, err = runLedger(t, "-C", dir, "voucher", "export", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VOUCHER_NOT_FOUND")
}
