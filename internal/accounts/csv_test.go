package accounts

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/model"
)

func TestRoundTrip(t *testing.T) {
	records := []Record{
		{Code: "1000", Name: "Current Assets", Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset, Active: true},
		{Code: "1000.01", Name: "Cash, at bank", Type: model.AccountTypeAsset, ParentCode: "1000", Active: true},
		{Code: "5000.03", Name: "Consulting", Type: model.AccountTypeExpense, ParentCode: "5000", RequireProject: true, RequireDepartment: true},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, records))

	got, err := ReadAccounts(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestReadAccounts_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, nil))

	got, err := ReadAccounts(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadAccounts_WrongFieldCount(t *testing.T) {
	in := strings.Join(header, ",") + "\n1000,Assets,asset\n"
	_, err := ReadAccounts(strings.NewReader(in))
	assert.Error(t, err)
}

func TestUnmarshalAccount(t *testing.T) {
	tests := []struct {
		name    string
		row     []string
		want    Record
		wantErr string
	}{
		{
			name: "short row defaults active",
			row:  []string{"2000", "Liabilities", "liability"},
			want: Record{Code: "2000", Name: "Liabilities", Type: model.AccountTypeLiability, Active: true},
		},
		{
			name: "inactive with flags",
			row:  []string{" 5000.01 ", "SaaS", "expense", "operating_expense", "5000", "false", "TRUE", "", "1"},
			want: Record{
				Code: "5000.01", Name: "SaaS", Type: model.AccountTypeExpense,
				Classification: model.ClassOperatingExpense, ParentCode: "5000",
				RequireCostCenter: true, RequireProject: true,
			},
		},
		{name: "missing code", row: []string{"", "x", "asset"}, wantErr: "code is required"},
		{name: "unknown type", row: []string{"1000", "x", "revenue"}, wantErr: "unknown account type"},
		{name: "bad flag", row: []string{"1000", "x", "asset", "", "", "maybe"}, wantErr: "parsing active"},
		{name: "too short", row: []string{"1000", "x"}, wantErr: "expected 9 fields"},
		{name: "too long", row: make([]string, 10), wantErr: "expected 9 fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnmarshalAccount(tt.row)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestXLSXRoundTrip(t *testing.T) {
	records := DefaultChart("service_company")

	var buf bytes.Buffer
	require.NoError(t, WriteAccountsXLSX(&buf, records))

	got, err := ReadAccountsXLSX(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestReadAccountsXLSX_NotAWorkbook(t *testing.T) {
	_, err := ReadAccountsXLSX(strings.NewReader("code,name,type\n"))
	assert.Error(t, err)
}

func TestDefaultChart(t *testing.T) {
	service := DefaultChart("service_company")
	trading := DefaultChart("trading_company")
	assert.Greater(t, len(trading), len(service))

	for _, chart := range [][]Record{service, trading} {
		seen := map[string]Record{}
		for _, rec := range chart {
			assert.True(t, ValidCode(rec.Code), rec.Code)
			assert.True(t, rec.Classification.BelongsTo(rec.Type), rec.Code)
			if rec.ParentCode != "" {
				parent, ok := seen[rec.ParentCode]
				require.True(t, ok, "parent of %s listed later", rec.Code)
				assert.Equal(t, parent.Type, rec.Type, rec.Code)
			}
			_, dup := seen[rec.Code]
			assert.False(t, dup, rec.Code)
			seen[rec.Code] = rec
		}
	}
}
