package journal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

var (
	acctA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	acctB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	acctC = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
)

func debit(acct uuid.UUID, amount string) model.Line {
	return model.Line{AccountID: acct, Debit: dec(amount)}
}

func credit(acct uuid.UUID, amount string) model.Line {
	return model.Line{AccountID: acct, Credit: dec(amount)}
}

func codes(errs []error) []apperr.Code {
	out := make([]apperr.Code, len(errs))
	for i, err := range errs {
		out[i] = apperr.CodeOf(err)
	}
	return out
}

func TestValidate_SplitCredit(t *testing.T) {
	b := NewBalancer(dec("0.01"))

	lines := []model.Line{debit(acctA, "100"), credit(acctB, "60"), credit(acctC, "40")}
	assert.NoError(t, b.Validate(lines, nil))

	lines[2] = credit(acctC, "39")
	err := b.Validate(lines, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnbalanced)
}

func TestValidate_Tolerance(t *testing.T) {
	tests := []struct {
		tolerance string
		credit    string
		wantErr   bool
	}{
		{"0.01", "99.99", false},
		{"0.01", "99.98", true},
		{"0", "99.99", true},
		{"0.05", "99.95", false},
	}
	for _, tt := range tests {
		b := NewBalancer(dec(tt.tolerance))
		err := b.Validate([]model.Line{debit(acctA, "100.00"), credit(acctB, tt.credit)}, nil)
		if tt.wantErr {
			assert.ErrorIs(t, err, apperr.ErrUnbalanced, "tolerance %s credit %s", tt.tolerance, tt.credit)
		} else {
			assert.NoError(t, err, "tolerance %s credit %s", tt.tolerance, tt.credit)
		}
	}
}

func TestCheck_LineRules(t *testing.T) {
	b := NewBalancer(dec("0.01"))
	tests := []struct {
		name string
		line model.Line
		want apperr.Code
	}{
		{"both sides", model.Line{AccountID: acctA, Debit: dec("10"), Credit: dec("10")}, apperr.CodeBothDebitCredit},
		{"neither side", model.Line{AccountID: acctA}, apperr.CodeZeroLine},
		{"negative debit", model.Line{AccountID: acctA, Debit: dec("-10")}, apperr.CodeNegativeAmount},
		{"sub-cent credit", model.Line{AccountID: acctA, Credit: dec("10.123")}, apperr.CodeInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := b.Check([]model.Line{tt.line}, nil)
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.want, apperr.CodeOf(errs[0]))
		})
	}
}

func TestCheck_Empty(t *testing.T) {
	errs := NewBalancer(dec("0.01")).Check(nil, nil)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperr.ErrEmptyJournal)
}

func TestCheck_ReportsEveryRule(t *testing.T) {
	b := NewBalancer(dec("0.01"))
	accounts := map[uuid.UUID]model.Account{
		acctA: {ID: acctA, Code: "5000.01", RequireCostCenter: true, RequireProject: true},
	}
	lines := []model.Line{
		{AccountID: acctA, Debit: dec("100"), Dimensions: model.Dimensions{CostCenter: "CC1"}},
		{AccountID: acctB, Credit: dec("-50")},
	}

	errs := b.Check(lines, accounts)
	assert.Equal(t, []apperr.Code{
		apperr.CodeDimensionRequired,
		apperr.CodeNegativeAmount,
		apperr.CodeUnbalanced,
	}, codes(errs))

	var e *apperr.Error
	require.ErrorAs(t, errs[0], &e)
	assert.Equal(t, "lines[0].dimensions.project", e.Field)
	require.ErrorAs(t, errs[1], &e)
	assert.Equal(t, "lines[1].credit", e.Field)
}

func TestCheck_Dimensions(t *testing.T) {
	b := NewBalancer(dec("0.01"))
	accounts := map[uuid.UUID]model.Account{
		acctA: {ID: acctA, Code: "5000.01", RequireCostCenter: true, RequireDepartment: true, RequireProject: true},
	}
	full := model.Dimensions{CostCenter: "CC1", Department: "OPS", Project: "P-7"}
	lines := []model.Line{
		{AccountID: acctA, Debit: dec("25"), Dimensions: full},
		credit(acctB, "25"),
	}
	assert.Empty(t, b.Check(lines, accounts))

	lines[0].Dimensions = model.Dimensions{}
	assert.Equal(t, []apperr.Code{
		apperr.CodeDimensionRequired,
		apperr.CodeDimensionRequired,
		apperr.CodeDimensionRequired,
	}, codes(b.Check(lines, accounts)))
}

func TestTotals(t *testing.T) {
	d, c := Totals([]model.Line{debit(acctA, "60"), debit(acctA, "40"), credit(acctB, "100")})
	assert.True(t, dec("100").Equal(d))
	assert.True(t, dec("100").Equal(c))
}

func TestCheck_BalancedPropertyAcrossSplits(t *testing.T) {
	b := NewBalancer(dec("0.01"))
	for n := 1; n <= 20; n++ {
		total := decimal.NewFromInt(int64(n * 137)).Div(decimal.NewFromInt(100))
		lines := []model.Line{{AccountID: acctA, Debit: total}}
		remaining := total
		for i := 0; i < n-1; i++ {
			part := decimal.NewFromInt(1).Div(decimal.NewFromInt(100))
			lines = append(lines, model.Line{AccountID: acctB, Credit: part})
			remaining = remaining.Sub(part)
		}
		lines = append(lines, model.Line{AccountID: acctC, Credit: remaining})
		require.NoError(t, b.Validate(lines, nil), "n=%d", n)

		d, c := Totals(lines)
		assert.True(t, d.Sub(c).Abs().LessThanOrEqual(dec("0.01")))
	}
}
