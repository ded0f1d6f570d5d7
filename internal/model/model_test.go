package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSignedDelta(t *testing.T) {
	tests := []struct {
		typ           AccountType
		debit, credit string
		want          string
	}{
		{AccountTypeAsset, "100", "0", "100"},
		{AccountTypeAsset, "0", "40", "-40"},
		{AccountTypeExpense, "25", "0", "25"},
		{AccountTypeLiability, "0", "60", "60"},
		{AccountTypeEquity, "10", "0", "-10"},
		{AccountTypeIncome, "0", "99.99", "99.99"},
	}
	for _, tt := range tests {
		got := tt.typ.SignedDelta(dec(tt.debit), dec(tt.credit))
		assert.True(t, dec(tt.want).Equal(got), "%s debit=%s credit=%s: got %s", tt.typ, tt.debit, tt.credit, got)
	}
}

func TestRootPrefix(t *testing.T) {
	want := []int{1000, 2000, 3000, 4000, 5000}
	for i, at := range AccountTypes {
		assert.Equal(t, want[i], at.RootPrefix(), "type %s", at)
		assert.True(t, at.Valid())
	}
	assert.False(t, AccountType("revenue").Valid())
}

func TestClassificationBelongsTo(t *testing.T) {
	assert.True(t, ClassCurrentAsset.BelongsTo(AccountTypeAsset))
	assert.False(t, ClassCurrentAsset.BelongsTo(AccountTypeLiability))
	assert.True(t, ClassificationUndefined.BelongsTo(AccountTypeIncome))
}

func TestLineMirror(t *testing.T) {
	l := Line{
		LineNo:     1,
		AccountID:  uuid.New(),
		Debit:      dec("100.00"),
		BaseDebit:  dec("150.00"),
		Delta:      dec("150.00"),
		TaxCodes:   []string{"VAT"},
		Dimensions: Dimensions{Project: "P1"},
	}
	m := l.Mirror()

	assert.True(t, m.Credit.Equal(dec("100.00")))
	assert.True(t, m.Debit.IsZero())
	assert.True(t, m.BaseCredit.Equal(dec("150.00")))
	assert.True(t, m.Delta.IsZero())
	assert.Equal(t, "P1", m.Dimensions.Project)

	m.TaxCodes[0] = "GST"
	assert.Equal(t, "VAT", l.TaxCodes[0], "mirror must not share tax code storage")
}

func TestVoucherCloneAndAccountIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	v := Voucher{Lines: []Line{
		{AccountID: a, Debit: dec("10"), TaxCodes: []string{"T1"}},
		{AccountID: b, Credit: dec("5")},
		{AccountID: a, Credit: dec("5")},
	}}

	assert.Equal(t, []uuid.UUID{a, b}, v.AccountIDs())

	c := v.Clone()
	c.Lines[0].TaxCodes[0] = "X"
	c.Lines[1].Description = "changed"
	assert.Equal(t, "T1", v.Lines[0].TaxCodes[0])
	assert.Empty(t, v.Lines[1].Description)
}

func TestTaxCodeEffectiveOn(t *testing.T) {
	end := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	code := TaxCode{EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EffectiveTo: &end}

	assert.True(t, code.EffectiveOn(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, code.EffectiveOn(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, code.EffectiveOn(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, TaxCode{}.EffectiveOn(time.Now()))
}

func TestPeriodContains(t *testing.T) {
	p := Period{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, p.Contains(time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC)))
	assert.True(t, p.Contains(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
}
