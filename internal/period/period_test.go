package period

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store/memory"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseCalendar(t *testing.T) {
	c, err := ParseCalendar("04-01")
	require.NoError(t, err)
	assert.Equal(t, time.April, c.Month)
	assert.Equal(t, 1, c.Day)

	c, err = ParseCalendar("02-28")
	require.NoError(t, err)
	assert.Equal(t, 28, c.Day)

	for _, bad := range []string{"", "13-01", "2025-04-01", "4/1", "01-31", "02-29", "03-30"} {
		_, err := ParseCalendar(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestFiscalYearCode(t *testing.T) {
	tests := []struct {
		yearStart string
		date      string
		want      string
	}{
		{"01-01", "2025-01-01", "FY2025"},
		{"01-01", "2025-12-31", "FY2025"},
		{"04-01", "2025-03-31", "FY2024"},
		{"04-01", "2025-04-01", "FY2025"},
		{"07-15", "2026-07-14", "FY2025"},
	}
	for _, tt := range tests {
		c, err := ParseCalendar(tt.yearStart)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.FiscalYearCode(date(tt.date)), "%s in %s", tt.date, tt.yearStart)
	}
}

func TestPeriods(t *testing.T) {
	c, err := ParseCalendar("04-01")
	require.NoError(t, err)

	periods := c.Periods("acme", 2025)
	require.Len(t, periods, 13)
	assert.Equal(t, model.PeriodKindFiscalYear, periods[0].Kind)
	assert.Equal(t, date("2025-04-01"), periods[0].Start)
	assert.Equal(t, date("2026-03-31"), periods[0].End)

	assert.Equal(t, "FY2025-P01", periods[1].Code)
	assert.Equal(t, date("2025-04-30"), periods[1].End)
	assert.Equal(t, "FY2025-P12", periods[12].Code)
	assert.Equal(t, date("2026-03-01"), periods[12].Start)
	assert.Equal(t, date("2026-03-31"), periods[12].End)
}

func TestPeriods_LateStartDayStaysContiguous(t *testing.T) {
	c, err := ParseCalendar("01-28")
	require.NoError(t, err)

	periods := c.Periods("acme", 2025)
	require.Len(t, periods, 13)
	assert.Equal(t, date("2025-01-28"), periods[1].Start)
	assert.Equal(t, date("2025-02-27"), periods[1].End)
	assert.Equal(t, date("2025-02-28"), periods[2].Start)
	for i := 2; i < len(periods); i++ {
		assert.Equal(t, periods[i-1].End.AddDate(0, 0, 1), periods[i].Start, periods[i].Code)
		assert.Equal(t, 28, periods[i].Start.Day(), periods[i].Code)
	}
	assert.Equal(t, periods[0].End, periods[12].End)
}

func seeded(t *testing.T, periods ...model.Period) *memory.Store {
	t.Helper()
	st := memory.New()
	_, err := NewManager(st).Seed(context.Background(), "acme", periods)
	require.NoError(t, err)
	return st
}

func TestGuard_Check(t *testing.T) {
	fy := model.Period{Kind: model.PeriodKindFiscalYear, Code: "FY2025", Start: date("2025-01-01"), End: date("2025-12-31"), Status: model.PeriodOpen}
	jan := model.Period{Kind: model.PeriodKindPeriod, Code: "P01", Start: date("2025-01-01"), End: date("2025-01-31"), Status: model.PeriodClosed}
	feb := model.Period{Kind: model.PeriodKindPeriod, Code: "P02", Start: date("2025-02-01"), End: date("2025-02-28"), Status: model.PeriodAdjustment}
	mar := model.Period{Kind: model.PeriodKindPeriod, Code: "P03", Start: date("2025-03-01"), End: date("2025-03-31"), Status: model.PeriodOpen, Locked: true}
	apr := model.Period{Kind: model.PeriodKindPeriod, Code: "P04", Start: date("2025-04-01"), End: date("2025-04-30"), Status: model.PeriodOpen}
	st := seeded(t, fy, jan, feb, mar, apr)
	g := NewGuard()

	tests := []struct {
		date      string
		adjusting bool
		wantCode  apperr.Code
	}{
		{"2025-01-15", false, apperr.CodePeriodClosed},
		{"2025-02-10", false, apperr.CodePeriodClosed},
		{"2025-02-10", true, ""},
		{"2025-03-10", false, apperr.CodePeriodClosed},
		{"2025-04-30", false, ""},
		{"2025-05-01", false, ""},
		{"2026-01-01", false, apperr.CodePeriodNotFound},
	}
	for _, tt := range tests {
		err := g.Check(context.Background(), st, "acme", date(tt.date), tt.adjusting)
		if tt.wantCode == "" {
			assert.NoError(t, err, tt.date)
			continue
		}
		assert.Equal(t, tt.wantCode, apperr.CodeOf(err), tt.date)
	}
}

func TestGuard_ClosedFiscalYear(t *testing.T) {
	fy := model.Period{Kind: model.PeriodKindFiscalYear, Code: "FY2024", Start: date("2024-01-01"), End: date("2024-12-31"), Status: model.PeriodClosed}
	dec := model.Period{Kind: model.PeriodKindPeriod, Code: "P12", Start: date("2024-12-01"), End: date("2024-12-31"), Status: model.PeriodOpen}
	st := seeded(t, fy, dec)

	err := NewGuard().Check(context.Background(), st, "acme", date("2024-12-15"), false)
	assert.ErrorIs(t, err, apperr.ErrPeriodClosed)
}

func TestManager_SeedIsIdempotent(t *testing.T) {
	c, err := ParseCalendar("01-01")
	require.NoError(t, err)
	st := memory.New()
	m := NewManager(st)

	n, err := m.Seed(context.Background(), "acme", c.Periods("", 2025))
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	n, err = m.Seed(context.Background(), "acme", c.Periods("", 2025))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := st.ListPeriods(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, all, 13)
	assert.Equal(t, "acme", all[0].TenantID)
}

func TestManager_SetStatus(t *testing.T) {
	c, err := ParseCalendar("01-01")
	require.NoError(t, err)
	st := seeded(t, c.Periods("acme", 2025)...)
	m := NewManager(st)
	g := NewGuard()
	ctx := context.Background()

	require.NoError(t, g.Check(ctx, st, "acme", date("2025-06-15"), false))

	p, err := m.SetStatus(ctx, "acme", "FY2025-P06", model.PeriodClosed, false)
	require.NoError(t, err)
	assert.Equal(t, model.PeriodClosed, p.Status)
	assert.Equal(t, apperr.CodePeriodClosed, apperr.CodeOf(g.Check(ctx, st, "acme", date("2025-06-15"), false)))

	_, err = m.SetStatus(ctx, "acme", "FY2025-P06", model.PeriodOpen, false)
	require.NoError(t, err)
	assert.NoError(t, g.Check(ctx, st, "acme", date("2025-06-15"), false))

	_, err = m.SetStatus(ctx, "acme", "FY2030-P01", model.PeriodClosed, false)
	assert.ErrorIs(t, err, apperr.ErrPeriodNotFound)

	_, err = m.SetStatus(ctx, "acme", "FY2025-P06", "frozen", false)
	assert.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))
}
