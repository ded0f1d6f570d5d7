// Package period gates posting dates against the fiscal calendar.
package period

import (
	"fmt"
	"time"

	"github.com/cleared-dev/ledger/internal/model"
)

// Calendar places dates in fiscal years that start on a fixed month and day.
type Calendar struct {
	Month time.Month
	Day   int
}

// maxStartDay keeps every monthly period starting on the same day of month.
const maxStartDay = 28

// ParseCalendar parses a fiscal year start in "MM-DD" form. The day must
// exist in every month, so 29 and later are rejected.
func ParseCalendar(yearStart string) (Calendar, error) {
	t, err := time.Parse("01-02", yearStart)
	if err != nil {
		return Calendar{}, fmt.Errorf("invalid fiscal year start %q: expected MM-DD: %w", yearStart, err)
	}
	if t.Day() > maxStartDay {
		return Calendar{}, fmt.Errorf("invalid fiscal year start %q: day must be between 01 and %d", yearStart, maxStartDay)
	}
	return Calendar{Month: t.Month(), Day: t.Day()}, nil
}

// StartYear returns the calendar year in which the fiscal year containing d began.
func (c Calendar) StartYear(d time.Time) int {
	y := d.Year()
	if model.TruncateDate(d).Before(c.start(y)) {
		return y - 1
	}
	return y
}

// FiscalYearCode returns the code of the fiscal year containing d, e.g. "FY2025".
func (c Calendar) FiscalYearCode(d time.Time) string {
	return fmt.Sprintf("FY%d", c.StartYear(d))
}

// Bounds returns the inclusive first and last day of the fiscal year that starts in startYear.
func (c Calendar) Bounds(startYear int) (time.Time, time.Time) {
	first := c.start(startYear)
	return first, c.start(startYear + 1).AddDate(0, 0, -1)
}

func (c Calendar) start(year int) time.Time {
	return time.Date(year, c.Month, c.Day, 0, 0, 0, 0, time.UTC)
}

// Periods returns the fiscal year starting in startYear followed by its
// twelve monthly periods, all open.
func (c Calendar) Periods(tenantID string, startYear int) []model.Period {
	first, last := c.Bounds(startYear)
	out := []model.Period{{
		TenantID: tenantID,
		Kind:     model.PeriodKindFiscalYear,
		Code:     fmt.Sprintf("FY%d", startYear),
		Start:    first,
		End:      last,
		Status:   model.PeriodOpen,
	}}
	for i := 0; i < 12; i++ {
		start := first.AddDate(0, i, 0)
		end := first.AddDate(0, i+1, -1)
		out = append(out, model.Period{
			TenantID: tenantID,
			Kind:     model.PeriodKindPeriod,
			Code:     fmt.Sprintf("FY%d-P%02d", startYear, i+1),
			Start:    start,
			End:      end,
			Status:   model.PeriodOpen,
		})
	}
	return out
}
