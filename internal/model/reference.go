package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExchangeRate converts one unit of From into To, effective from Date.
type ExchangeRate struct {
	From string
	To   string
	Date time.Time
	Rate decimal.Decimal
}

// TaxCode is a configured tax rate.
type TaxCode struct {
	ID            string
	TenantID      string
	Name          string
	Rate          decimal.Decimal // percentage, e.g. 13 for 13%
	Compound      bool
	Recoverable   bool
	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = open ended
}

// EffectiveOn reports whether the code applies on date d.
func (c TaxCode) EffectiveOn(d time.Time) bool {
	if !c.EffectiveFrom.IsZero() && d.Before(c.EffectiveFrom) {
		return false
	}
	if c.EffectiveTo != nil && d.After(*c.EffectiveTo) {
		return false
	}
	return true
}

// ResetPolicy controls when a sequence restarts at 1.
type ResetPolicy string

const (
	ResetNever        ResetPolicy = "never"
	ResetFiscalYear   ResetPolicy = "fiscal_year"
	ResetCalendarYear ResetPolicy = "calendar_year"
)

// SequenceCounter is the durable state behind one document number series.
// A series is keyed by tenant, document type and marker.
type SequenceCounter struct {
	TenantID     string
	DocumentType string
	Marker       string // fiscal-year code, calendar year, or empty when the series never resets
	NextValue    int64
	ResetPolicy  ResetPolicy
	UpdatedAt    time.Time
}

// PeriodKind distinguishes fiscal years from the periods inside them.
type PeriodKind string

const (
	PeriodKindFiscalYear PeriodKind = "fiscal_year"
	PeriodKindPeriod     PeriodKind = "period"
)

// PeriodStatus gates postings dated inside a period.
type PeriodStatus string

const (
	PeriodOpen       PeriodStatus = "open"
	PeriodClosed     PeriodStatus = "closed"
	PeriodAdjustment PeriodStatus = "adjustment"
)

// Period is an accounting period or fiscal year; Start and End are inclusive dates.
type Period struct {
	ID       uuid.UUID
	TenantID string
	Kind     PeriodKind
	Code     string
	Start    time.Time
	End      time.Time
	Status   PeriodStatus
	Locked   bool
}

// Contains reports whether d falls inside the period (date precision).
func (p Period) Contains(d time.Time) bool {
	day := TruncateDate(d)
	return !day.Before(TruncateDate(p.Start)) && !day.After(TruncateDate(p.End))
}

// TruncateDate drops the time of day, keeping the calendar date in UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
