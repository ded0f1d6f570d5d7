package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

// Tenant is the effective configuration of one tenant after applying
// precedence: tenant entry, then the defaults section, then built-ins.
type Tenant struct {
	ID           string
	Name         string
	BaseCurrency string
	YearStart    string
	MaxDepth     int
	MaxSiblings  int
	RootStep     int
	Tolerance    decimal.Decimal
	Sequences    map[string]SequenceConfig
	Periods      []PeriodConfig
	TaxCodes     []TaxCodeConfig
}

// Tenant resolves the effective settings for a tenant id. Unknown tenants
// receive the defaults.
func (c *Config) Tenant(id string) Tenant {
	t := Tenant{
		ID:           id,
		BaseCurrency: DefaultCurrency,
		YearStart:    DefaultYearStart,
		MaxDepth:     DefaultMaxDepth,
		MaxSiblings:  DefaultMaxSiblings,
		RootStep:     DefaultRootStep,
		Tolerance:    decimal.RequireFromString(DefaultTolerance),
		Sequences:    DefaultSequences(),
	}
	t.overlay(c.Defaults)
	for _, tc := range c.Tenants {
		if tc.ID == id {
			t.overlay(tc)
			break
		}
	}
	return t
}

func (t *Tenant) overlay(tc TenantConfig) {
	if tc.Name != "" {
		t.Name = tc.Name
	}
	if tc.BaseCurrency != "" {
		t.BaseCurrency = tc.BaseCurrency
	}
	if tc.Fiscal.YearStart != "" {
		t.YearStart = tc.Fiscal.YearStart
	}
	if tc.Hierarchy.MaxDepth > 0 {
		t.MaxDepth = tc.Hierarchy.MaxDepth
	}
	if tc.Hierarchy.MaxSiblings > 0 {
		t.MaxSiblings = tc.Hierarchy.MaxSiblings
	}
	if tc.Hierarchy.RootStep > 0 {
		t.RootStep = tc.Hierarchy.RootStep
	}
	if tc.Journal.Tolerance != "" {
		if tol, err := decimal.NewFromString(tc.Journal.Tolerance); err == nil {
			t.Tolerance = tol
		}
	}
	for docType, sc := range tc.Sequences {
		merged := t.Sequences[docType]
		if sc.Prefix != "" {
			merged.Prefix = sc.Prefix
		}
		if sc.Separator != "" {
			merged.Separator = sc.Separator
		}
		if sc.Padding > 0 {
			merged.Padding = sc.Padding
		}
		if sc.Reset != "" {
			merged.Reset = sc.Reset
		}
		t.Sequences[docType] = merged
	}
	if len(tc.Periods) > 0 {
		t.Periods = tc.Periods
	}
	if len(tc.TaxCodes) > 0 {
		t.TaxCodes = tc.TaxCodes
	}
}

// Sequence returns the number format for a document type, filling gaps
// with a dash separator, five digits and a fiscal-year reset.
func (t Tenant) Sequence(docType string) SequenceConfig {
	sc := t.Sequences[docType]
	if sc.Separator == "" {
		sc.Separator = "-"
	}
	if sc.Padding <= 0 {
		sc.Padding = 5
	}
	if sc.Reset == "" {
		sc.Reset = string(model.ResetFiscalYear)
	}
	return sc
}

const dateFormat = "2006-01-02"

// PeriodModels converts the configured periods into model values.
func (t Tenant) PeriodModels() ([]model.Period, error) {
	periods := make([]model.Period, 0, len(t.Periods))
	for i, pc := range t.Periods {
		start, err := time.Parse(dateFormat, pc.Start)
		if err != nil {
			return nil, fmt.Errorf("periods[%d]: parsing start %q: %w", i, pc.Start, err)
		}
		end, err := time.Parse(dateFormat, pc.End)
		if err != nil {
			return nil, fmt.Errorf("periods[%d]: parsing end %q: %w", i, pc.End, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("periods[%d]: end %s before start %s", i, pc.End, pc.Start)
		}
		kind := model.PeriodKind(pc.Kind)
		if kind == "" {
			kind = model.PeriodKindPeriod
		}
		status := model.PeriodStatus(pc.Status)
		if status == "" {
			status = model.PeriodOpen
		}
		periods = append(periods, model.Period{
			TenantID: t.ID,
			Kind:     kind,
			Code:     pc.Code,
			Start:    start,
			End:      end,
			Status:   status,
			Locked:   pc.Locked,
		})
	}
	return periods, nil
}

// TaxCodeModels converts the configured tax codes into model values.
func (t Tenant) TaxCodeModels() ([]model.TaxCode, error) {
	codes := make([]model.TaxCode, 0, len(t.TaxCodes))
	for i, tc := range t.TaxCodes {
		if tc.ID == "" {
			return nil, fmt.Errorf("tax_codes[%d]: id is required", i)
		}
		rate, err := decimal.NewFromString(tc.Rate)
		if err != nil {
			return nil, fmt.Errorf("tax_codes[%d]: parsing rate %q: %w", i, tc.Rate, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("tax_codes[%d]: rate %s is negative", i, tc.Rate)
		}
		code := model.TaxCode{
			ID:          tc.ID,
			TenantID:    t.ID,
			Name:        tc.Name,
			Rate:        rate,
			Compound:    tc.Compound,
			Recoverable: tc.Recoverable,
		}
		if tc.EffectiveFrom != "" {
			if code.EffectiveFrom, err = time.Parse(dateFormat, tc.EffectiveFrom); err != nil {
				return nil, fmt.Errorf("tax_codes[%d]: parsing effective_from %q: %w", i, tc.EffectiveFrom, err)
			}
		}
		if tc.EffectiveTo != "" {
			to, err := time.Parse(dateFormat, tc.EffectiveTo)
			if err != nil {
				return nil, fmt.Errorf("tax_codes[%d]: parsing effective_to %q: %w", i, tc.EffectiveTo, err)
			}
			code.EffectiveTo = &to
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// RateModels converts the configured exchange rates into model values.
// Currency codes are upper-cased.
func (c *Config) RateModels() ([]model.ExchangeRate, error) {
	rates := make([]model.ExchangeRate, 0, len(c.Rates))
	for i, rc := range c.Rates {
		date, err := time.Parse(dateFormat, rc.Date)
		if err != nil {
			return nil, fmt.Errorf("rates[%d]: parsing date %q: %w", i, rc.Date, err)
		}
		rate, err := decimal.NewFromString(rc.Rate)
		if err != nil {
			return nil, fmt.Errorf("rates[%d]: parsing rate %q: %w", i, rc.Rate, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rates[%d]: rate %s must be positive", i, rc.Rate)
		}
		rates = append(rates, model.ExchangeRate{
			From: strings.ToUpper(rc.From),
			To:   strings.ToUpper(rc.To),
			Date: date,
			Rate: rate,
		})
	}
	return rates, nil
}
