// Package currency resolves exchange rates and converts amounts.
package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// RateSource returns the latest rate for a pair effective on or before a date.
type RateSource interface {
	LatestRate(ctx context.Context, from, to string, on time.Time) (model.ExchangeRate, error)
}

// Converter applies exchange rates. Lookups are for the exact pair only;
// no inverse or cross rates are derived.
type Converter struct {
	src RateSource
}

// NewConverter creates a Converter reading rates from src.
func NewConverter(src RateSource) *Converter {
	return &Converter{src: src}
}

// Rate returns 1 for identical currencies, else the latest rate dated on or before date.
func (c *Converter) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	if strings.EqualFold(from, to) {
		return decimal.NewFromInt(1), nil
	}
	r, err := c.src.LatestRate(ctx, from, to, date)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, apperr.New(apperr.CodeNoRateAvailable,
			"no %s/%s rate on or before %s", from, to, date.Format(time.DateOnly)).WithField("currency")
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("looking up %s/%s rate: %w", from, to, err)
	}
	return r.Rate, nil
}

// Convert returns amount in to, rounded half-up to cents, and the rate used.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := c.Rate(ctx, from, to, date)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return Apply(amount, rate), rate, nil
}

// Apply multiplies amount by rate and rounds half-up to cents.
func Apply(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// NormalizeCode validates an ISO 4217 code and returns it upper-cased.
func NormalizeCode(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInvalidPayload, err, "unknown currency %q", code).WithField("currency")
	}
	return unit.String(), nil
}

// RegisterRate validates and stores a rate. A second rate for the same pair
// and day replaces the first.
func RegisterRate(ctx context.Context, st store.Store, r model.ExchangeRate) error {
	from, err := NormalizeCode(r.From)
	if err != nil {
		return err
	}
	to, err := NormalizeCode(r.To)
	if err != nil {
		return err
	}
	if !r.Rate.IsPositive() {
		return apperr.New(apperr.CodeInvalidPayload, "rate %s must be positive", r.Rate).WithField("rate")
	}
	r.From, r.To = from, to
	r.Date = model.TruncateDate(r.Date)
	return st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertRate(ctx, r); err != nil {
			return fmt.Errorf("inserting %s/%s rate: %w", from, to, err)
		}
		return nil
	})
}
