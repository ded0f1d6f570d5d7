package tax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// CodeReader looks up configured tax codes.
type CodeReader interface {
	GetTaxCode(ctx context.Context, tenantID, id string) (model.TaxCode, error)
}

// Engine resolves tax codes and computes line taxes.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Resolve loads codes in order and checks each is effective on date.
func (e *Engine) Resolve(ctx context.Context, r CodeReader, tenantID string, ids []string, on time.Time) ([]model.TaxCode, error) {
	codes := make([]model.TaxCode, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetTaxCode(ctx, tenantID, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeTaxCodeNotFound, "tax code %s not found", id)
		}
		if err != nil {
			return nil, fmt.Errorf("loading tax code %s: %w", id, err)
		}
		if !c.EffectiveOn(on) {
			return nil, apperr.New(apperr.CodeTaxCodeNotEffective, "tax code %s is not effective on %s", id, on.Format(time.DateOnly))
		}
		codes = append(codes, c)
	}
	return codes, nil
}

// LineTax computes the compound tax of a line from its tax codes, honoring
// the line's inclusive flag. Lines without codes carry no tax.
func (e *Engine) LineTax(ctx context.Context, r CodeReader, tenantID string, l model.Line, on time.Time) (decimal.Decimal, []Component, error) {
	if len(l.TaxCodes) == 0 {
		return decimal.Zero, nil, nil
	}
	codes, err := e.Resolve(ctx, r, tenantID, l.TaxCodes, on)
	if err != nil {
		return decimal.Zero, nil, err
	}
	total, _, breakdown := CalculateCompound(l.Amount(), codes, l.TaxInclusive)
	return total, breakdown, nil
}

// Register stores a tax code.
func (e *Engine) Register(ctx context.Context, st store.Store, c model.TaxCode) error {
	if c.ID == "" {
		return apperr.New(apperr.CodeInvalidPayload, "tax code id is required").WithField("id")
	}
	if c.Rate.IsNegative() || c.Rate.GreaterThanOrEqual(hundred) {
		return apperr.New(apperr.CodeInvalidPayload, "tax rate %s must be in [0, 100)", c.Rate).WithField("rate")
	}
	if c.EffectiveTo != nil && c.EffectiveTo.Before(c.EffectiveFrom) {
		return apperr.New(apperr.CodeInvalidPayload, "tax code %s ends before it starts", c.ID).WithField("effective_to")
	}
	return st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTaxCode(ctx, c); err != nil {
			return fmt.Errorf("inserting tax code %s: %w", c.ID, err)
		}
		return nil
	})
}
