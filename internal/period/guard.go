package period

import (
	"context"
	"fmt"
	"time"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// PeriodReader is the slice of the store the guard needs.
type PeriodReader interface {
	PeriodsCovering(ctx context.Context, tenantID string, date time.Time) ([]model.Period, error)
}

// Guard decides whether a date accepts postings.
type Guard struct{}

// NewGuard creates a Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Check fails with PeriodNotFound when no period covers date, and with
// PeriodClosed when any covering period or fiscal year is locked, closed,
// or adjustment-only while adjusting is false.
func (g *Guard) Check(ctx context.Context, r PeriodReader, tenantID string, date time.Time, adjusting bool) error {
	periods, err := r.PeriodsCovering(ctx, tenantID, date)
	if err != nil {
		return fmt.Errorf("finding periods for %s: %w", date.Format(time.DateOnly), err)
	}
	if len(periods) == 0 {
		return apperr.New(apperr.CodePeriodNotFound, "no accounting period covers %s", date.Format(time.DateOnly)).WithField("date")
	}
	for _, p := range periods {
		if err := checkPeriod(p, adjusting); err != nil {
			return err
		}
	}
	return nil
}

func checkPeriod(p model.Period, adjusting bool) error {
	switch {
	case p.Locked:
		return apperr.New(apperr.CodePeriodClosed, "period %s is locked", p.Code).WithField("date")
	case p.Status == model.PeriodClosed:
		return apperr.New(apperr.CodePeriodClosed, "period %s is closed", p.Code).WithField("date")
	case p.Status == model.PeriodAdjustment && !adjusting:
		return apperr.New(apperr.CodePeriodClosed, "period %s accepts adjusting entries only", p.Code).WithField("date")
	}
	return nil
}

// Manager changes period state.
type Manager struct {
	store store.Store
}

// NewManager creates a Manager over st.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// Seed inserts periods that do not exist yet, matched by code.
func (m *Manager) Seed(ctx context.Context, tenantID string, periods []model.Period) (int, error) {
	added := 0
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.ListPeriods(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("listing periods: %w", err)
		}
		known := make(map[string]bool, len(existing))
		for _, p := range existing {
			known[p.Code] = true
		}
		for _, p := range periods {
			if known[p.Code] {
				continue
			}
			p.TenantID = tenantID
			if err := tx.InsertPeriod(ctx, p); err != nil {
				return fmt.Errorf("inserting period %s: %w", p.Code, err)
			}
			known[p.Code] = true
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// SetStatus updates the status and lock flag of the period with the given code.
func (m *Manager) SetStatus(ctx context.Context, tenantID, code string, status model.PeriodStatus, locked bool) (model.Period, error) {
	switch status {
	case model.PeriodOpen, model.PeriodClosed, model.PeriodAdjustment:
	default:
		return model.Period{}, apperr.New(apperr.CodeInvalidPayload, "unknown period status %q", status).WithField("status")
	}

	var updated model.Period
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		periods, err := tx.ListPeriods(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("listing periods: %w", err)
		}
		for _, p := range periods {
			if p.Code != code {
				continue
			}
			p.Status = status
			p.Locked = locked
			if err := tx.UpdatePeriod(ctx, p); err != nil {
				return fmt.Errorf("updating period %s: %w", code, err)
			}
			updated = p
			return nil
		}
		return apperr.New(apperr.CodePeriodNotFound, "period %s not found", code)
	})
	return updated, err
}
