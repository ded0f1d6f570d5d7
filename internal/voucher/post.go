package voucher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/audit"
	"github.com/cleared-dev/ledger/internal/currency"
	"github.com/cleared-dev/ledger/internal/events"
	"github.com/cleared-dev/ledger/internal/lock"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Post finalizes a draft or validated voucher: it re-runs every check, then
// in one transaction assigns the document number, converts to the base
// currency, fills missing tax amounts, applies balance deltas and marks the
// voucher posted. Any failure leaves the ledger untouched.
//
// postKey makes the call idempotent: replaying a successful Post with the
// same key returns the posted voucher without applying anything again.
// Post never retries; LockTimeout is for the caller to retry.
func (s *Service) Post(ctx context.Context, tenantID string, id uuid.UUID, postKey string) (model.Voucher, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "voucher.Post", trace.WithAttributes(
		attribute.String("tenant.id", tenantID), attribute.String("voucher.id", id.String())))
	defer span.End()

	var posted model.Voucher
	var replay bool
	err := s.locks.WithLock(ctx, lock.VoucherKey(tenantID, id.String()), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if postKey != "" {
				prior, found, err := priorPost(ctx, tx, tenantID, postKey)
				if err != nil {
					return err
				}
				if found {
					if prior.ID != id {
						return apperr.New(apperr.CodeInvalidPayload, "post key %q already used by voucher %s", postKey, prior.ID).WithField("post_key")
					}
					posted, replay = prior, true
					return nil
				}
			}

			v, err := lockVoucher(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}
			if _, err := Transition(v.Status, ActionPost); err != nil {
				return err
			}
			posted, err = s.postLocked(ctx, tx, v, postKey)
			return err
		})
	})
	if err != nil {
		s.fail(ctx, span, "post", tenantID, id, err)
		return model.Voucher{}, err
	}

	span.SetAttributes(attribute.String("voucher.number", posted.Number), attribute.Bool("voucher.replay", replay))
	if replay {
		s.logger.Info("post replayed",
			zap.String("tenant_id", tenantID),
			zap.String("voucher_id", id.String()),
			zap.String("number", posted.Number))
		return posted, nil
	}

	s.duration.Record(ctx, s.now().Sub(start).Seconds())
	s.afterPost(ctx, posted, events.ActionPosted, audit.ActionPost)
	return posted, nil
}

func priorPost(ctx context.Context, r store.Reader, tenantID, postKey string) (model.Voucher, bool, error) {
	v, err := r.VoucherByPostKey(ctx, tenantID, postKey)
	if errors.Is(err, store.ErrNotFound) {
		return model.Voucher{}, false, nil
	}
	if err != nil {
		return model.Voucher{}, false, fmt.Errorf("looking up post key: %w", err)
	}
	return v, true, nil
}

// postLocked posts v inside tx. The caller holds the voucher lock and has
// checked the transition. Errors short-circuit on the first failing rule.
func (s *Service) postLocked(ctx context.Context, tx store.Tx, v model.Voucher, postKey string) (model.Voucher, error) {
	t := s.tenants.Tenant(v.TenantID)

	issues, err := s.checks(ctx, tx, v)
	if err != nil {
		return model.Voucher{}, err
	}
	if len(issues) > 0 {
		return model.Voucher{}, issues[0]
	}

	if v.Number == "" {
		err := s.stage(ctx, StageSequence, func(ctx context.Context) error {
			n, err := s.sequences.NextInTx(ctx, tx, v.TenantID, string(v.Type), v.Date)
			v.Number = n
			return err
		})
		if err != nil {
			return model.Voucher{}, err
		}
	}

	err = s.stage(ctx, StageCurrency, func(ctx context.Context) error {
		switch {
		case v.Currency == t.BaseCurrency:
			v.ExchangeRate = decimal.NewFromInt(1)
		case v.ExchangeRate.IsZero():
			rate, err := currency.NewConverter(s.rates).Rate(ctx, v.Currency, t.BaseCurrency, v.Date)
			if err != nil {
				return err
			}
			v.ExchangeRate = rate
		}
		v.BaseTotalDebit, v.BaseTotalCredit = decimal.Zero, decimal.Zero
		for i := range v.Lines {
			l := &v.Lines[i]
			l.BaseDebit = currency.Apply(l.Debit, v.ExchangeRate)
			l.BaseCredit = currency.Apply(l.Credit, v.ExchangeRate)
			v.BaseTotalDebit = v.BaseTotalDebit.Add(l.BaseDebit)
			v.BaseTotalCredit = v.BaseTotalCredit.Add(l.BaseCredit)
		}
		return nil
	})
	if err != nil {
		return model.Voucher{}, err
	}

	err = s.stage(ctx, StageTax, func(ctx context.Context) error {
		for i := range v.Lines {
			l := &v.Lines[i]
			if !l.TaxAmount.IsZero() || len(l.TaxCodes) == 0 {
				continue
			}
			amount, _, err := s.taxes.LineTax(ctx, tx, v.TenantID, *l, v.Date)
			if err != nil {
				var e *apperr.Error
				if errors.As(err, &e) {
					return e.WithField(fmt.Sprintf("lines[%d].tax_codes", i))
				}
				return err
			}
			l.TaxAmount = amount
		}
		return nil
	})
	if err != nil {
		return model.Voucher{}, err
	}

	err = s.stage(ctx, StagePersist, func(ctx context.Context) error {
		return s.applyBalances(ctx, tx, &v, postKey)
	})
	if err != nil {
		return model.Voucher{}, err
	}
	return v, nil
}

// applyBalances locks the referenced accounts in id order, applies the
// signed base-currency delta of every line and marks v posted.
func (s *Service) applyBalances(ctx context.Context, tx store.Tx, v *model.Voucher, postKey string) error {
	ids := v.AccountIDs()
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })

	accts, err := tx.LockAccounts(ctx, v.TenantID, ids)
	if err != nil {
		return fmt.Errorf("locking accounts: %w", err)
	}

	now := s.now().UTC()
	for i := range v.Lines {
		l := &v.Lines[i]
		a, ok := accts[l.AccountID]
		if !ok {
			return apperr.New(apperr.CodeAccountNotFound, "account %s not found", l.AccountID).WithField(fmt.Sprintf("lines[%d].account_id", i))
		}
		l.Delta = a.Type.SignedDelta(l.BaseDebit, l.BaseCredit)
		a.CurrentBalance = a.CurrentBalance.Add(l.Delta)
		a.UpdatedAt = now
		accts[l.AccountID] = a
	}
	for _, id := range ids {
		if err := tx.UpdateAccount(ctx, accts[id]); err != nil {
			return fmt.Errorf("updating balance of %s: %w", accts[id].Code, err)
		}
	}

	v.Status = model.StatusPosted
	v.PostIdempotencyKey = postKey
	v.PostedAt = &now
	v.UpdatedAt = now
	if err := tx.UpdateVoucher(ctx, *v); err != nil {
		return fmt.Errorf("updating voucher %s: %w", v.ID, err)
	}
	return nil
}

// afterPost runs the side effects of a committed posting. Failures here are
// logged and audited; the posting stands.
func (s *Service) afterPost(ctx context.Context, v model.Voucher, eventAction, auditAction string) {
	s.posted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(v.Type)),
		attribute.String("action", eventAction)))

	s.logger.Info("voucher posted",
		zap.String("tenant_id", v.TenantID),
		zap.String("voucher_id", v.ID.String()),
		zap.String("number", v.Number),
		zap.String("action", eventAction))

	s.audit(ctx, audit.Entry{
		TenantID:  v.TenantID,
		Action:    auditAction,
		VoucherID: v.ID.String(),
		Number:    v.Number,
		Details: fmt.Sprintf("%d lines, %s %s (base %s)",
			len(v.Lines), v.TotalDebit.StringFixed(2), v.Currency, v.BaseTotalDebit.StringFixed(2)),
	})

	if err := s.publisher.Publish(ctx, events.NewVoucherPosted(v, eventAction)); err != nil {
		s.logger.Error("publishing voucher event",
			zap.String("tenant_id", v.TenantID),
			zap.String("voucher_id", v.ID.String()),
			zap.Error(err))
		s.audit(ctx, audit.Entry{
			TenantID:  v.TenantID,
			Action:    audit.ActionPublishFailed,
			VoucherID: v.ID.String(),
			Number:    v.Number,
			Details:   err.Error(),
		})
	}
}

// Reverse posts a mirror image of a posted voucher, dated like the
// original, and marks the original reversed. The original's lines are not
// touched. postKey makes the call idempotent like Post.
func (s *Service) Reverse(ctx context.Context, tenantID string, id uuid.UUID, postKey string) (model.Voucher, error) {
	ctx, span := s.tracer.Start(ctx, "voucher.Reverse", trace.WithAttributes(
		attribute.String("tenant.id", tenantID), attribute.String("voucher.id", id.String())))
	defer span.End()

	var reversal model.Voucher
	var replay bool
	err := s.locks.WithLock(ctx, lock.VoucherKey(tenantID, id.String()), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if postKey != "" {
				prior, found, err := priorPost(ctx, tx, tenantID, postKey)
				if err != nil {
					return err
				}
				if found {
					if prior.ReversalOf == nil || *prior.ReversalOf != id {
						return apperr.New(apperr.CodeInvalidPayload, "post key %q already used by voucher %s", postKey, prior.ID).WithField("post_key")
					}
					reversal, replay = prior, true
					return nil
				}
			}

			orig, err := lockVoucher(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}
			next, err := Transition(orig.Status, ActionReverse)
			if err != nil {
				return err
			}

			mirror := s.mirror(orig)
			if err := tx.InsertVoucher(ctx, mirror); err != nil {
				return apperr.WithStage(StagePersist, fmt.Errorf("inserting reversal: %w", err))
			}
			reversal, err = s.postLocked(ctx, tx, mirror, postKey)
			if err != nil {
				return err
			}

			orig.Status = next
			orig.ReversedBy = &reversal.ID
			orig.UpdatedAt = s.now().UTC()
			if err := tx.UpdateVoucher(ctx, orig); err != nil {
				return apperr.WithStage(StagePersist, fmt.Errorf("updating voucher %s: %w", orig.ID, err))
			}
			return nil
		})
	})
	if err != nil {
		s.fail(ctx, span, "reverse", tenantID, id, err)
		return model.Voucher{}, err
	}

	span.SetAttributes(attribute.String("reversal.id", reversal.ID.String()), attribute.Bool("voucher.replay", replay))
	if !replay {
		s.afterPost(ctx, reversal, events.ActionReversed, audit.ActionReverse)
	}
	return reversal, nil
}

// mirror builds the draft reversal of v: same accounts, date, currency,
// rate and tax, debits and credits swapped.
func (s *Service) mirror(v model.Voucher) model.Voucher {
	now := s.now().UTC()
	origID := v.ID
	m := model.Voucher{
		ID:           uuid.New(),
		TenantID:     v.TenantID,
		Type:         v.Type,
		Date:         v.Date,
		Currency:     v.Currency,
		ExchangeRate: v.ExchangeRate,
		Status:       model.StatusDraft,
		Description:  fmt.Sprintf("Reversal of %s", v.Number),
		Adjusting:    v.Adjusting,
		TotalDebit:   v.TotalCredit,
		TotalCredit:  v.TotalDebit,
		ReversalOf:   &origID,
		CreatedBy:    v.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
		Lines:        make([]model.Line, len(v.Lines)),
	}
	for i, l := range v.Lines {
		m.Lines[i] = l.Mirror()
	}
	return m
}

// Reject moves a draft or validated voucher to rejected.
func (s *Service) Reject(ctx context.Context, tenantID string, id uuid.UUID, reason string) (model.Voucher, error) {
	ctx, span := s.tracer.Start(ctx, "voucher.Reject", trace.WithAttributes(
		attribute.String("tenant.id", tenantID), attribute.String("voucher.id", id.String())))
	defer span.End()

	var out model.Voucher
	err := s.locks.WithLock(ctx, lock.VoucherKey(tenantID, id.String()), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			v, err := lockVoucher(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}
			next, err := Transition(v.Status, ActionReject)
			if err != nil {
				return err
			}
			v.Status = next
			v.RejectReason = reason
			v.UpdatedAt = s.now().UTC()
			if err := tx.UpdateVoucher(ctx, v); err != nil {
				return apperr.WithStage(StagePersist, err)
			}
			out = v
			return nil
		})
	})
	if err != nil {
		s.fail(ctx, span, "reject", tenantID, id, err)
		return model.Voucher{}, err
	}

	s.logger.Info("voucher rejected",
		zap.String("tenant_id", tenantID),
		zap.String("voucher_id", id.String()),
		zap.String("reason", reason))
	s.audit(ctx, audit.Entry{TenantID: tenantID, Action: audit.ActionReject, VoucherID: id.String(), Details: reason})
	return out, nil
}

// Resubmit copies a rejected voucher into a new draft that points back at
// it. The rejected voucher stays as it is.
func (s *Service) Resubmit(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	ctx, span := s.tracer.Start(ctx, "voucher.Resubmit", trace.WithAttributes(
		attribute.String("tenant.id", tenantID), attribute.String("voucher.id", id.String())))
	defer span.End()

	var draft model.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		orig, err := lockVoucher(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		status, err := Transition(orig.Status, ActionResubmit)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		origID := orig.ID
		draft = orig.Clone()
		draft.ID = uuid.New()
		draft.Number = ""
		draft.Status = status
		draft.IdempotencyKey = ""
		draft.PostIdempotencyKey = ""
		draft.RejectReason = ""
		draft.ResubmissionOf = &origID
		draft.ReversalOf, draft.ReversedBy, draft.PostedAt = nil, nil, nil
		draft.CreatedAt, draft.UpdatedAt = now, now
		for i := range draft.Lines {
			draft.Lines[i].BaseDebit = decimal.Zero
			draft.Lines[i].BaseCredit = decimal.Zero
			draft.Lines[i].Delta = decimal.Zero
		}
		if err := tx.InsertVoucher(ctx, draft); err != nil {
			return apperr.WithStage(StagePersist, err)
		}
		return nil
	})
	if err != nil {
		s.fail(ctx, span, "resubmit", tenantID, id, err)
		return model.Voucher{}, err
	}

	s.audit(ctx, audit.Entry{
		TenantID:  tenantID,
		Action:    audit.ActionResubmit,
		VoucherID: draft.ID.String(),
		Details:   fmt.Sprintf("resubmission of %s", id),
	})
	return draft, nil
}

// NextNumber allocates a document number outside of posting, retrying
// contention with backoff.
func (s *Service) NextNumber(ctx context.Context, tenantID, docType string, asOf time.Time) (string, error) {
	return s.sequences.Next(ctx, tenantID, docType, asOf)
}
