// Package sequence issues gap-free document numbers per tenant and document type.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/id"
	"github.com/cleared-dev/ledger/internal/lock"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/period"
	"github.com/cleared-dev/ledger/internal/store"
)

// TenantSource resolves per-tenant number formats and fiscal calendars.
type TenantSource interface {
	Tenant(id string) config.Tenant
}

// Allocator hands out document numbers. Numbers are committed to the
// counter before they are returned, so a crash never reissues one.
type Allocator struct {
	store   store.Store
	locks   lock.Manager
	tenants TenantSource
	logger  *zap.Logger

	retries     int
	backoffBase time.Duration
	backOff     func() backoff.BackOff
	now         func() time.Time
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithRetry sets how many times contention is retried and the base delay of
// the exponential backoff between attempts.
func WithRetry(retries int, base time.Duration) Option {
	return func(a *Allocator) {
		a.retries = retries
		a.backoffBase = base
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// NewAllocator creates an Allocator. By default contention is retried three
// times starting from a 20ms backoff.
func NewAllocator(st store.Store, locks lock.Manager, tenants TenantSource, opts ...Option) *Allocator {
	a := &Allocator{
		store:       st,
		locks:       locks,
		tenants:     tenants,
		logger:      zap.NewNop(),
		retries:     3,
		backoffBase: 20 * time.Millisecond,
		now:         time.Now,
	}
	a.backOff = a.exponentialBackOff
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) exponentialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.backoffBase
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Next allocates the next number for docType, as seen on date asOf, in its
// own transaction under the sequence lock.
func (a *Allocator) Next(ctx context.Context, tenantID, docType string, asOf time.Time) (string, error) {
	key := lock.SequenceKey(tenantID, docType)

	var number string
	attempt := 0
	op := func() error {
		attempt++
		err := a.locks.WithLock(ctx, key, func(ctx context.Context) error {
			return a.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
				n, err := a.NextInTx(ctx, tx, tenantID, docType, asOf)
				number = n
				return err
			})
		})
		if err != nil && !apperr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		a.logger.Debug("sequence contention, retrying",
			zap.String("tenant_id", tenantID),
			zap.String("doc_type", docType),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(a.backOff(), uint64(max(a.retries, 0))), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return number, nil
	case apperr.IsRetryable(err):
		return "", apperr.Wrap(apperr.CodeSequenceContention, err,
			"%s sequence of tenant %s still contended after %d attempts", docType, tenantID, attempt)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return "", apperr.Wrap(apperr.CodeLockTimeout, err, "waiting to retry %s sequence", docType)
	}
	return "", err
}

// NextInTx allocates a number inside the caller's transaction. The counter
// row stays locked until that transaction ends, and rolls back with it.
func (a *Allocator) NextInTx(ctx context.Context, tx store.Tx, tenantID, docType string, asOf time.Time) (string, error) {
	if docType == "" {
		return "", apperr.New(apperr.CodeInvalidPayload, "document type is required").WithField("type")
	}
	t := a.tenants.Tenant(tenantID)
	sc := t.Sequence(docType)
	policy := model.ResetPolicy(sc.Reset)

	cal, err := period.ParseCalendar(t.YearStart)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInvalidPayload, err, "tenant %s fiscal calendar", tenantID)
	}
	marker, err := resetMarker(policy, cal, asOf)
	if err != nil {
		return "", err
	}

	c, err := tx.LockCounter(ctx, model.SequenceCounter{
		TenantID:     tenantID,
		DocumentType: docType,
		Marker:       marker,
		NextValue:    1,
		ResetPolicy:  policy,
	})
	if err != nil {
		return "", fmt.Errorf("locking %s counter: %w", docType, err)
	}

	if c.NextValue < 1 {
		c.NextValue = 1
	}
	n := c.NextValue
	c.NextValue++
	c.ResetPolicy = policy
	c.UpdatedAt = a.now().UTC()

	if err := tx.SaveCounter(ctx, c); err != nil {
		return "", fmt.Errorf("saving %s counter: %w", docType, err)
	}
	return Format(sc, marker, n), nil
}

// Format renders a document number: "JV-FY2025-00042" for a fiscal-year
// series, "JV-2025-00042" for a calendar-year series and "JV-00042" when the
// series never resets.
func Format(sc config.SequenceConfig, marker string, n int64) string {
	return id.FormatDocumentNumber(id.JoinPrefix(sc.Separator, sc.Prefix, marker), sc.Separator, n, sc.Padding)
}

// resetMarker names the series a number belongs to. Each marker has its own
// counter, so a backdated document continues the series of its own year.
func resetMarker(policy model.ResetPolicy, cal period.Calendar, asOf time.Time) (string, error) {
	switch policy {
	case model.ResetNever:
		return "", nil
	case model.ResetFiscalYear:
		return cal.FiscalYearCode(asOf), nil
	case model.ResetCalendarYear:
		return strconv.Itoa(asOf.Year()), nil
	}
	return "", apperr.New(apperr.CodeInvalidPayload, "unknown reset policy %q", policy).WithField("reset")
}
