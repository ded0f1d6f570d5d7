// Package voucher moves vouchers through their lifecycle and posts them to
// the ledger.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/audit"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/currency"
	"github.com/cleared-dev/ledger/internal/events"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/lock"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/period"
	"github.com/cleared-dev/ledger/internal/sequence"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/tax"
)

const instrumentationName = "github.com/cleared-dev/ledger/internal/voucher"

// Stage names attached to errors raised while posting.
const (
	StagePayload  = "payload"
	StagePeriod   = "period"
	StageAccounts = "accounts"
	StageBalance  = "balance"
	StageSequence = "sequence"
	StageCurrency = "currency"
	StageTax      = "tax"
	StagePersist  = "persist"
)

// TenantSource resolves per-tenant configuration.
type TenantSource interface {
	Tenant(id string) config.Tenant
}

// Service is the voucher orchestrator.
type Service struct {
	store   store.Store
	locks   lock.Manager
	tenants TenantSource

	sequences *sequence.Allocator
	seqOpts   []sequence.Option
	rates     currency.RateSource
	taxes     *tax.Engine
	periods   *period.Guard

	logger    *zap.Logger
	publisher events.Publisher
	recorder  audit.Recorder
	tracer    trace.Tracer
	meter     metric.Meter
	now       func() time.Time

	posted   metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPublisher sets where posted and reversed vouchers are announced.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRecorder sets the audit trail.
func WithRecorder(r audit.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// WithRateSource replaces the store as the source of exchange rates.
func WithRateSource(src currency.RateSource) Option {
	return func(s *Service) { s.rates = src }
}

// WithSequenceRetry tunes contention retries of standalone number allocation.
func WithSequenceRetry(retries int, base time.Duration) Option {
	return func(s *Service) { s.seqOpts = append(s.seqOpts, sequence.WithRetry(retries, base)) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the orchestrator. Without options it logs nowhere,
// publishes nothing and reads rates from st.
func NewService(st store.Store, locks lock.Manager, tenants TenantSource, opts ...Option) (*Service, error) {
	s := &Service{
		store:     st,
		locks:     locks,
		tenants:   tenants,
		rates:     st,
		taxes:     tax.NewEngine(),
		periods:   period.NewGuard(),
		logger:    zap.NewNop(),
		publisher: events.Nop{},
		recorder:  audit.Nop{},
		tracer:    tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:     metricnoop.NewMeterProvider().Meter(instrumentationName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sequences = sequence.NewAllocator(st, locks, tenants, append(s.seqOpts, sequence.WithLogger(s.logger))...)

	var err error
	if s.posted, err = s.meter.Int64Counter("ledger.vouchers.posted",
		metric.WithDescription("Vouchers posted, reversals included")); err != nil {
		return nil, fmt.Errorf("creating posted counter: %w", err)
	}
	if s.failed, err = s.meter.Int64Counter("ledger.vouchers.failed",
		metric.WithDescription("Failed voucher operations by stage and code")); err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}
	if s.duration, err = s.meter.Float64Histogram("ledger.voucher.post.duration",
		metric.WithDescription("Time spent posting a voucher"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	return s, nil
}

// Sequences exposes the number allocator used by the service.
func (s *Service) Sequences() *sequence.Allocator {
	return s.sequences
}

// Get returns a voucher.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	return getVoucher(ctx, s.store, tenantID, id)
}

func getVoucher(ctx context.Context, r store.Reader, tenantID string, id uuid.UUID) (model.Voucher, error) {
	v, err := r.GetVoucher(ctx, tenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Voucher{}, apperr.New(apperr.CodeVoucherNotFound, "voucher %s not found", id)
	}
	if err != nil {
		return model.Voucher{}, fmt.Errorf("loading voucher %s: %w", id, err)
	}
	return v, nil
}

func lockVoucher(ctx context.Context, tx store.Tx, tenantID string, id uuid.UUID) (model.Voucher, error) {
	v, err := tx.LockVoucher(ctx, tenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Voucher{}, apperr.New(apperr.CodeVoucherNotFound, "voucher %s not found", id)
	}
	if err != nil {
		return model.Voucher{}, fmt.Errorf("locking voucher %s: %w", id, err)
	}
	return v, nil
}

// Save stores a submission as a draft. A repeated idempotency key returns
// the voucher saved the first time.
func (s *Service) Save(ctx context.Context, sub Submission) (model.Voucher, error) {
	ctx, span := s.tracer.Start(ctx, "voucher.Save", trace.WithAttributes(attribute.String("tenant.id", sub.TenantID)))
	defer span.End()

	v, err := sub.Voucher()
	if err != nil {
		err = apperr.WithStage(StagePayload, err)
		s.fail(ctx, span, "save", sub.TenantID, uuid.Nil, err)
		return model.Voucher{}, err
	}

	var saved model.Voucher
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if v.IdempotencyKey != "" {
			existing, err := tx.VoucherByIdempotencyKey(ctx, v.TenantID, v.IdempotencyKey)
			if err == nil {
				saved = existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("looking up idempotency key: %w", err)
			}
		}

		now := s.now().UTC()
		v.ID = uuid.New()
		v.TotalDebit, v.TotalCredit = journal.Totals(v.Lines)
		v.CreatedAt = now
		v.UpdatedAt = now
		if err := tx.InsertVoucher(ctx, v); err != nil {
			return fmt.Errorf("inserting voucher: %w", err)
		}
		saved = v
		return nil
	})
	if errors.Is(err, store.ErrConflict) && v.IdempotencyKey != "" {
		// Lost a race with a concurrent save of the same key.
		saved, err = s.store.VoucherByIdempotencyKey(ctx, v.TenantID, v.IdempotencyKey)
	}
	if err != nil {
		err = apperr.WithStage(StagePersist, err)
		s.fail(ctx, span, "save", v.TenantID, uuid.Nil, err)
		return model.Voucher{}, err
	}

	span.SetAttributes(attribute.String("voucher.id", saved.ID.String()))
	s.logger.Info("voucher saved",
		zap.String("tenant_id", saved.TenantID),
		zap.String("voucher_id", saved.ID.String()),
		zap.String("status", string(saved.Status)))
	return saved, nil
}

// Validate checks a draft or validated voucher and reports every failing
// rule. A passing draft becomes validated; a failing validated voucher
// returns to draft. The returned error is reserved for failures to run the
// checks at all.
func (s *Service) Validate(ctx context.Context, tenantID string, id uuid.UUID) (*apperr.Result, model.Voucher, error) {
	ctx, span := s.tracer.Start(ctx, "voucher.Validate", trace.WithAttributes(
		attribute.String("tenant.id", tenantID), attribute.String("voucher.id", id.String())))
	defer span.End()

	result := apperr.NewResult()
	var out model.Voucher
	err := s.locks.WithLock(ctx, lock.VoucherKey(tenantID, id.String()), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			v, err := lockVoucher(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}
			if _, err := Transition(v.Status, ActionValidate); err != nil {
				return err
			}

			issues, err := s.checks(ctx, tx, v)
			if err != nil {
				return err
			}
			result.Add(issues...)

			action := ActionValidate
			if !result.Valid {
				action = ActionInvalidate
			}
			next, err := Transition(v.Status, action)
			if err != nil {
				// A failing draft stays a draft.
				out = v
				return nil
			}
			if next != v.Status {
				v.Status = next
				v.UpdatedAt = s.now().UTC()
				if err := tx.UpdateVoucher(ctx, v); err != nil {
					return apperr.WithStage(StagePersist, err)
				}
			}
			out = v
			return nil
		})
	})
	if err != nil {
		s.fail(ctx, span, "validate", tenantID, id, err)
		return nil, model.Voucher{}, err
	}

	span.SetAttributes(attribute.Bool("voucher.valid", result.Valid))
	if !result.Valid {
		s.logger.Debug("voucher failed validation",
			zap.String("tenant_id", tenantID),
			zap.String("voucher_id", id.String()),
			zap.Int("issues", len(result.Errors)))
	}
	return result, out, nil
}

// checks runs the period, account and balance rules and returns every
// failure tagged with its stage. The error return is for store failures.
func (s *Service) checks(ctx context.Context, r store.Reader, v model.Voucher) ([]error, error) {
	var issues []error

	if err := s.periods.Check(ctx, r, v.TenantID, v.Date, v.Adjusting); err != nil {
		if apperr.KindOf(err) == apperr.KindFatal {
			return nil, apperr.WithStage(StagePeriod, err)
		}
		issues = append(issues, apperr.WithStage(StagePeriod, err))
	}

	accts := make(map[uuid.UUID]model.Account, len(v.Lines))
	for i, l := range v.Lines {
		if _, ok := accts[l.AccountID]; ok {
			continue
		}
		field := fmt.Sprintf("lines[%d].account_id", i)
		a, err := r.GetAccount(ctx, v.TenantID, l.AccountID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			issues = append(issues, apperr.WithStage(StageAccounts,
				apperr.New(apperr.CodeAccountNotFound, "account %s not found", l.AccountID).WithField(field)))
			continue
		case err != nil:
			return nil, apperr.WithStage(StageAccounts, fmt.Errorf("loading account %s: %w", l.AccountID, err))
		case !a.Active:
			issues = append(issues, apperr.WithStage(StageAccounts,
				apperr.New(apperr.CodeAccountInactive, "account %s is inactive", a.Code).WithField(field)))
		}
		accts[l.AccountID] = a
	}

	balancer := journal.NewBalancer(s.tenants.Tenant(v.TenantID).Tolerance)
	for _, err := range balancer.Check(v.Lines, accts) {
		issues = append(issues, apperr.WithStage(StageBalance, err))
	}
	return issues, nil
}

// fail records a failed operation on the span, in metrics and logs, and
// writes an audit entry for concurrency and fatal failures.
func (s *Service) fail(ctx context.Context, span trace.Span, op, tenantID string, voucherID uuid.UUID, err error) {
	var stage string
	var e *apperr.Error
	if errors.As(err, &e) {
		stage = e.Stage
	}
	code := string(apperr.CodeOf(err))
	kind := apperr.KindOf(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, code)
	s.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("stage", stage),
		attribute.String("code", code)))

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("tenant_id", tenantID),
		zap.String("voucher_id", voucherID.String()),
		zap.String("stage", stage),
		zap.String("code", code),
		zap.Error(err),
	}
	if kind == apperr.KindValidation || kind == apperr.KindResource {
		s.logger.Warn("voucher operation rejected", fields...)
		return
	}

	s.logger.Error("voucher operation failed", fields...)
	s.audit(ctx, audit.Entry{
		TenantID:  tenantID,
		Action:    audit.ActionFailure,
		VoucherID: voucherID.String(),
		Stage:     stage,
		Code:      code,
		Details:   fmt.Sprintf("%s: %v", op, err),
	})
}

func (s *Service) audit(ctx context.Context, e audit.Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if err := s.recorder.Record(ctx, e); err != nil {
		s.logger.Error("writing audit entry", zap.String("action", e.Action), zap.Error(err))
	}
}

// stage runs fn in a child span and tags its error with the stage name.
func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "voucher.stage."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		err = apperr.WithStage(name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		return err
	}
	return nil
}
