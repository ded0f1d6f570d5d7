// Package memory is an in-process implementation of store.Store.
//
// A transaction works on a copy of the committed state and swaps it in on
// success. Write transactions are serialized by a single lock acquired with
// a bounded wait, which makes every Lock* call trivially exclusive.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

const defaultLockTimeout = 5 * time.Second

type counterKey struct {
	tenant  string
	docType string
	marker  string
}

type taxKey struct {
	tenant string
	id     string
}

type data struct {
	accounts map[uuid.UUID]model.Account
	vouchers map[uuid.UUID]model.Voucher
	counters map[counterKey]model.SequenceCounter
	taxCodes map[taxKey]model.TaxCode
	rates    []model.ExchangeRate
	periods  map[uuid.UUID]model.Period
}

func newData() *data {
	return &data{
		accounts: make(map[uuid.UUID]model.Account),
		vouchers: make(map[uuid.UUID]model.Voucher),
		counters: make(map[counterKey]model.SequenceCounter),
		taxCodes: make(map[taxKey]model.TaxCode),
		periods:  make(map[uuid.UUID]model.Period),
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each map is enough.
func (d *data) clone() *data {
	c := &data{
		accounts: make(map[uuid.UUID]model.Account, len(d.accounts)),
		vouchers: make(map[uuid.UUID]model.Voucher, len(d.vouchers)),
		counters: make(map[counterKey]model.SequenceCounter, len(d.counters)),
		taxCodes: make(map[taxKey]model.TaxCode, len(d.taxCodes)),
		rates:    append([]model.ExchangeRate(nil), d.rates...),
		periods:  make(map[uuid.UUID]model.Period, len(d.periods)),
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range d.counters {
		c.counters[k] = v
	}
	for k, v := range d.taxCodes {
		c.taxCodes[k] = v
	}
	for k, v := range d.periods {
		c.periods[k] = v
	}
	return c
}

// Store keeps ledger state in memory.
type Store struct {
	mu          sync.RWMutex
	cur         *data
	writer      chan struct{}
	lockTimeout time.Duration
	now         func() time.Time
	onCommit    func(ctx context.Context, snap Snapshot) error
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long WithTx waits for the write lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithCommitHook calls fn with the state a transaction is about to commit.
// The commit is abandoned when fn fails, so fn can make the state durable
// before any caller sees it.
func WithCommitHook(fn func(ctx context.Context, snap Snapshot) error) Option {
	return func(s *Store) { s.onCommit = fn }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		cur:         newData(),
		writer:      make(chan struct{}, 1),
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// WithTx runs fn against a private copy of the state and commits it when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.writer <- struct{}{}:
	case <-timer.C:
		return apperr.New(apperr.CodeLockTimeout, "waited %s for the store write lock", s.lockTimeout)
	case <-ctx.Done():
		return fmt.Errorf("waiting for store write lock: %w", ctx.Err())
	}
	defer func() { <-s.writer }()

	s.mu.RLock()
	work := s.cur.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{reader: reader{d: work}, now: s.now}); err != nil {
		return err
	}
	if s.onCommit != nil {
		if err := s.onCommit(ctx, work.snapshot()); err != nil {
			var e *apperr.Error
			if errors.As(err, &e) {
				return err
			}
			return apperr.Wrap(apperr.CodePersistence, err, "committing store state")
		}
	}

	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}

func (s *Store) committed() reader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.cur}
}

// The committed maps are replaced, never mutated, after a commit, so a
// reader holding the old pointer sees a consistent snapshot.

func (s *Store) GetAccount(ctx context.Context, tenantID string, id uuid.UUID) (model.Account, error) {
	return s.committed().GetAccount(ctx, tenantID, id)
}

func (s *Store) AccountByCode(ctx context.Context, tenantID, code string) (model.Account, error) {
	return s.committed().AccountByCode(ctx, tenantID, code)
}

func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]model.Account, error) {
	return s.committed().ListAccounts(ctx, tenantID)
}

func (s *Store) Children(ctx context.Context, tenantID string, parentID *uuid.UUID) ([]model.Account, error) {
	return s.committed().Children(ctx, tenantID, parentID)
}

func (s *Store) Descendants(ctx context.Context, tenantID, prefix string) ([]model.Account, error) {
	return s.committed().Descendants(ctx, tenantID, prefix)
}

func (s *Store) GetVoucher(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	return s.committed().GetVoucher(ctx, tenantID, id)
}

func (s *Store) VoucherByIdempotencyKey(ctx context.Context, tenantID, key string) (model.Voucher, error) {
	return s.committed().VoucherByIdempotencyKey(ctx, tenantID, key)
}

func (s *Store) VoucherByPostKey(ctx context.Context, tenantID, key string) (model.Voucher, error) {
	return s.committed().VoucherByPostKey(ctx, tenantID, key)
}

func (s *Store) PostedDeltaAfter(ctx context.Context, tenantID string, accountIDs []uuid.UUID, after time.Time) (decimal.Decimal, error) {
	return s.committed().PostedDeltaAfter(ctx, tenantID, accountIDs, after)
}

func (s *Store) LatestRate(ctx context.Context, from, to string, on time.Time) (model.ExchangeRate, error) {
	return s.committed().LatestRate(ctx, from, to, on)
}

func (s *Store) GetTaxCode(ctx context.Context, tenantID, id string) (model.TaxCode, error) {
	return s.committed().GetTaxCode(ctx, tenantID, id)
}

func (s *Store) PeriodsCovering(ctx context.Context, tenantID string, date time.Time) ([]model.Period, error) {
	return s.committed().PeriodsCovering(ctx, tenantID, date)
}

func (s *Store) ListPeriods(ctx context.Context, tenantID string) ([]model.Period, error) {
	return s.committed().ListPeriods(ctx, tenantID)
}

type reader struct {
	d *data
}

func (r reader) GetAccount(_ context.Context, tenantID string, id uuid.UUID) (model.Account, error) {
	a, ok := r.d.accounts[id]
	if !ok || a.TenantID != tenantID {
		return model.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (r reader) AccountByCode(_ context.Context, tenantID, code string) (model.Account, error) {
	for _, a := range r.d.accounts {
		if a.TenantID == tenantID && a.Code == code {
			return a, nil
		}
	}
	return model.Account{}, store.ErrNotFound
}

func (r reader) ListAccounts(_ context.Context, tenantID string) ([]model.Account, error) {
	return r.filterAccounts(func(a model.Account) bool { return a.TenantID == tenantID }), nil
}

func (r reader) Children(_ context.Context, tenantID string, parentID *uuid.UUID) ([]model.Account, error) {
	return r.filterAccounts(func(a model.Account) bool {
		if a.TenantID != tenantID {
			return false
		}
		if parentID == nil {
			return a.ParentID == nil
		}
		return a.ParentID != nil && *a.ParentID == *parentID
	}), nil
}

func (r reader) Descendants(_ context.Context, tenantID, prefix string) ([]model.Account, error) {
	accts := r.filterAccounts(func(a model.Account) bool {
		return a.TenantID == tenantID && strings.HasPrefix(a.TreePath, prefix)
	})
	sort.SliceStable(accts, func(i, j int) bool { return accts[i].Level < accts[j].Level })
	return accts, nil
}

func (r reader) filterAccounts(keep func(model.Account) bool) []model.Account {
	var out []model.Account
	for _, a := range r.d.accounts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r reader) GetVoucher(_ context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	v, ok := r.d.vouchers[id]
	if !ok || v.TenantID != tenantID {
		return model.Voucher{}, store.ErrNotFound
	}
	return v.Clone(), nil
}

func (r reader) VoucherByIdempotencyKey(_ context.Context, tenantID, key string) (model.Voucher, error) {
	return r.findVoucher(func(v model.Voucher) bool {
		return key != "" && v.TenantID == tenantID && v.IdempotencyKey == key
	})
}

func (r reader) VoucherByPostKey(_ context.Context, tenantID, key string) (model.Voucher, error) {
	return r.findVoucher(func(v model.Voucher) bool {
		return key != "" && v.TenantID == tenantID && v.PostIdempotencyKey == key
	})
}

func (r reader) findVoucher(match func(model.Voucher) bool) (model.Voucher, error) {
	for _, v := range r.d.vouchers {
		if match(v) {
			return v.Clone(), nil
		}
	}
	return model.Voucher{}, store.ErrNotFound
}

func (r reader) PostedDeltaAfter(_ context.Context, tenantID string, accountIDs []uuid.UUID, after time.Time) (decimal.Decimal, error) {
	want := make(map[uuid.UUID]bool, len(accountIDs))
	for _, id := range accountIDs {
		want[id] = true
	}
	cutoff := model.TruncateDate(after)
	total := decimal.Zero
	for _, v := range r.d.vouchers {
		if v.TenantID != tenantID {
			continue
		}
		if v.Status != model.StatusPosted && v.Status != model.StatusReversed {
			continue
		}
		if !model.TruncateDate(v.Date).After(cutoff) {
			continue
		}
		for _, l := range v.Lines {
			if want[l.AccountID] {
				total = total.Add(l.Delta)
			}
		}
	}
	return total, nil
}

func (r reader) LatestRate(_ context.Context, from, to string, on time.Time) (model.ExchangeRate, error) {
	day := model.TruncateDate(on)
	var best model.ExchangeRate
	found := false
	for _, rate := range r.d.rates {
		if rate.From != from || rate.To != to || model.TruncateDate(rate.Date).After(day) {
			continue
		}
		if !found || rate.Date.After(best.Date) {
			best = rate
			found = true
		}
	}
	if !found {
		return model.ExchangeRate{}, store.ErrNotFound
	}
	return best, nil
}

func (r reader) GetTaxCode(_ context.Context, tenantID, id string) (model.TaxCode, error) {
	c, ok := r.d.taxCodes[taxKey{tenant: tenantID, id: id}]
	if !ok {
		return model.TaxCode{}, store.ErrNotFound
	}
	return c, nil
}

func (r reader) PeriodsCovering(_ context.Context, tenantID string, date time.Time) ([]model.Period, error) {
	return r.filterPeriods(func(p model.Period) bool {
		return p.TenantID == tenantID && p.Contains(date)
	}), nil
}

func (r reader) ListPeriods(_ context.Context, tenantID string) ([]model.Period, error) {
	return r.filterPeriods(func(p model.Period) bool { return p.TenantID == tenantID }), nil
}

func (r reader) filterPeriods(keep func(model.Period) bool) []model.Period {
	var out []model.Period
	for _, p := range r.d.periods {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

type tx struct {
	reader
	now func() time.Time
}

var _ store.Tx = (*tx)(nil)

func (t *tx) LockAccounts(ctx context.Context, tenantID string, ids []uuid.UUID) (map[uuid.UUID]model.Account, error) {
	out := make(map[uuid.UUID]model.Account, len(ids))
	for _, id := range ids {
		a, err := t.GetAccount(ctx, tenantID, id)
		if err != nil {
			return nil, fmt.Errorf("locking account %s: %w", id, err)
		}
		out[id] = a
	}
	return out, nil
}

func (t *tx) InsertAccount(ctx context.Context, a model.Account) error {
	if _, ok := t.d.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, store.ErrConflict)
	}
	if _, err := t.AccountByCode(ctx, a.TenantID, a.Code); err == nil {
		return fmt.Errorf("account code %s: %w", a.Code, store.ErrConflict)
	}
	t.d.accounts[a.ID] = a
	return nil
}

func (t *tx) UpdateAccount(ctx context.Context, a model.Account) error {
	prev, err := t.GetAccount(ctx, a.TenantID, a.ID)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", a.ID, err)
	}
	if prev.Code != a.Code {
		if _, err := t.AccountByCode(ctx, a.TenantID, a.Code); err == nil {
			return fmt.Errorf("account code %s: %w", a.Code, store.ErrConflict)
		}
	}
	t.d.accounts[a.ID] = a
	return nil
}

func (t *tx) LockVoucher(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	return t.GetVoucher(ctx, tenantID, id)
}

func (t *tx) InsertVoucher(_ context.Context, v model.Voucher) error {
	if _, ok := t.d.vouchers[v.ID]; ok {
		return fmt.Errorf("voucher %s: %w", v.ID, store.ErrConflict)
	}
	if err := t.checkVoucherUnique(v); err != nil {
		return err
	}
	t.d.vouchers[v.ID] = v.Clone()
	return nil
}

func (t *tx) UpdateVoucher(ctx context.Context, v model.Voucher) error {
	if _, err := t.GetVoucher(ctx, v.TenantID, v.ID); err != nil {
		return fmt.Errorf("updating voucher %s: %w", v.ID, err)
	}
	if err := t.checkVoucherUnique(v); err != nil {
		return err
	}
	t.d.vouchers[v.ID] = v.Clone()
	return nil
}

func (t *tx) checkVoucherUnique(v model.Voucher) error {
	for _, other := range t.d.vouchers {
		if other.ID == v.ID || other.TenantID != v.TenantID {
			continue
		}
		switch {
		case v.Number != "" && other.Number == v.Number:
			return fmt.Errorf("voucher number %s: %w", v.Number, store.ErrConflict)
		case v.IdempotencyKey != "" && other.IdempotencyKey == v.IdempotencyKey:
			return fmt.Errorf("idempotency key %s: %w", v.IdempotencyKey, store.ErrConflict)
		case v.PostIdempotencyKey != "" && other.PostIdempotencyKey == v.PostIdempotencyKey:
			return fmt.Errorf("post key %s: %w", v.PostIdempotencyKey, store.ErrConflict)
		}
	}
	return nil
}

func (t *tx) LockCounter(_ context.Context, init model.SequenceCounter) (model.SequenceCounter, error) {
	key := counterKey{tenant: init.TenantID, docType: init.DocumentType, marker: init.Marker}
	if c, ok := t.d.counters[key]; ok {
		return c, nil
	}
	init.UpdatedAt = t.now().UTC()
	t.d.counters[key] = init
	return init, nil
}

func (t *tx) SaveCounter(_ context.Context, c model.SequenceCounter) error {
	c.UpdatedAt = t.now().UTC()
	t.d.counters[counterKey{tenant: c.TenantID, docType: c.DocumentType, marker: c.Marker}] = c
	return nil
}

func (t *tx) InsertRate(_ context.Context, r model.ExchangeRate) error {
	day := model.TruncateDate(r.Date)
	for i, existing := range t.d.rates {
		if existing.From == r.From && existing.To == r.To && model.TruncateDate(existing.Date).Equal(day) {
			t.d.rates[i] = r
			return nil
		}
	}
	t.d.rates = append(t.d.rates, r)
	return nil
}

func (t *tx) InsertTaxCode(_ context.Context, c model.TaxCode) error {
	t.d.taxCodes[taxKey{tenant: c.TenantID, id: c.ID}] = c
	return nil
}

func (t *tx) InsertPeriod(_ context.Context, p model.Period) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := t.d.periods[p.ID]; ok {
		return fmt.Errorf("period %s: %w", p.ID, store.ErrConflict)
	}
	t.d.periods[p.ID] = p
	return nil
}

func (t *tx) UpdatePeriod(_ context.Context, p model.Period) error {
	if _, ok := t.d.periods[p.ID]; !ok {
		return fmt.Errorf("updating period %s: %w", p.ID, store.ErrNotFound)
	}
	t.d.periods[p.ID] = p
	return nil
}
