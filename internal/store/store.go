// Package store defines the persistence ports of the ledger engine.
//
// All mutations happen inside Store.WithTx: the callback either returns nil
// and every change commits, or returns an error and nothing is visible.
// Reads outside a transaction observe committed data only.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// Reader exposes non-blocking reads.
type Reader interface {
	GetAccount(ctx context.Context, tenantID string, id uuid.UUID) (model.Account, error)
	AccountByCode(ctx context.Context, tenantID, code string) (model.Account, error)
	ListAccounts(ctx context.Context, tenantID string) ([]model.Account, error)
	Children(ctx context.Context, tenantID string, parentID *uuid.UUID) ([]model.Account, error)
	// Descendants returns every account whose tree path starts with prefix.
	Descendants(ctx context.Context, tenantID, prefix string) ([]model.Account, error)

	GetVoucher(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error)
	VoucherByIdempotencyKey(ctx context.Context, tenantID, key string) (model.Voucher, error)
	VoucherByPostKey(ctx context.Context, tenantID, key string) (model.Voucher, error)
	// PostedDeltaAfter sums the balance deltas of posted lines dated after the given day.
	PostedDeltaAfter(ctx context.Context, tenantID string, accountIDs []uuid.UUID, after time.Time) (decimal.Decimal, error)

	LatestRate(ctx context.Context, from, to string, on time.Time) (model.ExchangeRate, error)
	GetTaxCode(ctx context.Context, tenantID, id string) (model.TaxCode, error)
	PeriodsCovering(ctx context.Context, tenantID string, date time.Time) ([]model.Period, error)
	ListPeriods(ctx context.Context, tenantID string) ([]model.Period, error)
}

// Tx is a unit of work. Lock* methods take exclusive row locks held until
// the transaction ends.
type Tx interface {
	Reader

	LockAccounts(ctx context.Context, tenantID string, ids []uuid.UUID) (map[uuid.UUID]model.Account, error)
	InsertAccount(ctx context.Context, a model.Account) error
	UpdateAccount(ctx context.Context, a model.Account) error

	LockVoucher(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error)
	InsertVoucher(ctx context.Context, v model.Voucher) error
	UpdateVoucher(ctx context.Context, v model.Voucher) error

	// LockCounter returns the counter row, creating it from init when missing.
	LockCounter(ctx context.Context, init model.SequenceCounter) (model.SequenceCounter, error)
	SaveCounter(ctx context.Context, c model.SequenceCounter) error

	InsertRate(ctx context.Context, r model.ExchangeRate) error
	InsertTaxCode(ctx context.Context, c model.TaxCode) error
	InsertPeriod(ctx context.Context, p model.Period) error
	UpdatePeriod(ctx context.Context, p model.Period) error
}

// Store is a transactional ledger store.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
