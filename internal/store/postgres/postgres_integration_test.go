//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

const tenant = "acme"

func setupStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Errorf("terminating container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, config.StoreConfig{
		Driver:        "postgres",
		PrimaryDSN:    dsn,
		ReplicaDSN:    dsn,
		DatabaseName:  "ledger",
		RunMigrations: true,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func seedAccounts(t *testing.T, s *Store) (model.Account, model.Account) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	root := model.Account{
		ID: uuid.New(), TenantID: tenant, Code: "1000", Name: "Current Assets",
		Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset,
		TreePath: "1000", Level: 1, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	cash := model.Account{
		ID: uuid.New(), TenantID: tenant, Code: "1000.01", Name: "Cash",
		Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset,
		ParentID: &root.ID, TreePath: "1000/1000.01", Level: 2, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, root); err != nil {
			return err
		}
		return tx.InsertAccount(ctx, cash)
	})
	require.NoError(t, err)
	return root, cash
}

func TestIntegration_AccountsAndTree(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	root, cash := seedAccounts(t, s)

	got, err := s.AccountByCode(ctx, tenant, "1000.01")
	require.NoError(t, err)
	assert.Equal(t, cash.ID, got.ID)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, root.ID, *got.ParentID)

	roots, err := s.Children(ctx, tenant, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "1000", roots[0].Code)

	desc, err := s.Descendants(ctx, tenant, "1000")
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "1000", desc[0].Code)

	_, err = s.GetAccount(ctx, "other", cash.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		dup := cash
		dup.ID = uuid.New()
		return tx.InsertAccount(ctx, dup)
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestIntegration_RollbackDiscardsWrites(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, cash := seedAccounts(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		accts, err := tx.LockAccounts(ctx, tenant, []uuid.UUID{cash.ID})
		if err != nil {
			return err
		}
		a := accts[cash.ID]
		a.CurrentBalance = decimal.NewFromInt(99)
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, tenant, cash.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentBalance.IsZero())
}

func TestIntegration_VoucherRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	root, cash := seedAccounts(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	v := model.Voucher{
		ID: uuid.New(), TenantID: tenant, Type: model.VoucherJournal, Date: day("2025-06-15"),
		Currency: "USD", Status: model.StatusDraft, IdempotencyKey: "k1",
		TotalDebit: decimal.NewFromInt(10), TotalCredit: decimal.NewFromInt(10),
		CreatedAt: now, UpdatedAt: now,
		Lines: []model.Line{
			{LineNo: 1, AccountID: cash.ID, Debit: decimal.NewFromInt(10), TaxCodes: []string{"GST5", "PST7"},
				Dimensions: model.Dimensions{CostCenter: "OPS"}},
			{LineNo: 2, AccountID: root.ID, Credit: decimal.NewFromInt(10)},
		},
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertVoucher(ctx, v)
	}))

	got, err := s.VoucherByIdempotencyKey(ctx, tenant, "k1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, v.Date, got.Date)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, []string{"GST5", "PST7"}, got.Lines[0].TaxCodes)
	assert.Equal(t, "OPS", got.Lines[0].Dimensions.CostCenter)

	posted := now.Add(time.Minute)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockVoucher(ctx, tenant, v.ID)
		if err != nil {
			return err
		}
		locked.Status = model.StatusPosted
		locked.Number = "JV-FY2025-00001"
		locked.PostIdempotencyKey = "p1"
		locked.PostedAt = &posted
		locked.Lines[0].Delta = decimal.NewFromInt(10)
		locked.Lines[1].Delta = decimal.NewFromInt(-10)
		return tx.UpdateVoucher(ctx, locked)
	}))

	byKey, err := s.VoucherByPostKey(ctx, tenant, "p1")
	require.NoError(t, err)
	assert.Equal(t, "JV-FY2025-00001", byKey.Number)
	require.NotNil(t, byKey.PostedAt)
	assert.True(t, posted.Equal(*byKey.PostedAt))

	delta, err := s.PostedDeltaAfter(ctx, tenant, []uuid.UUID{cash.ID}, day("2025-06-01"))
	require.NoError(t, err)
	assert.Equal(t, "10", delta.String())
	delta, err = s.PostedDeltaAfter(ctx, tenant, []uuid.UUID{cash.ID}, day("2025-06-15"))
	require.NoError(t, err)
	assert.True(t, delta.IsZero())

	// Numbers are unique per tenant once assigned; empty numbers are not.
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		dup := v.Clone()
		dup.ID = uuid.New()
		dup.IdempotencyKey = ""
		dup.Number = "JV-FY2025-00001"
		return tx.InsertVoucher(ctx, dup)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for range 2 {
			d := v.Clone()
			d.ID = uuid.New()
			d.IdempotencyKey = ""
			if err := tx.InsertVoucher(ctx, d); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestIntegration_Counter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	next := func(marker string) int64 {
		var got int64
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			c, err := tx.LockCounter(ctx, model.SequenceCounter{
				TenantID: tenant, DocumentType: "journal", Marker: marker, NextValue: 1, ResetPolicy: model.ResetFiscalYear,
			})
			if err != nil {
				return err
			}
			got = c.NextValue
			c.NextValue++
			return tx.SaveCounter(ctx, c)
		}))
		return got
	}

	assert.Equal(t, int64(1), next("FY2025"))
	assert.Equal(t, int64(2), next("FY2025"))
	assert.Equal(t, int64(1), next("FY2024"))
	assert.Equal(t, int64(3), next("FY2025"))
	assert.Equal(t, int64(2), next("FY2024"))
}

func TestIntegration_LockTimeout(t *testing.T) {
	s := setupStore(t, WithLockTimeout(100*time.Millisecond))
	ctx := context.Background()
	_, cash := seedAccounts(t, s)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.LockAccounts(ctx, tenant, []uuid.UUID{cash.ID}); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockAccounts(ctx, tenant, []uuid.UUID{cash.ID})
		return err
	})
	close(release)
	require.NoError(t, <-done)

	assert.ErrorIs(t, err, apperr.ErrLockTimeout)
	assert.True(t, apperr.IsRetryable(err))
}

func TestIntegration_RatesTaxPeriods(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, r := range []model.ExchangeRate{
			{From: "EUR", To: "USD", Date: day("2025-06-01"), Rate: decimal.RequireFromString("1.1")},
			{From: "EUR", To: "USD", Date: day("2025-06-10"), Rate: decimal.RequireFromString("1.2")},
			{From: "EUR", To: "USD", Date: day("2025-06-10"), Rate: decimal.RequireFromString("1.15")},
		} {
			if err := tx.InsertRate(ctx, r); err != nil {
				return err
			}
		}
		if err := tx.InsertTaxCode(ctx, model.TaxCode{
			ID: "VAT13", TenantID: tenant, Rate: decimal.NewFromInt(13), EffectiveFrom: day("2025-01-01"),
		}); err != nil {
			return err
		}
		for _, p := range []model.Period{
			{TenantID: tenant, Kind: model.PeriodKindFiscalYear, Code: "FY2025", Start: day("2025-01-01"), End: day("2025-12-31"), Status: model.PeriodOpen},
			{TenantID: tenant, Kind: model.PeriodKindPeriod, Code: "FY2025-P06", Start: day("2025-06-01"), End: day("2025-06-30"), Status: model.PeriodOpen},
		} {
			if err := tx.InsertPeriod(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	r, err := s.LatestRate(ctx, "EUR", "USD", day("2025-06-15"))
	require.NoError(t, err)
	assert.Equal(t, "1.15", r.Rate.String())
	r, err = s.LatestRate(ctx, "EUR", "USD", day("2025-06-05"))
	require.NoError(t, err)
	assert.Equal(t, "1.1", r.Rate.String())
	_, err = s.LatestRate(ctx, "EUR", "USD", day("2025-05-31"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	c, err := s.GetTaxCode(ctx, tenant, "VAT13")
	require.NoError(t, err)
	assert.Equal(t, "13", c.Rate.String())
	assert.Nil(t, c.EffectiveTo)

	covering, err := s.PeriodsCovering(ctx, tenant, day("2025-06-30"))
	require.NoError(t, err)
	require.Len(t, covering, 2)
	assert.Equal(t, "FY2025", covering[0].Code)

	p := covering[1]
	p.Status = model.PeriodClosed
	p.Locked = true
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdatePeriod(ctx, p)
	}))
	all, err := s.ListPeriods(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].Locked)
}
