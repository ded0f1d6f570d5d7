package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

const tenant = "acme"

func cash() model.Account {
	return model.Account{
		ID:             uuid.New(),
		TenantID:       tenant,
		Code:           "1000",
		Name:           "Cash",
		Type:           model.AccountTypeAsset,
		TreePath:       "1000",
		Level:          1,
		CurrentBalance: decimal.RequireFromString("12.50"),
		Active:         true,
	}
}

func TestOpen_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger", "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	a := cash()
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, a); err != nil {
			return err
		}
		_, err := tx.LockCounter(ctx, model.SequenceCounter{TenantID: tenant, DocumentType: "journal", Marker: "FY2025", NextValue: 7})
		return err
	}))

	reopened, err := Open(path)
	require.NoError(t, err)
	got, err := reopened.GetAccount(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.5", got.CurrentBalance.String())

	require.NoError(t, reopened.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.LockCounter(ctx, model.SequenceCounter{TenantID: tenant, DocumentType: "journal", Marker: "FY2025", NextValue: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(7), c.NextValue)
		return nil
	}))
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	list, err := s.ListAccounts(context.Background(), tenant)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOpen_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Open(path)
	assert.ErrorContains(t, err, "parsing ledger state")
}

func TestSave_RollbackLeavesFileAlone(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, cash()); err != nil {
			return err
		}
		return apperr.New(apperr.CodeUnbalanced, "rejected")
	})
	require.Error(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSave_RefusesStaleState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	first, err := Open(path)
	require.NoError(t, err)
	second, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, first.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, cash())
	}))

	err = second.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a := cash()
		a.Code, a.TreePath = "2000", "2000"
		return tx.InsertAccount(ctx, a)
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeLockTimeout, apperr.CodeOf(err))

	_, err = second.AccountByCode(ctx, tenant, "2000")
	assert.ErrorIs(t, err, store.ErrNotFound)

	reloaded, err := Open(path)
	require.NoError(t, err)
	list, err := reloaded.ListAccounts(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1000", list[0].Code)
}
