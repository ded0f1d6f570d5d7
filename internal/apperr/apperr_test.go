package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeUnbalanced, "debits (100.00) != credits (99.00)")
	wrapped := fmt.Errorf("posting voucher: %w", err)

	assert.ErrorIs(t, wrapped, ErrUnbalanced)
	assert.NotErrorIs(t, wrapped, ErrEmptyJournal)
}

func TestKindOfCode(t *testing.T) {
	tests := []struct {
		code Code
		want Kind
	}{
		{CodeUnbalanced, KindValidation},
		{CodeCircularReference, KindValidation},
		{CodeNoRateAvailable, KindResource},
		{CodePeriodClosed, KindResource},
		{CodeLockTimeout, KindConcurrency},
		{CodePersistence, KindFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOfCode(tt.code), "code %s", tt.code)
	}
}

func TestWithStage(t *testing.T) {
	err := WithStage("sequence", New(CodeLockTimeout, "lock busy"))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "sequence", e.Stage)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "sequence: LOCK_TIMEOUT")
}

func TestWithStage_ForeignError(t *testing.T) {
	cause := errors.New("connection reset")
	err := WithStage("persist", cause)

	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, CodePersistence, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryable(err))
	assert.Nil(t, WithStage("persist", nil))
}

func TestWithFieldCopies(t *testing.T) {
	base := New(CodeNegativeAmount, "amount must not be negative")
	scoped := base.WithField("lines[1].debit")

	assert.Empty(t, base.Field)
	assert.Equal(t, "lines[1].debit", scoped.Field)
	assert.ErrorIs(t, scoped, ErrNegativeAmount)
}

func TestResult(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Valid)
	assert.Nil(t, r.First())

	r.Add(nil)
	assert.True(t, r.Valid)

	r.Add(New(CodeBothDebitCredit, "line has both sides").WithField("lines[0]"), errors.New("boom"))
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 2)
	assert.Equal(t, CodeBothDebitCredit, r.Errors[0].Code)
	assert.Equal(t, "lines[0]", r.Errors[0].Field)
	assert.Equal(t, CodePersistence, r.Errors[1].Code)
	assert.ErrorIs(t, r.First(), ErrBothDebitCredit)
	assert.Len(t, r.Causes(), 2)
}
