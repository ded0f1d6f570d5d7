// Package apperr defines the ledger error taxonomy.
//
// Every failure surfaced by the engine is an *Error carrying a Kind (how the
// caller should react) and a Code (which rule failed). Sentinel values such
// as ErrUnbalanced match any *Error with the same code through errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies how a caller should react to an error.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindResource    Kind = "resource"
	KindConcurrency Kind = "concurrency"
	KindFatal       Kind = "fatal"
)

// Code identifies the rule or condition that failed.
type Code string

const (
	CodeInvalidPayload       Code = "INVALID_PAYLOAD"
	CodeEmptyJournal         Code = "EMPTY_JOURNAL"
	CodeBothDebitCredit      Code = "BOTH_DEBIT_CREDIT"
	CodeNegativeAmount       Code = "NEGATIVE_AMOUNT"
	CodeZeroLine             Code = "ZERO_LINE"
	CodeUnbalanced           Code = "UNBALANCED"
	CodeDimensionRequired    Code = "DIMENSION_REQUIRED"
	CodeInvalidCodeFormat    Code = "INVALID_CODE_FORMAT"
	CodeDuplicateCode        Code = "DUPLICATE_CODE"
	CodeCircularReference    Code = "CIRCULAR_REFERENCE"
	CodeDepthExceeded        Code = "DEPTH_EXCEEDED"
	CodeTypeMismatch         Code = "TYPE_MISMATCH"
	CodeSiblingLimitExceeded Code = "SIBLING_LIMIT_EXCEEDED"
	CodeHierarchyFull        Code = "HIERARCHY_FULL"
	CodeAccountNotFound      Code = "ACCOUNT_NOT_FOUND"
	CodeAccountInactive      Code = "ACCOUNT_INACTIVE"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"

	CodeVoucherNotFound     Code = "VOUCHER_NOT_FOUND"
	CodeNoRateAvailable     Code = "NO_RATE_AVAILABLE"
	CodeTaxCodeNotFound     Code = "TAX_CODE_NOT_FOUND"
	CodeTaxCodeNotEffective Code = "TAX_CODE_NOT_EFFECTIVE"
	CodePeriodClosed        Code = "PERIOD_CLOSED"
	CodePeriodNotFound      Code = "PERIOD_NOT_FOUND"

	CodeLockTimeout        Code = "LOCK_TIMEOUT"
	CodeSequenceContention Code = "SEQUENCE_CONTENTION"

	CodePersistence Code = "PERSISTENCE_FAILURE"
)

var kinds = map[Code]Kind{
	CodeVoucherNotFound:     KindResource,
	CodeNoRateAvailable:     KindResource,
	CodeTaxCodeNotFound:     KindResource,
	CodeTaxCodeNotEffective: KindResource,
	CodePeriodClosed:        KindResource,
	CodePeriodNotFound:      KindResource,
	CodeLockTimeout:         KindConcurrency,
	CodeSequenceContention:  KindConcurrency,
	CodePersistence:         KindFatal,
}

// KindOfCode returns the kind a code belongs to. Unlisted codes are validation failures.
func KindOfCode(c Code) Kind {
	if k, ok := kinds[c]; ok {
		return k
	}
	return KindValidation
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidPayload       = &Error{Kind: KindValidation, Code: CodeInvalidPayload}
	ErrEmptyJournal         = &Error{Kind: KindValidation, Code: CodeEmptyJournal}
	ErrBothDebitCredit      = &Error{Kind: KindValidation, Code: CodeBothDebitCredit}
	ErrNegativeAmount       = &Error{Kind: KindValidation, Code: CodeNegativeAmount}
	ErrZeroLine             = &Error{Kind: KindValidation, Code: CodeZeroLine}
	ErrUnbalanced           = &Error{Kind: KindValidation, Code: CodeUnbalanced}
	ErrDimensionRequired    = &Error{Kind: KindValidation, Code: CodeDimensionRequired}
	ErrInvalidCodeFormat    = &Error{Kind: KindValidation, Code: CodeInvalidCodeFormat}
	ErrDuplicateCode        = &Error{Kind: KindValidation, Code: CodeDuplicateCode}
	ErrCircularReference    = &Error{Kind: KindValidation, Code: CodeCircularReference}
	ErrDepthExceeded        = &Error{Kind: KindValidation, Code: CodeDepthExceeded}
	ErrTypeMismatch         = &Error{Kind: KindValidation, Code: CodeTypeMismatch}
	ErrSiblingLimitExceeded = &Error{Kind: KindValidation, Code: CodeSiblingLimitExceeded}
	ErrHierarchyFull        = &Error{Kind: KindValidation, Code: CodeHierarchyFull}
	ErrAccountNotFound      = &Error{Kind: KindValidation, Code: CodeAccountNotFound}
	ErrAccountInactive      = &Error{Kind: KindValidation, Code: CodeAccountInactive}
	ErrInvalidTransition    = &Error{Kind: KindValidation, Code: CodeInvalidTransition}
	ErrVoucherNotFound      = &Error{Kind: KindResource, Code: CodeVoucherNotFound}
	ErrNoRateAvailable      = &Error{Kind: KindResource, Code: CodeNoRateAvailable}
	ErrTaxCodeNotFound      = &Error{Kind: KindResource, Code: CodeTaxCodeNotFound}
	ErrTaxCodeNotEffective  = &Error{Kind: KindResource, Code: CodeTaxCodeNotEffective}
	ErrPeriodClosed         = &Error{Kind: KindResource, Code: CodePeriodClosed}
	ErrPeriodNotFound       = &Error{Kind: KindResource, Code: CodePeriodNotFound}
	ErrLockTimeout          = &Error{Kind: KindConcurrency, Code: CodeLockTimeout}
	ErrSequenceContention   = &Error{Kind: KindConcurrency, Code: CodeSequenceContention}
	ErrPersistence          = &Error{Kind: KindFatal, Code: CodePersistence}
)

// Error is a typed ledger failure.
type Error struct {
	Kind    Kind
	Code    Code
	Field   string
	Message string
	Stage   string
	Err     error
}

// New builds an error for code with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindOfCode(code), Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error for code that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Err = cause
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(e.Stage)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Field != "" {
		b.WriteString(" [")
		b.WriteString(e.Field)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithField returns a copy of e scoped to a field path such as "lines[2].debit".
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// WithStage tags err with the orchestration stage that produced it.
// Errors outside the taxonomy become fatal persistence failures.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		c := *e
		c.Stage = stage
		return &c
	}
	return &Error{Kind: KindFatal, Code: CodePersistence, Stage: stage, Message: "unexpected failure", Err: err}
}

// KindOf returns the kind of err, or KindFatal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// CodeOf returns the code of err, or CodePersistence for errors outside the taxonomy.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodePersistence
}

// IsRetryable reports whether err is a concurrency failure that is safe to retry.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindConcurrency
}
