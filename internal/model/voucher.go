package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VoucherType is the business document a voucher represents.
type VoucherType string

const (
	VoucherJournal VoucherType = "journal"
	VoucherInvoice VoucherType = "invoice"
	VoucherPayment VoucherType = "payment"
	VoucherGeneric VoucherType = "generic"
)

// VoucherStatus is the lifecycle state of a voucher.
type VoucherStatus string

const (
	StatusDraft     VoucherStatus = "draft"
	StatusValidated VoucherStatus = "validated"
	StatusPosted    VoucherStatus = "posted"
	StatusReversed  VoucherStatus = "reversed"
	StatusRejected  VoucherStatus = "rejected"
)

// Dimensions are optional analytic references on a line.
type Dimensions struct {
	CostCenter string `json:"cost_center,omitempty"`
	Department string `json:"department,omitempty"`
	Project    string `json:"project,omitempty"`
}

// Line is one side of a double-entry voucher.
type Line struct {
	LineNo       int
	AccountID    uuid.UUID
	Description  string
	Debit        decimal.Decimal // zero if credit side
	Credit       decimal.Decimal // zero if debit side
	Dimensions   Dimensions
	TaxCodes     []string // applied in list order
	TaxInclusive bool
	TaxAmount    decimal.Decimal
	BaseDebit    decimal.Decimal // debit in the tenant base currency, set on posting
	BaseCredit   decimal.Decimal
	Delta        decimal.Decimal // signed change applied to the account balance
}

// Amount returns the non-zero side of the line.
func (l Line) Amount() decimal.Decimal {
	if !l.Debit.IsZero() {
		return l.Debit
	}
	return l.Credit
}

// IsDebit reports whether the line is on the debit side.
func (l Line) IsDebit() bool {
	return !l.Debit.IsZero()
}

// Mirror returns the line with debit and credit swapped.
func (l Line) Mirror() Line {
	m := l
	m.Debit, m.Credit = l.Credit, l.Debit
	m.BaseDebit, m.BaseCredit = l.BaseCredit, l.BaseDebit
	m.Delta = decimal.Zero
	m.TaxCodes = append([]string(nil), l.TaxCodes...)
	return m
}

// Voucher is a journal header with its ordered lines.
type Voucher struct {
	ID                 uuid.UUID
	TenantID           string
	Type               VoucherType
	Number             string
	Date               time.Time
	Currency           string
	ExchangeRate       decimal.Decimal // to the tenant base currency; zero = resolve on posting
	Status             VoucherStatus
	Description        string
	Adjusting          bool
	TotalDebit         decimal.Decimal
	TotalCredit        decimal.Decimal
	BaseTotalDebit     decimal.Decimal
	BaseTotalCredit    decimal.Decimal
	IdempotencyKey     string
	PostIdempotencyKey string
	ReversalOf         *uuid.UUID
	ReversedBy         *uuid.UUID
	ResubmissionOf     *uuid.UUID
	RejectReason       string
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PostedAt           *time.Time
	Lines              []Line
}

// Clone returns a deep copy of v.
func (v Voucher) Clone() Voucher {
	c := v
	c.Lines = make([]Line, len(v.Lines))
	for i, l := range v.Lines {
		l.TaxCodes = append([]string(nil), l.TaxCodes...)
		c.Lines[i] = l
	}
	return c
}

// AccountIDs returns the distinct accounts referenced by the lines, in line order.
func (v Voucher) AccountIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(v.Lines))
	var ids []uuid.UUID
	for _, l := range v.Lines {
		if seen[l.AccountID] {
			continue
		}
		seen[l.AccountID] = true
		ids = append(ids, l.AccountID)
	}
	return ids
}
