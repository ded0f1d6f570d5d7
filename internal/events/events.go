// Package events announces posted and reversed vouchers to other systems.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

const (
	ActionPosted   = "posted"
	ActionReversed = "reversed"
)

// VoucherPosted is published after a posting commits. A reversal publishes
// one event for the mirrored voucher with Action "reversed".
type VoucherPosted struct {
	EventID     uuid.UUID       `json:"event_id"`
	Action      string          `json:"action"`
	TenantID    string          `json:"tenant_id"`
	VoucherID   uuid.UUID       `json:"voucher_id"`
	Number      string          `json:"number"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`
	Currency    string          `json:"currency"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	BaseTotal   decimal.Decimal `json:"base_total"`
	ReversalOf  *uuid.UUID      `json:"reversal_of,omitempty"`
	PostedAt    time.Time       `json:"posted_at"`
}

// RoutingKey is the topic the event is published under, e.g. "ledger.voucher.posted".
func (e VoucherPosted) RoutingKey() string {
	return "ledger.voucher." + e.Action
}

// NewVoucherPosted builds the event for a posted voucher.
func NewVoucherPosted(v model.Voucher, action string) VoucherPosted {
	e := VoucherPosted{
		EventID:     uuid.New(),
		Action:      action,
		TenantID:    v.TenantID,
		VoucherID:   v.ID,
		Number:      v.Number,
		Type:        string(v.Type),
		Date:        v.Date.Format(time.DateOnly),
		Currency:    v.Currency,
		TotalDebit:  v.TotalDebit,
		TotalCredit: v.TotalCredit,
		BaseTotal:   v.BaseTotalDebit,
		ReversalOf:  v.ReversalOf,
	}
	if v.PostedAt != nil {
		e.PostedAt = *v.PostedAt
	}
	return e
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e VoucherPosted) error
}

// MemoryPublisher collects events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []VoucherPosted
	// Err, when set, is returned by every Publish and nothing is recorded.
	Err error
}

func (p *MemoryPublisher) Publish(_ context.Context, e VoucherPosted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, e)
	return nil
}

// Events returns a copy of the published events.
func (p *MemoryPublisher) Events() []VoucherPosted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]VoucherPosted(nil), p.events...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, VoucherPosted) error { return nil }
