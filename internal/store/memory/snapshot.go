package memory

import (
	"cmp"
	"slices"

	"github.com/cleared-dev/ledger/internal/model"
)

// Snapshot is the complete state of a Store in a stable order.
type Snapshot struct {
	Accounts []model.Account         `json:"accounts"`
	Vouchers []model.Voucher         `json:"vouchers"`
	Counters []model.SequenceCounter `json:"counters"`
	TaxCodes []model.TaxCode         `json:"tax_codes"`
	Rates    []model.ExchangeRate    `json:"rates"`
	Periods  []model.Period          `json:"periods"`
}

func (d *data) snapshot() Snapshot {
	var snap Snapshot
	for _, a := range d.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	slices.SortFunc(snap.Accounts, func(a, b model.Account) int {
		return cmp.Or(cmp.Compare(a.TenantID, b.TenantID), cmp.Compare(a.TreePath, b.TreePath))
	})

	for _, v := range d.vouchers {
		snap.Vouchers = append(snap.Vouchers, v.Clone())
	}
	slices.SortFunc(snap.Vouchers, func(a, b model.Voucher) int {
		return cmp.Or(
			cmp.Compare(a.TenantID, b.TenantID),
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})

	for _, c := range d.counters {
		snap.Counters = append(snap.Counters, c)
	}
	slices.SortFunc(snap.Counters, func(a, b model.SequenceCounter) int {
		return cmp.Or(
			cmp.Compare(a.TenantID, b.TenantID),
			cmp.Compare(a.DocumentType, b.DocumentType),
			cmp.Compare(a.Marker, b.Marker),
		)
	})

	for _, c := range d.taxCodes {
		snap.TaxCodes = append(snap.TaxCodes, c)
	}
	slices.SortFunc(snap.TaxCodes, func(a, b model.TaxCode) int {
		return cmp.Or(cmp.Compare(a.TenantID, b.TenantID), cmp.Compare(a.ID, b.ID))
	})

	snap.Rates = slices.Clone(d.rates)
	slices.SortStableFunc(snap.Rates, func(a, b model.ExchangeRate) int {
		return cmp.Or(cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To), a.Date.Compare(b.Date))
	})

	for _, p := range d.periods {
		snap.Periods = append(snap.Periods, p)
	}
	slices.SortFunc(snap.Periods, func(a, b model.Period) int {
		return cmp.Or(
			cmp.Compare(a.TenantID, b.TenantID),
			a.Start.Compare(b.Start),
			cmp.Compare(a.Code, b.Code),
		)
	})
	return snap
}

// Snapshot returns the committed state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.snapshot()
}

// Restore replaces the committed state with snap. It is meant for loading a
// saved state before the store is used and does not call the commit hook.
func (s *Store) Restore(snap Snapshot) {
	d := newData()
	for _, a := range snap.Accounts {
		d.accounts[a.ID] = a
	}
	for _, v := range snap.Vouchers {
		d.vouchers[v.ID] = v.Clone()
	}
	for _, c := range snap.Counters {
		d.counters[counterKey{tenant: c.TenantID, docType: c.DocumentType, marker: c.Marker}] = c
	}
	for _, c := range snap.TaxCodes {
		d.taxCodes[taxKey{tenant: c.TenantID, id: c.ID}] = c
	}
	d.rates = slices.Clone(snap.Rates)
	for _, p := range snap.Periods {
		d.periods[p.ID] = p
	}

	s.mu.Lock()
	s.cur = d
	s.mu.Unlock()
}
