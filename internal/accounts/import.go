package accounts

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Import creates the accounts in records in one transaction. Rows whose code
// already exists are skipped. Rows may appear in any order as long as every
// parent is either in the file or already in the chart.
func (m *Manager) Import(ctx context.Context, tenantID string, records []Record) (int, error) {
	added := 0
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		added = 0
		pending := make([]Record, 0, len(records))
		for _, rec := range records {
			if _, err := tx.AccountByCode(ctx, tenantID, rec.Code); err == nil {
				continue
			}
			pending = append(pending, rec)
		}

		for len(pending) > 0 {
			var next []Record
			for _, rec := range pending {
				if rec.ParentCode != "" {
					if _, err := tx.AccountByCode(ctx, tenantID, rec.ParentCode); err != nil {
						next = append(next, rec)
						continue
					}
				}
				if _, err := m.create(ctx, tx, tenantID, fromRecord(rec), false); err != nil {
					return fmt.Errorf("importing account %s: %w", rec.Code, err)
				}
				added++
			}
			if len(next) == len(pending) {
				rec := next[0]
				return apperr.New(apperr.CodeAccountNotFound, "parent %s of account %s not found", rec.ParentCode, rec.Code).WithField("parent_code")
			}
			pending = next
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func fromRecord(rec Record) NewAccount {
	return NewAccount{
		Code:              rec.Code,
		Name:              rec.Name,
		Type:              rec.Type,
		Classification:    rec.Classification,
		ParentCode:        rec.ParentCode,
		Inactive:          !rec.Active,
		RequireCostCenter: rec.RequireCostCenter,
		RequireDepartment: rec.RequireDepartment,
		RequireProject:    rec.RequireProject,
	}
}

// Export returns the chart of a tenant as records, parents before children.
func (m *Manager) Export(ctx context.Context, tenantID string) ([]Record, error) {
	accts, err := m.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.Account, len(accts))
	for _, a := range accts {
		byID[a.ID] = a
	}

	// Level order keeps every parent ahead of its children, even for moved
	// accounts whose codes no longer sort under their parent.
	ordered := append([]model.Account(nil), accts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Level < ordered[j].Level })

	out := make([]Record, 0, len(ordered))
	for _, a := range ordered {
		rec := Record{
			Code:              a.Code,
			Name:              a.Name,
			Type:              a.Type,
			Classification:    a.Classification,
			Active:            a.Active,
			RequireCostCenter: a.RequireCostCenter,
			RequireDepartment: a.RequireDepartment,
			RequireProject:    a.RequireProject,
		}
		if a.ParentID != nil {
			rec.ParentCode = byID[*a.ParentID].Code
		}
		out = append(out, rec)
	}
	return out, nil
}
