package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/id"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// maxChildSuffix is the largest two-digit child suffix.
const maxChildSuffix = 99

// rootBlock is the code range reserved for the roots of one account type.
const rootBlock = 1000

var codePattern = regexp.MustCompile(`^\d+(\.\d{2})*$`)

// ValidCode reports whether code is dotted numeric, e.g. "1000" or "1000.01".
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// TenantSource resolves per-tenant limits.
type TenantSource interface {
	Tenant(id string) config.Tenant
}

// Manager owns the chart-of-accounts tree of every tenant.
type Manager struct {
	store   store.Store
	tenants TenantSource
	now     func() time.Time
}

// NewManager creates a Manager.
func NewManager(st store.Store, tenants TenantSource) *Manager {
	return &Manager{store: st, tenants: tenants, now: time.Now}
}

// NewAccount describes an account to create. An empty Code is generated.
type NewAccount struct {
	Code              string
	Name              string
	Type              model.AccountType
	Classification    model.Classification
	ParentCode        string
	Inactive          bool
	RequireCostCenter bool
	RequireDepartment bool
	RequireProject    bool
}

// Get returns an account by id.
func (m *Manager) Get(ctx context.Context, tenantID string, accountID uuid.UUID) (model.Account, error) {
	return getAccount(ctx, m.store, tenantID, accountID)
}

// GetByCode returns an account by code.
func (m *Manager) GetByCode(ctx context.Context, tenantID, code string) (model.Account, error) {
	a, err := m.store.AccountByCode(ctx, tenantID, code)
	if errors.Is(err, store.ErrNotFound) {
		return model.Account{}, apperr.New(apperr.CodeAccountNotFound, "account %s not found", code)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("loading account %s: %w", code, err)
	}
	return a, nil
}

// List returns every account of a tenant ordered by code.
func (m *Manager) List(ctx context.Context, tenantID string) ([]model.Account, error) {
	accts, err := m.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accts, nil
}

func getAccount(ctx context.Context, r store.Reader, tenantID string, accountID uuid.UUID) (model.Account, error) {
	a, err := r.GetAccount(ctx, tenantID, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Account{}, apperr.New(apperr.CodeAccountNotFound, "account %s not found", accountID)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	return a, nil
}

// GenerateCode returns the next free code for a new account. Roots take the
// type prefix plus a multiple of the root step; children take the parent
// code plus the lowest unused two-digit suffix.
func (m *Manager) GenerateCode(ctx context.Context, tenantID string, typ model.AccountType, parent *model.Account) (string, error) {
	return m.generateCode(ctx, m.store, tenantID, typ, parent)
}

func (m *Manager) generateCode(ctx context.Context, r store.Reader, tenantID string, typ model.AccountType, parent *model.Account) (string, error) {
	if !typ.Valid() {
		return "", apperr.New(apperr.CodeInvalidPayload, "unknown account type %q", typ).WithField("type")
	}
	all, err := r.ListAccounts(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("listing accounts: %w", err)
	}
	used := make(map[string]bool, len(all))
	for _, a := range all {
		used[a.Code] = true
	}

	if parent == nil {
		step := m.tenants.Tenant(tenantID).RootStep
		prefix := typ.RootPrefix()
		for n := 0; n*step < rootBlock; n++ {
			code := strconv.Itoa(prefix + n*step)
			if !used[code] {
				return code, nil
			}
		}
		return "", apperr.New(apperr.CodeHierarchyFull, "no free root code for %s accounts", typ)
	}

	for n := 1; n <= maxChildSuffix; n++ {
		code := id.FormatChildCode(parent.Code, n)
		if !used[code] {
			return code, nil
		}
	}
	return "", apperr.New(apperr.CodeHierarchyFull, "account %s already has %d children", parent.Code, maxChildSuffix)
}

// Validate checks that account may sit under parent (nil for a root).
func (m *Manager) Validate(ctx context.Context, tenantID string, account model.Account, parent *model.Account) error {
	return m.validate(ctx, m.store, tenantID, account, parent)
}

func (m *Manager) validate(ctx context.Context, r store.Reader, tenantID string, account model.Account, parent *model.Account) error {
	if !ValidCode(account.Code) {
		return apperr.New(apperr.CodeInvalidCodeFormat, "code %q must match digits with optional .NN segments", account.Code).WithField("code")
	}
	if !account.Type.Valid() {
		return apperr.New(apperr.CodeInvalidPayload, "unknown account type %q", account.Type).WithField("type")
	}
	if !account.Classification.BelongsTo(account.Type) {
		return apperr.New(apperr.CodeTypeMismatch, "classification %s does not apply to %s accounts", account.Classification, account.Type).WithField("classification")
	}

	limits := m.tenants.Tenant(tenantID)
	level := 1
	if parent != nil {
		if err := checkCycle(ctx, r, tenantID, account.ID, *parent); err != nil {
			return err
		}
		if parent.Type != account.Type {
			return apperr.New(apperr.CodeTypeMismatch, "%s account %s cannot sit under %s account %s",
				account.Type, account.Code, parent.Type, parent.Code).WithField("parent")
		}
		level = parent.Level + 1
	}

	height, err := subtreeHeight(ctx, r, tenantID, account)
	if err != nil {
		return err
	}
	if deepest := level + height; deepest > limits.MaxDepth {
		return apperr.New(apperr.CodeDepthExceeded, "account %s would reach level %d, max is %d", account.Code, deepest, limits.MaxDepth).WithField("parent")
	}

	if parent != nil {
		siblings, err := r.Children(ctx, tenantID, &parent.ID)
		if err != nil {
			return fmt.Errorf("listing children of %s: %w", parent.Code, err)
		}
		count := 0
		for _, s := range siblings {
			if s.ID != account.ID {
				count++
			}
		}
		if count >= limits.MaxSiblings {
			return apperr.New(apperr.CodeSiblingLimitExceeded, "account %s already has %d children, max is %d", parent.Code, count, limits.MaxSiblings).WithField("parent")
		}
	}
	return nil
}

// checkCycle walks up from parent and fails if it reaches accountID.
func checkCycle(ctx context.Context, r store.Reader, tenantID string, accountID uuid.UUID, parent model.Account) error {
	seen := make(map[uuid.UUID]bool)
	cur := parent
	for {
		if cur.ID == accountID {
			return apperr.New(apperr.CodeCircularReference, "account %s cannot be its own ancestor", cur.Code).WithField("parent")
		}
		if seen[cur.ID] {
			return apperr.New(apperr.CodeCircularReference, "ancestor chain of %s loops", parent.Code).WithField("parent")
		}
		seen[cur.ID] = true
		if cur.ParentID == nil {
			return nil
		}
		next, err := getAccount(ctx, r, tenantID, *cur.ParentID)
		if err != nil {
			return err
		}
		cur = next
	}
}

// subtreeHeight returns how many levels sit below account, 0 for a leaf or a new account.
func subtreeHeight(ctx context.Context, r store.Reader, tenantID string, account model.Account) (int, error) {
	if account.TreePath == "" {
		return 0, nil
	}
	desc, err := r.Descendants(ctx, tenantID, account.DescendantPrefix())
	if err != nil {
		return 0, fmt.Errorf("listing descendants of %s: %w", account.Code, err)
	}
	height := 0
	for _, d := range desc {
		if h := d.Level - account.Level; h > height {
			height = h
		}
	}
	return height, nil
}

// Create validates and inserts a new account.
func (m *Manager) Create(ctx context.Context, tenantID string, in NewAccount) (model.Account, error) {
	var created model.Account
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := m.create(ctx, tx, tenantID, in, true)
		created = a
		return err
	})
	return created, err
}

// create inserts one account. strict additionally requires a supplied code
// to extend the parent's code; imported charts may carry moved accounts
// whose codes no longer do.
func (m *Manager) create(ctx context.Context, tx store.Tx, tenantID string, in NewAccount, strict bool) (model.Account, error) {
	if in.Name == "" {
		return model.Account{}, apperr.New(apperr.CodeInvalidPayload, "account name is required").WithField("name")
	}

	var parent *model.Account
	if in.ParentCode != "" {
		p, err := tx.AccountByCode(ctx, tenantID, in.ParentCode)
		if errors.Is(err, store.ErrNotFound) {
			return model.Account{}, apperr.New(apperr.CodeAccountNotFound, "parent account %s not found", in.ParentCode).WithField("parent")
		}
		if err != nil {
			return model.Account{}, fmt.Errorf("loading parent %s: %w", in.ParentCode, err)
		}
		parent = &p
	}

	code := in.Code
	if code == "" {
		generated, err := m.generateCode(ctx, tx, tenantID, in.Type, parent)
		if err != nil {
			return model.Account{}, err
		}
		code = generated
	} else if strict {
		if err := checkCodePlacement(code, parent); err != nil {
			return model.Account{}, err
		}
	}

	if _, err := tx.AccountByCode(ctx, tenantID, code); err == nil {
		return model.Account{}, apperr.New(apperr.CodeDuplicateCode, "account code %s already exists", code).WithField("code")
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Account{}, fmt.Errorf("checking code %s: %w", code, err)
	}

	now := m.now().UTC()
	a := model.Account{
		ID:                uuid.New(),
		TenantID:          tenantID,
		Code:              code,
		Name:              in.Name,
		Type:              in.Type,
		Classification:    in.Classification,
		CurrentBalance:    decimal.Zero,
		Active:            !in.Inactive,
		RequireCostCenter: in.RequireCostCenter,
		RequireDepartment: in.RequireDepartment,
		RequireProject:    in.RequireProject,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.validate(ctx, tx, tenantID, a, parent); err != nil {
		return model.Account{}, err
	}

	placeUnder(&a, parent)
	if err := tx.InsertAccount(ctx, a); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.Account{}, apperr.Wrap(apperr.CodeDuplicateCode, err, "account code %s already exists", code).WithField("code")
		}
		return model.Account{}, fmt.Errorf("inserting account %s: %w", code, err)
	}
	return a, nil
}

// checkCodePlacement requires a root code without segments and a child
// code that extends its parent's code by one segment.
func checkCodePlacement(code string, parent *model.Account) error {
	if !ValidCode(code) {
		return apperr.New(apperr.CodeInvalidCodeFormat, "code %q must match digits with optional .NN segments", code).WithField("code")
	}
	if parent == nil {
		if _, err := strconv.Atoi(code); err != nil {
			return apperr.New(apperr.CodeInvalidCodeFormat, "root code %q must not have segments", code).WithField("code")
		}
		return nil
	}
	if _, ok := id.ChildSuffix(parent.Code, code); !ok {
		return apperr.New(apperr.CodeInvalidCodeFormat, "code %q is not a child code of %s", code, parent.Code).WithField("code")
	}
	return nil
}

func placeUnder(a *model.Account, parent *model.Account) {
	if parent == nil {
		a.ParentID = nil
		a.TreePath = a.Code
		a.Level = 1
		return
	}
	pid := parent.ID
	a.ParentID = &pid
	a.TreePath = parent.ChildPath(a.Code)
	a.Level = parent.Level + 1
}

// Move reparents an account and relabels its whole subtree breadth-first in
// one transaction. Codes are kept; tree paths and levels are recomputed.
// A nil newParentID makes the account a root.
func (m *Manager) Move(ctx context.Context, tenantID string, accountID uuid.UUID, newParentID *uuid.UUID) (model.Account, error) {
	var moved model.Account
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := getAccount(ctx, tx, tenantID, accountID)
		if err != nil {
			return err
		}

		var parent *model.Account
		if newParentID != nil {
			p, err := getAccount(ctx, tx, tenantID, *newParentID)
			if err != nil {
				return err
			}
			parent = &p
		}
		if err := m.validate(ctx, tx, tenantID, a, parent); err != nil {
			return err
		}

		now := m.now().UTC()
		placeUnder(&a, parent)
		a.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return fmt.Errorf("updating account %s: %w", a.Code, err)
		}
		if err := relabelSubtree(ctx, tx, tenantID, a, now); err != nil {
			return err
		}
		moved = a
		return nil
	})
	return moved, err
}

func relabelSubtree(ctx context.Context, tx store.Tx, tenantID string, root model.Account, now time.Time) error {
	queue := []model.Account{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		children, err := tx.Children(ctx, tenantID, &node.ID)
		if err != nil {
			return fmt.Errorf("listing children of %s: %w", node.Code, err)
		}
		for _, child := range children {
			placeUnder(&child, &node)
			child.UpdatedAt = now
			if err := tx.UpdateAccount(ctx, child); err != nil {
				return fmt.Errorf("updating account %s: %w", child.Code, err)
			}
			queue = append(queue, child)
		}
	}
	return nil
}

// Deactivate marks an account inactive. Postings to it then fail.
func (m *Manager) Deactivate(ctx context.Context, tenantID string, accountID uuid.UUID) (model.Account, error) {
	var out model.Account
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := getAccount(ctx, tx, tenantID, accountID)
		if err != nil {
			return err
		}
		a.Active = false
		a.UpdatedAt = m.now().UTC()
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return fmt.Errorf("updating account %s: %w", a.Code, err)
		}
		out = a
		return nil
	})
	return out, err
}

// ResolveBalance returns the account balance, plus every descendant's when
// includeChildren is set. A non-zero asOf excludes postings dated after it.
func (m *Manager) ResolveBalance(ctx context.Context, tenantID string, accountID uuid.UUID, asOf time.Time, includeChildren bool) (model.BalanceSnapshot, error) {
	a, err := m.Get(ctx, tenantID, accountID)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	ids := []uuid.UUID{a.ID}
	balance := a.CurrentBalance
	if includeChildren {
		desc, err := m.store.Descendants(ctx, tenantID, a.DescendantPrefix())
		if err != nil {
			return model.BalanceSnapshot{}, fmt.Errorf("listing descendants of %s: %w", a.Code, err)
		}
		for _, d := range desc {
			ids = append(ids, d.ID)
			balance = balance.Add(d.CurrentBalance)
		}
	}

	snap := model.BalanceSnapshot{AccountID: a.ID, Code: a.Code, Balance: balance, AsOf: m.now().UTC()}
	if !asOf.IsZero() {
		later, err := m.store.PostedDeltaAfter(ctx, tenantID, ids, asOf)
		if err != nil {
			return model.BalanceSnapshot{}, fmt.Errorf("summing postings after %s: %w", asOf.Format(time.DateOnly), err)
		}
		snap.Balance = balance.Sub(later)
		snap.AsOf = model.TruncateDate(asOf)
	}
	return snap, nil
}
