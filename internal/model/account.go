package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType classifies accounts in the chart of accounts.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// AccountTypes lists every account type in chart order.
var AccountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeLiability,
	AccountTypeEquity,
	AccountTypeIncome,
	AccountTypeExpense,
}

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// RootPrefix is the first root code for the type: asset 1000, liability 2000, ...
func (t AccountType) RootPrefix() int {
	switch t {
	case AccountTypeAsset:
		return 1000
	case AccountTypeLiability:
		return 2000
	case AccountTypeEquity:
		return 3000
	case AccountTypeIncome:
		return 4000
	case AccountTypeExpense:
		return 5000
	}
	return 9000
}

// DebitNormal reports whether balances of this type grow with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// SignedDelta returns the balance change caused by a debit/credit pair.
// DEBIT to ASSET/EXPENSE and CREDIT to LIABILITY/EQUITY/INCOME increase the balance.
func (t AccountType) SignedDelta(debit, credit decimal.Decimal) decimal.Decimal {
	if t.DebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// Classification refines an account type.
type Classification string

const (
	ClassCurrentAsset       Classification = "current_asset"
	ClassFixedAsset         Classification = "fixed_asset"
	ClassCurrentLiability   Classification = "current_liability"
	ClassLongTermLiability  Classification = "long_term_liability"
	ClassCapital            Classification = "capital"
	ClassRetainedEarnings   Classification = "retained_earnings"
	ClassOperatingIncome    Classification = "operating_income"
	ClassOtherIncome        Classification = "other_income"
	ClassCostOfSales        Classification = "cost_of_sales"
	ClassOperatingExpense   Classification = "operating_expense"
	ClassOtherExpense       Classification = "other_expense"
	ClassificationUndefined Classification = ""
)

var classificationTypes = map[Classification]AccountType{
	ClassCurrentAsset:      AccountTypeAsset,
	ClassFixedAsset:        AccountTypeAsset,
	ClassCurrentLiability:  AccountTypeLiability,
	ClassLongTermLiability: AccountTypeLiability,
	ClassCapital:           AccountTypeEquity,
	ClassRetainedEarnings:  AccountTypeEquity,
	ClassOperatingIncome:   AccountTypeIncome,
	ClassOtherIncome:       AccountTypeIncome,
	ClassCostOfSales:       AccountTypeExpense,
	ClassOperatingExpense:  AccountTypeExpense,
	ClassOtherExpense:      AccountTypeExpense,
}

// BelongsTo reports whether c may be used with accounts of type t.
// The empty classification fits every type.
func (c Classification) BelongsTo(t AccountType) bool {
	if c == ClassificationUndefined {
		return true
	}
	return classificationTypes[c] == t
}

// Account is a node in a tenant's chart of accounts.
// ParentID is an id reference; TreePath and Level are derived from the
// ancestry and recomputed on every structural change.
type Account struct {
	ID                uuid.UUID
	TenantID          string
	Code              string // dotted numeric, e.g. "1000.01"
	Name              string
	Type              AccountType
	Classification    Classification
	ParentID          *uuid.UUID // nil = root
	TreePath          string     // ancestor codes joined by "/", e.g. "1000/1000.01"
	Level             int        // root = 1
	CurrentBalance    decimal.Decimal
	Active            bool
	RequireCostCenter bool
	RequireDepartment bool
	RequireProject    bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsRoot reports whether the account has no parent.
func (a Account) IsRoot() bool {
	return a.ParentID == nil
}

// PathSeparator joins codes in a tree path.
const PathSeparator = "/"

// ChildPath returns the tree path of a direct child with the given code.
func (a Account) ChildPath(code string) string {
	return a.TreePath + PathSeparator + code
}

// DescendantPrefix is the tree-path prefix shared by every descendant.
func (a Account) DescendantPrefix() string {
	return a.TreePath + PathSeparator
}

// BalanceSnapshot is the outbound view of an account balance.
type BalanceSnapshot struct {
	AccountID uuid.UUID       `json:"account_id"`
	Code      string          `json:"code"`
	Balance   decimal.Decimal `json:"balance"`
	AsOf      time.Time       `json:"as_of_date"`
}
