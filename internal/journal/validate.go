package journal

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
)

// Balancer enforces the double-entry invariant and per-line rules.
type Balancer struct {
	tolerance decimal.Decimal
}

// NewBalancer creates a Balancer that accepts a debit/credit difference up to tolerance.
func NewBalancer(tolerance decimal.Decimal) *Balancer {
	return &Balancer{tolerance: tolerance.Abs()}
}

// Validate returns the first failing rule, or nil.
func (b *Balancer) Validate(lines []model.Line, accounts map[uuid.UUID]model.Account) error {
	if errs := b.Check(lines, accounts); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Check returns every failing rule in line order, with the balance check last.
// Accounts missing from the map are skipped for dimension checks; existence
// is checked by the caller.
func (b *Balancer) Check(lines []model.Line, accounts map[uuid.UUID]model.Account) []error {
	if len(lines) == 0 {
		return []error{apperr.New(apperr.CodeEmptyJournal, "voucher has no lines").WithField("lines")}
	}

	var errs []error
	for i, l := range lines {
		errs = append(errs, checkLine(i, l)...)
		if acct, ok := accounts[l.AccountID]; ok {
			errs = append(errs, checkDimensions(i, l, acct)...)
		}
	}

	debit, credit := Totals(lines)
	if diff := debit.Sub(credit).Abs(); diff.GreaterThan(b.tolerance) {
		errs = append(errs, apperr.New(apperr.CodeUnbalanced,
			"debits (%s) != credits (%s), difference %s exceeds tolerance %s",
			debit.StringFixed(2), credit.StringFixed(2), diff.StringFixed(2), b.tolerance.String()).WithField("lines"))
	}
	return errs
}

var hundred = decimal.NewFromInt(100)

func checkLine(i int, l model.Line) []error {
	field := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }
	var errs []error

	if l.Debit.IsNegative() {
		errs = append(errs, apperr.New(apperr.CodeNegativeAmount, "debit %s is negative", l.Debit).WithField(field("debit")))
	}
	if l.Credit.IsNegative() {
		errs = append(errs, apperr.New(apperr.CodeNegativeAmount, "credit %s is negative", l.Credit).WithField(field("credit")))
	}

	hasDebit := !l.Debit.IsZero()
	hasCredit := !l.Credit.IsZero()
	switch {
	case hasDebit && hasCredit:
		errs = append(errs, apperr.New(apperr.CodeBothDebitCredit, "line has both debit and credit").WithField(field("debit")))
	case !hasDebit && !hasCredit:
		errs = append(errs, apperr.New(apperr.CodeZeroLine, "line has neither debit nor credit").WithField(field("debit")))
	}

	// Amounts are stored with cent precision.
	if !isCents(l.Debit) {
		errs = append(errs, apperr.New(apperr.CodeInvalidPayload, "debit %s has more than 2 decimal places", l.Debit).WithField(field("debit")))
	}
	if !isCents(l.Credit) {
		errs = append(errs, apperr.New(apperr.CodeInvalidPayload, "credit %s has more than 2 decimal places", l.Credit).WithField(field("credit")))
	}
	return errs
}

func isCents(d decimal.Decimal) bool {
	return d.Mul(hundred).Equal(d.Mul(hundred).Truncate(0))
}

func checkDimensions(i int, l model.Line, acct model.Account) []error {
	var errs []error
	missing := func(dim string) {
		errs = append(errs, apperr.New(apperr.CodeDimensionRequired,
			"account %s requires a %s", acct.Code, dim).WithField(fmt.Sprintf("lines[%d].dimensions.%s", i, dim)))
	}
	if acct.RequireCostCenter && l.Dimensions.CostCenter == "" {
		missing("cost_center")
	}
	if acct.RequireDepartment && l.Dimensions.Department == "" {
		missing("department")
	}
	if acct.RequireProject && l.Dimensions.Project == "" {
		missing("project")
	}
	return errs
}

// Totals sums the debit and credit sides.
func Totals(lines []model.Line) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}
