// Package tax computes simple and compound taxes on line amounts.
//
// Rates are percentages. Every computed amount is rounded half-up to cents.
// Compound calculation applies codes in the order supplied; the inverse
// walks them in reverse so that the last layer applied is the first removed.
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Component is one code's contribution to a compound calculation.
type Component struct {
	Code   string          `json:"code"`
	Rate   decimal.Decimal `json:"rate"`
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func exclusive(base, rate decimal.Decimal) decimal.Decimal {
	return round(base.Mul(rate).Div(hundred))
}

func inclusive(gross, rate decimal.Decimal) decimal.Decimal {
	return round(gross.Mul(rate).Div(hundred.Add(rate)))
}

// CalculateSimple returns the tax and net amount for one rate. In exclusive
// mode the tax is added on top of amount; in inclusive mode it is extracted
// from amount.
func CalculateSimple(amount, rate decimal.Decimal, isInclusive bool) (taxAmount, net decimal.Decimal) {
	if isInclusive {
		taxAmount = inclusive(amount, rate)
		return taxAmount, round(amount.Sub(taxAmount))
	}
	return exclusive(amount, rate), round(amount)
}

// CalculateCompound applies each code on the running amount. Exclusive mode
// stacks each tax on top of amount plus the taxes before it. Inclusive mode
// treats amount as a gross total and strips one layer per code in the
// supplied order. The breakdown follows the supplied order.
func CalculateCompound(amount decimal.Decimal, codes []model.TaxCode, isInclusive bool) (totalTax, net decimal.Decimal, breakdown []Component) {
	totalTax = decimal.Zero
	breakdown = make([]Component, 0, len(codes))
	running := amount

	for _, c := range codes {
		var t decimal.Decimal
		if isInclusive {
			t = inclusive(running, c.Rate)
			breakdown = append(breakdown, Component{Code: c.ID, Rate: c.Rate, Base: round(running.Sub(t)), Amount: t})
			running = running.Sub(t)
		} else {
			t = exclusive(running, c.Rate)
			breakdown = append(breakdown, Component{Code: c.ID, Rate: c.Rate, Base: round(running), Amount: t})
			running = running.Add(t)
		}
		totalTax = totalTax.Add(t)
	}

	if isInclusive {
		return totalTax, round(running), breakdown
	}
	return totalTax, round(amount), breakdown
}

// ReverseFromInclusiveTotal recovers the net amount and each code's share
// from a gross total, peeling the last code first. The breakdown is indexed
// like codes.
func ReverseFromInclusiveTotal(total decimal.Decimal, codes []model.TaxCode) (net, totalTax decimal.Decimal, breakdown []Component) {
	totalTax = decimal.Zero
	breakdown = make([]Component, len(codes))
	running := total

	for i := len(codes) - 1; i >= 0; i-- {
		c := codes[i]
		t := inclusive(running, c.Rate)
		running = running.Sub(t)
		breakdown[i] = Component{Code: c.ID, Rate: c.Rate, Base: round(running), Amount: t}
		totalTax = totalTax.Add(t)
	}
	return round(running), totalTax, breakdown
}
