// Package money handles monetary amounts as integer pence. Percentage and
// tax arithmetic goes through shopspring/decimal; rounding to a whole penny
// happens once, at the point a figure is surfaced, using round-half-up.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor units (pence).
type Cents int64

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), 0)
}

// Pounds renders the amount as "£x.yz". Negative amounts keep the sign
// ahead of the symbol.
func (c Cents) Pounds() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s£%d.%02d", sign, v/100, v%100)
}

func (c Cents) Mul(qty int) Cents { return c * Cents(qty) }

// RoundHalfUp collapses a decimal pence amount to whole pence, rounding
// half away from zero.
func RoundHalfUp(d decimal.Decimal) Cents {
	return Cents(d.Round(0).IntPart())
}

// Percent returns pct% of c as an unrounded decimal pence amount.
func Percent(c Cents, pct int64) decimal.Decimal {
	return c.Decimal().Mul(decimal.New(pct, 0)).Div(decimal.New(100, 0))
}

// PercentOf applies a decimal rate (e.g. 0.20 for VAT) to c, unrounded.
func PercentOf(c Cents, rate decimal.Decimal) decimal.Decimal {
	return c.Decimal().Mul(rate)
}

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}
