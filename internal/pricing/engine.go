// Package pricing composes subtotal, discounts, delivery fee, tip and tax
// into a penny-exact breakdown. The engine is stateless: everything it
// needs arrives as arguments, and every intermediate figure is returned so
// the result can be audited independently.
//
// All arithmetic runs in integer pence except the VAT line, which is kept
// as a decimal until the grand total is rounded half-up exactly once; the
// reported tax figure is then the difference between the rounded total and
// the integer components, so the breakdown always sums exactly.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hotplate/takeaway/internal/cart"
	"github.com/hotplate/takeaway/internal/discount"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

// Zone is a delivery-distance band with its own base fee.
type Zone int

const (
	Zone1 Zone = iota + 1
	Zone2
	Zone3
	ZoneOutOfRange
)

type DeliveryInput struct {
	Zone       Zone
	At         time.Time
	BadWeather bool
}

// TipSelection picks one of: a preset percentage, a custom amount, or no
// tip. RoundTo10p rounds the result to the nearest ten pence.
type TipSelection struct {
	Percent    int         `json:"percent,omitempty"`
	Amount     money.Cents `json:"amount_cents,omitempty"`
	RoundTo10p bool        `json:"round_to_10p,omitempty"`
}

type Config struct {
	ZoneFees              map[Zone]money.Cents
	FreeDeliveryThreshold money.Cents
	PeakStartHour         int
	PeakEndHour           int
	PeakSurcharge         money.Cents
	WeatherSurcharge      money.Cents
	VATRate               decimal.Decimal
	MinTip                money.Cents
	TipPresets            []int
}

func DefaultConfig() Config {
	return Config{
		ZoneFees: map[Zone]money.Cents{
			Zone1: 200,
			Zone2: 350,
			Zone3: 500,
		},
		FreeDeliveryThreshold: 3000,
		PeakStartHour:         18,
		PeakEndHour:           21,
		PeakSurcharge:         150,
		WeatherSurcharge:      100,
		VATRate:               decimal.RequireFromString("0.20"),
		MinTip:                50,
		TipPresets:            []int{10, 15, 20},
	}
}

// Breakdown is the fully itemized quote. Every field is in pence and the
// components always sum to Total.
type Breakdown struct {
	Subtotal         money.Cents        `json:"subtotal_cents"`
	Discounts        []discount.Applied `json:"discounts,omitempty"`
	DiscountTotal    money.Cents        `json:"discount_total_cents"`
	DeliveryFee      money.Cents        `json:"delivery_fee_cents"`
	DeliveryWaived   bool               `json:"delivery_waived,omitempty"`
	Tip              money.Cents        `json:"tip_cents"`
	Tax              money.Cents        `json:"tax_cents"`
	Total            money.Cents        `json:"total_cents"`
	RedeemPoints     int                `json:"redeem_points,omitempty"`
	EstimatedMinutes int                `json:"estimated_minutes"`
}

type Engine struct {
	Cfg Config
}

// Quote prices a cart against a resolved discount plan, delivery inputs
// and a tip selection. Order of computation: subtotal, discount plan,
// delivery fee (waived on the post-discount subtotal), tip (on the
// pre-discount subtotal), VAT on the post-discount goods value.
func (e Engine) Quote(c cart.Cart, plan discount.Plan, del DeliveryInput, tip TipSelection) (Breakdown, error) {
	subtotal := c.Subtotal()
	discountTotal := plan.Total()
	if discountTotal > subtotal {
		discountTotal = subtotal
	}
	postDiscount := subtotal - discountTotal

	fee, waived, err := e.DeliveryFee(del, postDiscount, plan.FreeDelivery)
	if err != nil {
		return Breakdown{}, err
	}

	tipAmount, err := e.TipAmount(subtotal, tip)
	if err != nil {
		return Breakdown{}, err
	}

	// VAT applies to the post-discount goods value only; delivery and tip
	// are outside the taxable base.
	tax := money.PercentOf(postDiscount, e.Cfg.VATRate)

	exact := decimal.Sum(
		postDiscount.Decimal(),
		fee.Decimal(),
		tipAmount.Decimal(),
		tax,
	)
	total := money.RoundHalfUp(exact)

	return Breakdown{
		Subtotal:         subtotal,
		Discounts:        plan.Applied,
		DiscountTotal:    discountTotal,
		DeliveryFee:      fee,
		DeliveryWaived:   waived,
		Tip:              tipAmount,
		Tax:              total - postDiscount - fee - tipAmount,
		Total:            total,
		RedeemPoints:     plan.RedeemPoints,
		EstimatedMinutes: e.EstimateMinutes(c.TotalQuantity(), del.Zone, del.At),
	}, nil
}

// DeliveryFee computes the zone base fee plus peak and weather surcharges.
// The fee is waived entirely when the post-discount subtotal clears the
// free-delivery threshold or the plan grants free delivery.
func (e Engine) DeliveryFee(del DeliveryInput, postDiscount money.Cents, planFree bool) (money.Cents, bool, error) {
	base, ok := e.Cfg.ZoneFees[del.Zone]
	if !ok || del.Zone == ZoneOutOfRange {
		return 0, false, faults.New(faults.Validation, "address is outside the delivery area")
	}
	if planFree || postDiscount >= e.Cfg.FreeDeliveryThreshold {
		return 0, true, nil
	}
	fee := base
	if e.isPeak(del.At) {
		fee += e.Cfg.PeakSurcharge
	}
	if del.BadWeather {
		fee += e.Cfg.WeatherSurcharge
	}
	return fee, false, nil
}

// TipAmount computes the tip on the pre-discount subtotal. Custom amounts
// are bounded to [MinTip, 100% of subtotal]; percentage tips carry no
// minimum. A zero selection means no tip. Rounding to 10p never pushes the
// tip past the subtotal.
func (e Engine) TipAmount(subtotal money.Cents, sel TipSelection) (money.Cents, error) {
	var tip money.Cents
	switch {
	case sel.Percent > 0:
		if sel.Percent > 100 {
			return 0, faults.New(faults.Validation, "tip percentage cannot exceed 100")
		}
		tip = money.RoundHalfUp(money.Percent(subtotal, int64(sel.Percent)))
	case sel.Amount > 0:
		if sel.Amount < e.Cfg.MinTip {
			return 0, faults.Newf(faults.Validation, "minimum tip is %s", e.Cfg.MinTip.Pounds())
		}
		if sel.Amount > subtotal {
			return 0, faults.Newf(faults.Validation, "tip cannot exceed the order subtotal %s", subtotal.Pounds())
		}
		tip = sel.Amount
	default:
		return 0, nil
	}
	if sel.RoundTo10p {
		tip = (tip + 5) / 10 * 10
	}
	if tip > subtotal {
		tip = subtotal
	}
	return tip, nil
}

// TipPreset is one suggested tip for display alongside a quote.
type TipPreset struct {
	Percent int         `json:"percent"`
	Amount  money.Cents `json:"amount_cents"`
}

func (e Engine) TipPresets(subtotal money.Cents) []TipPreset {
	out := make([]TipPreset, 0, len(e.Cfg.TipPresets)+1)
	for _, p := range e.Cfg.TipPresets {
		out = append(out, TipPreset{Percent: p, Amount: money.RoundHalfUp(money.Percent(subtotal, int64(p)))})
	}
	out = append(out, TipPreset{})
	return out
}

// EstimateMinutes bands preparation time by order size and adds zone
// travel time plus a peak-hour buffer.
func (e Engine) EstimateMinutes(totalQty int, zone Zone, at time.Time) int {
	var prep int
	switch {
	case totalQty <= 3:
		prep = 15
	case totalQty <= 6:
		prep = 25
	case totalQty <= 10:
		prep = 35
	default:
		prep = 45
	}
	travel := map[Zone]int{Zone1: 10, Zone2: 20, Zone3: 30}[zone]
	if travel == 0 {
		travel = 20
	}
	if e.isPeak(at) {
		prep += 15
	}
	return prep + travel
}

func (e Engine) isPeak(at time.Time) bool {
	h := at.Hour()
	return h >= e.Cfg.PeakStartHour && h < e.Cfg.PeakEndHour
}
