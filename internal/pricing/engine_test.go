package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotplate/takeaway/internal/cart"
	"github.com/hotplate/takeaway/internal/discount"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

var (
	offPeak = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	peak    = time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
)

func engine() Engine { return Engine{Cfg: DefaultConfig()} }

func cartOf(prices ...money.Cents) cart.Cart {
	var lines []cart.Line
	for i, p := range prices {
		lines = append(lines, cart.Line{ID: string(rune('a' + i)), ItemID: "item", Qty: 1, UnitPrice: p})
	}
	return cart.Cart{ID: "c1", Lines: lines}
}

func TestQuoteBreakdownSumsExactly(t *testing.T) {
	// £6.00 + £5.00 goods, 10% code: £9.90 post-discount, 20% VAT £1.98,
	// zone 1 fee £2.00 off-peak.
	c := cartOf(600, 500)
	plan := discount.Plan{Applied: []discount.Applied{
		{Source: discount.SourceCode, Ref: "SAVE10", Amount: 110},
	}}

	b, err := engine().Quote(c, plan, DeliveryInput{Zone: Zone1, At: offPeak}, TipSelection{})
	require.NoError(t, err)

	assert.Equal(t, money.Cents(1100), b.Subtotal)
	assert.Equal(t, money.Cents(110), b.DiscountTotal)
	assert.Equal(t, money.Cents(200), b.DeliveryFee)
	assert.Equal(t, money.Cents(198), b.Tax)
	assert.Equal(t, money.Cents(990+200+198), b.Total)

	// components always reconcile with the total
	assert.Equal(t, b.Total, b.Subtotal-b.DiscountTotal+b.DeliveryFee+b.Tip+b.Tax)
}

func TestQuoteRoundsOnceAtTotal(t *testing.T) {
	// £0.33 goods: VAT is 6.6p, so the exact total is 239.6p and rounds to
	// 240; the reported tax carries the rounding (7p).
	c := cartOf(33)
	b, err := engine().Quote(c, discount.Plan{}, DeliveryInput{Zone: Zone1, At: offPeak}, TipSelection{})
	require.NoError(t, err)

	assert.Equal(t, money.Cents(240), b.Total)
	assert.Equal(t, money.Cents(7), b.Tax)
	assert.Equal(t, b.Total, b.Subtotal-b.DiscountTotal+b.DeliveryFee+b.Tip+b.Tax)
}

func TestDeliveryFee(t *testing.T) {
	e := engine()

	fee, waived, err := e.DeliveryFee(DeliveryInput{Zone: Zone2, At: offPeak}, 1500, false)
	require.NoError(t, err)
	assert.False(t, waived)
	assert.Equal(t, money.Cents(350), fee)

	// peak and weather surcharges stack
	fee, _, err = e.DeliveryFee(DeliveryInput{Zone: Zone3, At: peak, BadWeather: true}, 1500, false)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(500+150+100), fee)

	// waived over the threshold, surcharges and all
	fee, waived, err = e.DeliveryFee(DeliveryInput{Zone: Zone3, At: peak, BadWeather: true}, 3000, false)
	require.NoError(t, err)
	assert.True(t, waived)
	assert.Zero(t, fee)

	// waived by the discount plan
	fee, waived, err = e.DeliveryFee(DeliveryInput{Zone: Zone1, At: offPeak}, 500, true)
	require.NoError(t, err)
	assert.True(t, waived)
	assert.Zero(t, fee)

	_, _, err = e.DeliveryFee(DeliveryInput{Zone: ZoneOutOfRange, At: offPeak}, 5000, false)
	assert.True(t, faults.IsKind(err, faults.Validation))
}

func TestFreeDeliveryUsesPostDiscountSubtotal(t *testing.T) {
	e := engine()

	// £32 gross but £28.80 after discount: no waiver
	fee, waived, err := e.DeliveryFee(DeliveryInput{Zone: Zone1, At: offPeak}, 2880, false)
	require.NoError(t, err)
	assert.False(t, waived)
	assert.Equal(t, money.Cents(200), fee)
}

func TestTipAmount(t *testing.T) {
	e := engine()

	tip, err := e.TipAmount(2000, TipSelection{Percent: 15})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(300), tip)

	// percentage uses the pre-discount subtotal by contract; caller passes it
	tip, err = e.TipAmount(999, TipSelection{Percent: 10})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(100), tip) // 99.9 rounds up

	_, err = e.TipAmount(2000, TipSelection{Percent: 101})
	assert.True(t, faults.IsKind(err, faults.Validation))

	_, err = e.TipAmount(2000, TipSelection{Amount: 30})
	assert.True(t, faults.IsKind(err, faults.Validation), "below minimum tip")

	_, err = e.TipAmount(2000, TipSelection{Amount: 2500})
	assert.True(t, faults.IsKind(err, faults.Validation), "over the subtotal")

	tip, err = e.TipAmount(2000, TipSelection{Amount: 333, RoundTo10p: true})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(330), tip)

	tip, err = e.TipAmount(2000, TipSelection{Amount: 335, RoundTo10p: true})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(340), tip)

	// rounding never pushes the tip past the subtotal
	tip, err = e.TipAmount(335, TipSelection{Amount: 335, RoundTo10p: true})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(335), tip)

	// percentage tips have no minimum; 10% of £4.00 is fine
	tip, err = e.TipAmount(400, TipSelection{Percent: 10})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(40), tip)

	tip, err = e.TipAmount(2000, TipSelection{})
	require.NoError(t, err)
	assert.Zero(t, tip)
}

func TestTipPresets(t *testing.T) {
	presets := engine().TipPresets(2000)
	require.Len(t, presets, 4) // 10, 15, 20 and "no tip"
	assert.Equal(t, money.Cents(200), presets[0].Amount)
	assert.Equal(t, money.Cents(300), presets[1].Amount)
	assert.Equal(t, money.Cents(400), presets[2].Amount)
	assert.Zero(t, presets[3].Percent)
}

func TestEstimateMinutes(t *testing.T) {
	e := engine()

	assert.Equal(t, 15+10, e.EstimateMinutes(2, Zone1, offPeak))
	assert.Equal(t, 25+20, e.EstimateMinutes(5, Zone2, offPeak))
	assert.Equal(t, 35+30, e.EstimateMinutes(8, Zone3, offPeak))
	assert.Equal(t, 45+10, e.EstimateMinutes(20, Zone1, offPeak))
	assert.Equal(t, 15+15+10, e.EstimateMinutes(2, Zone1, peak))
}
