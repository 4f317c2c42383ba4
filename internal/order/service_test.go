package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotplate/takeaway/internal/cart"
	"github.com/hotplate/takeaway/internal/catalog"
	"github.com/hotplate/takeaway/internal/discount"
	"github.com/hotplate/takeaway/internal/events"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/loyalty"
	"github.com/hotplate/takeaway/internal/payment"
	"github.com/hotplate/takeaway/internal/pricing"
	"github.com/hotplate/takeaway/internal/stock"
)

var noon = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type zoneStub struct{ zone pricing.Zone }

func (z zoneStub) Zone(context.Context, string, string) (pricing.Zone, error) {
	return z.zone, nil
}

type harness struct {
	svc   *Service
	menu  *catalog.Memory
	carts *cart.Store
	led   *stock.MemLedger
	pts   *loyalty.Ledger
	codes *discount.MemoryCodes
	store *MemStore
	now   time.Time
}

func (h *harness) setNow(t time.Time) { h.now = t }

func newHarness(t *testing.T) *harness {
	t.Helper()

	menu := catalog.NewMemory()
	menu.Put(catalog.Item{ID: "pizza", Name: "Pizza", BasePrice: 900, Available: true, PrepMinutes: 15})
	menu.Put(catalog.Item{ID: "cola", Name: "Cola", BasePrice: 150, Available: true})

	led := stock.NewMemLedger(15*time.Minute, 3)
	led.SetStock("pizza", 10)
	led.SetStock("cola", 10)

	h := &harness{
		menu:  menu,
		carts: cart.NewStore(menu),
		led:   led,
		pts:   loyalty.NewLedger(365 * 24 * time.Hour),
		codes: discount.NewMemoryCodes(),
		store: NewMemStore(),
		now:   noon,
	}
	h.svc = &Service{
		Carts:            h.carts,
		Catalog:          menu,
		Resolver:         &discount.Resolver{Catalog: menu, Codes: h.codes, Points: h.pts},
		Pricing:          pricing.Engine{Cfg: pricing.DefaultConfig()},
		Stock:            led,
		Loyalty:          h.pts,
		Gateway:          payment.NewSandbox(),
		Orders:           h.store,
		Addresses:        zoneStub{zone: pricing.Zone1},
		Codes:            h.codes,
		Events:           events.Nop{},
		MinOrder:         1000,
		ScheduleMinAhead: time.Hour,
		ScheduleMaxAhead: 7 * 24 * time.Hour,
		Now:              func() time.Time { return h.now },
	}
	return h
}

func (h *harness) fillCart(t *testing.T, pizzas int) cart.Cart {
	t.Helper()
	c, err := h.carts.AddItem(context.Background(), "c1", "cust", 0, "pizza", pizzas, cart.Customization{}, "")
	require.NoError(t, err)
	return c
}

func placeReq(c cart.Cart) PlaceRequest {
	return PlaceRequest{
		CartID:       c.ID,
		CartVersion:  c.Version,
		CustomerID:   "cust",
		PaymentToken: "tok_ok",
		AddressID:    "addr1",
	}
}

func TestPlaceHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.fillCart(t, 2) // £18

	o, err := h.svc.Place(ctx, placeReq(c))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.NotEmpty(t, o.PaymentRef)
	assert.NotEmpty(t, o.ReservationID)
	assert.Equal(t, o.Breakdown.Total, o.AmountPaid)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "Pizza", o.Lines[0].Name)

	// stock is held
	e, err := h.led.Entry(ctx, "pizza")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Reserved)

	// points earned on capture: 1 per whole pound paid
	bal, err := h.pts.Balance(ctx, "cust")
	require.NoError(t, err)
	assert.Equal(t, o.PointsEarned, bal)
	assert.Equal(t, int(o.AmountPaid/100), bal)

	// cart is gone
	_, err = h.carts.Get(ctx, "c1")
	assert.Error(t, err)
}

func TestPlaceBelowMinimumReservesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c, err := h.carts.AddItem(ctx, "c1", "cust", 0, "cola", 2, cart.Customization{}, "")
	require.NoError(t, err)

	_, err = h.svc.Place(ctx, placeReq(c))
	require.True(t, faults.IsKind(err, faults.Validation))

	e, err := h.led.Entry(ctx, "cola")
	require.NoError(t, err)
	assert.Zero(t, e.Reserved)
}

func TestPlaceStaleCartVersion(t *testing.T) {
	h := newHarness(t)
	c := h.fillCart(t, 2)

	req := placeReq(c)
	req.CartVersion = c.Version - 1
	_, err := h.svc.Place(context.Background(), req)
	assert.True(t, faults.IsKind(err, faults.Concurrency))
}

func TestPlaceWhileClosed(t *testing.T) {
	h := newHarness(t)
	c := h.fillCart(t, 2)

	h.setNow(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC))
	_, err := h.svc.Place(context.Background(), placeReq(c))
	assert.True(t, faults.IsKind(err, faults.Availability))
}

func TestPlacePaymentDeclined(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// seed points so a redemption is part of the failing placement
	_, err := h.pts.Earn(ctx, "cust", "old", 100000)
	require.NoError(t, err)
	balBefore, _ := h.pts.Balance(ctx, "cust")

	c := h.fillCart(t, 2)
	req := placeReq(c)
	req.PaymentToken = "tok_declined"
	req.RedeemPoints = 500

	_, err = h.svc.Place(ctx, req)
	require.True(t, faults.IsKind(err, faults.Payment))

	// reservation released, points restored
	e, err := h.led.Entry(ctx, "pizza")
	require.NoError(t, err)
	assert.Zero(t, e.Reserved)

	balAfter, _ := h.pts.Balance(ctx, "cust")
	assert.Equal(t, balBefore, balAfter)

	// the failed order is on record, cancelled
	var failed *Order
	h.store.mu.RLock()
	for _, o := range h.store.orders {
		o := o
		failed = &o
	}
	h.store.mu.RUnlock()
	require.NotNil(t, failed)
	assert.Equal(t, StatusCancelled, failed.Status)
	assert.Equal(t, CancelReasonPaymentFailed, failed.CancelReason)
	assert.Empty(t, failed.PaymentRef)

	// cart survives for another attempt
	_, err = h.carts.Get(ctx, "c1")
	assert.NoError(t, err)
}

func TestPlaceTimeoutRetriesOnce(t *testing.T) {
	h := newHarness(t)
	c := h.fillCart(t, 2)

	req := placeReq(c)
	req.PaymentToken = "tok_timeout" // sandbox times out once, then captures

	o, err := h.svc.Place(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
}

func TestPlaceInsufficientStock(t *testing.T) {
	h := newHarness(t)
	h.led.SetStock("pizza", 1)
	c := h.fillCart(t, 2)

	_, err := h.svc.Place(context.Background(), placeReq(c))
	require.True(t, faults.IsKind(err, faults.Availability))

	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Violations, 1)
	assert.Equal(t, "pizza", fe.Violations[0].Ref)
	assert.Equal(t, 2, fe.Violations[0].Required)
	assert.Equal(t, 1, fe.Violations[0].Available)
}

func TestPlaceMarksCodeUsed(t *testing.T) {
	h := newHarness(t)
	h.codes.Put(discount.Code{Code: "SAVE10", Type: discount.CodePercentage, Value: 10, Active: true, Combinable: true})
	c := h.fillCart(t, 2)

	req := placeReq(c)
	req.Code = "save10"
	o, err := h.svc.Place(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", o.DiscountCode)

	got, err := h.codes.Lookup(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)
}

func TestTransitionFlowConsumesStockOnDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.fillCart(t, 2)

	o, err := h.svc.Place(ctx, placeReq(c))
	require.NoError(t, err)

	for _, next := range []Status{StatusConfirmed, StatusPreparing, StatusReady, StatusOutForDelivery} {
		o, err = h.svc.Transition(ctx, o.ID, next, "")
		require.NoError(t, err)
	}

	o, err = h.svc.Transition(ctx, o.ID, StatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)

	e, err := h.led.Entry(ctx, "pizza")
	require.NoError(t, err)
	assert.Equal(t, 8, e.Available)
	assert.Zero(t, e.Reserved)
}

func TestTransitionRejectsSkipsAndDirectCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.fillCart(t, 2)

	o, err := h.svc.Place(ctx, placeReq(c))
	require.NoError(t, err)

	_, err = h.svc.Transition(ctx, o.ID, StatusReady, "")
	assert.True(t, faults.IsKind(err, faults.StateTransition))

	_, err = h.svc.Transition(ctx, o.ID, StatusCancelled, "")
	assert.True(t, faults.IsKind(err, faults.StateTransition))
}

func TestScheduledOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.fillCart(t, 2)

	at := noon.Add(26 * time.Hour) // 14:00 next day, inside opening hours
	req := placeReq(c)
	req.ScheduledAt = &at

	o, err := h.svc.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, o.Status)
	assert.Empty(t, o.ReservationID, "stock is not held until activation")
	assert.NotEmpty(t, o.PaymentRef, "payment is captured up front")

	// long before the slot nothing happens
	got, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)

	// once inside the lead window the order activates and reserves stock
	h.setNow(at.Add(-time.Duration(o.Breakdown.EstimatedMinutes) * time.Minute))
	got, err = h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.NotEmpty(t, got.ReservationID)

	e, err := h.led.Entry(ctx, "pizza")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Reserved)
}

func TestScheduledOrderFailsWhenStockGone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.fillCart(t, 2)

	at := noon.Add(26 * time.Hour)
	req := placeReq(c)
	req.ScheduledAt = &at

	o, err := h.svc.Place(ctx, req)
	require.NoError(t, err)

	h.led.SetStock("pizza", 0)
	h.setNow(at.Add(-time.Duration(o.Breakdown.EstimatedMinutes) * time.Minute))

	got, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduledFailed, got.Status)
	assert.True(t, got.Status.Terminal())
}

func TestScheduledWindowValidation(t *testing.T) {
	h := newHarness(t)
	c := h.fillCart(t, 2)

	tooSoon := noon.Add(30 * time.Minute)
	req := placeReq(c)
	req.ScheduledAt = &tooSoon
	_, err := h.svc.Place(context.Background(), req)
	assert.True(t, faults.IsKind(err, faults.Validation))

	tooFar := noon.Add(8 * 24 * time.Hour)
	req.ScheduledAt = &tooFar
	_, err = h.svc.Place(context.Background(), req)
	assert.True(t, faults.IsKind(err, faults.Validation))

	closed := noon.Add(15 * time.Hour) // 03:00
	req.ScheduledAt = &closed
	_, err = h.svc.Place(context.Background(), req)
	assert.True(t, faults.IsKind(err, faults.Availability))
}

func TestQuoteDoesNotCommitAnything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.fillCart(t, 2)

	b, changes, err := h.svc.Quote(ctx, QuoteRequest{
		CartID: c.ID, CustomerID: "cust", AddressID: "addr1",
	})
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, b.Subtotal, c.Subtotal())
	assert.Positive(t, b.Total)

	e, err := h.led.Entry(ctx, "pizza")
	require.NoError(t, err)
	assert.Zero(t, e.Reserved)

	got, err := h.carts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Version, got.Version)
}

func TestReorderBuildsFreshCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.fillCart(t, 2)

	o, err := h.svc.Place(ctx, placeReq(c))
	require.NoError(t, err)

	// price moved since the order
	h.menu.Put(catalog.Item{ID: "pizza", Name: "Pizza", BasePrice: 950, Available: true, PrepMinutes: 15})

	nc, report, err := h.svc.Reorder(ctx, o.ID, "cust")
	require.NoError(t, err)
	require.Len(t, nc.Lines, 1)
	assert.Equal(t, 2, nc.Lines[0].Qty)
	require.Len(t, report.PriceChanges, 1)
	assert.Equal(t, o.Lines[0].UnitPrice, report.PriceChanges[0].OldPrice)

	_, _, err = h.svc.Reorder(ctx, o.ID, "other")
	assert.True(t, faults.IsKind(err, faults.Validation))
}
