package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hotplate/takeaway/internal/cart"
	"github.com/hotplate/takeaway/internal/catalog"
	"github.com/hotplate/takeaway/internal/discount"
	"github.com/hotplate/takeaway/internal/events"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/loyalty"
	"github.com/hotplate/takeaway/internal/money"
	"github.com/hotplate/takeaway/internal/payment"
	"github.com/hotplate/takeaway/internal/pricing"
	"github.com/hotplate/takeaway/internal/stock"
)

// CancelReasonPaymentFailed marks system cancellations after a failed
// charge; they do not count against the customer's cancellation limit.
const CancelReasonPaymentFailed = "payment_failed"

// AddressValidator is the customer/identity collaborator: it resolves a
// saved address to a delivery zone, or fails when the address is not the
// customer's or is out of range.
type AddressValidator interface {
	Zone(ctx context.Context, addressID, customerID string) (pricing.Zone, error)
}

type Service struct {
	Carts     *cart.Store
	Catalog   catalog.Catalog
	Resolver  *discount.Resolver
	Pricing   pricing.Engine
	Stock     stock.Ledger
	Loyalty   *loyalty.Ledger
	Gateway   payment.Gateway
	Orders    Store
	Addresses AddressValidator
	Codes     discount.CodeStore
	Events    events.Publisher
	Log       *slog.Logger

	MinOrder         money.Cents
	ScheduleMinAhead time.Duration
	ScheduleMaxAhead time.Duration

	Now func() time.Time
}

func (s *Service) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) publish(ctx context.Context, eventType, orderID string, payload any) {
	if s.Events != nil {
		s.Events.Publish(ctx, eventType, orderID, payload)
	}
}

type QuoteRequest struct {
	CartID       string
	CustomerID   string
	AddressID    string
	Code         string
	RedeemPoints int
	Tip          pricing.TipSelection
	ScheduledAt  *time.Time
	BadWeather   bool
}

// Quote prices the cart without committing anything. Prices are
// revalidated against the catalog first; any drift is returned alongside
// the breakdown so the caller sees the new price before paying it.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (pricing.Breakdown, []cart.PriceChange, error) {
	changes, err := s.Carts.Revalidate(ctx, req.CartID)
	if err != nil {
		return pricing.Breakdown{}, nil, err
	}
	c, err := s.Carts.Get(ctx, req.CartID)
	if err != nil {
		return pricing.Breakdown{}, nil, err
	}
	if len(c.Lines) == 0 {
		return pricing.Breakdown{}, nil, faults.New(faults.Validation, "cart is empty")
	}

	at := s.clock()
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
	}
	plan, zone, err := s.resolve(ctx, c, req.CustomerID, req.AddressID, req.Code, req.RedeemPoints, at)
	if err != nil {
		return pricing.Breakdown{}, nil, err
	}
	b, err := s.Pricing.Quote(c, plan, pricing.DeliveryInput{Zone: zone, At: at, BadWeather: req.BadWeather}, req.Tip)
	if err != nil {
		return pricing.Breakdown{}, nil, err
	}
	return b, changes, nil
}

type PlaceRequest struct {
	CartID       string
	CartVersion  int64
	CustomerID   string
	PaymentToken string
	AddressID    string
	Code         string
	RedeemPoints int
	Tip          pricing.TipSelection
	ScheduledAt  *time.Time
	BadWeather   bool
}

// Place converts the cart into a committed order: validate, price, reserve
// every line atomically, charge, then persist. Nothing partial survives a
// failure: a failed charge releases the reservation and the redeemed
// points, and the order lands in Cancelled with reason payment_failed.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (Order, error) {
	c, err := s.Carts.Get(ctx, req.CartID)
	if err != nil {
		return Order{}, err
	}
	if c.Version != req.CartVersion {
		return Order{}, faults.New(faults.Concurrency, "cart changed since it was read")
	}
	if len(c.Lines) == 0 {
		return Order{}, faults.New(faults.Validation, "cart is empty")
	}

	changes, err := s.Carts.Revalidate(ctx, req.CartID)
	if err != nil {
		return Order{}, err
	}
	if len(changes) > 0 {
		fe := faults.New(faults.Validation, "prices changed since items were added, please re-quote")
		for _, ch := range changes {
			fe.WithViolations(faults.Violation{
				Ref:    ch.ItemID,
				Reason: fmt.Sprintf("now %s (was %s)", ch.NewPrice.Pounds(), ch.OldPrice.Pounds()),
			})
		}
		return Order{}, fe
	}

	if sub := c.Subtotal(); sub < s.MinOrder {
		return Order{}, faults.Newf(faults.Validation, "minimum order is %s", s.MinOrder.Pounds())
	}

	now := s.clock()
	at := now
	scheduled := req.ScheduledAt != nil
	if scheduled {
		at = *req.ScheduledAt
		if err := s.validateSchedule(ctx, c, now, at); err != nil {
			return Order{}, err
		}
	} else if !s.Catalog.IsOpen(now) {
		return Order{}, faults.New(faults.Availability, "restaurant is closed")
	}

	plan, zone, err := s.resolve(ctx, c, req.CustomerID, req.AddressID, req.Code, req.RedeemPoints, at)
	if err != nil {
		return Order{}, err
	}
	breakdown, err := s.Pricing.Quote(c, plan, pricing.DeliveryInput{Zone: zone, At: at, BadWeather: req.BadWeather}, req.Tip)
	if err != nil {
		return Order{}, err
	}

	lines, err := s.snapshotLines(ctx, c)
	if err != nil {
		return Order{}, err
	}

	o := Order{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		Lines:          lines,
		Breakdown:      breakdown,
		DiscountCode:   plan.CodeUsed,
		PointsRedeemed: plan.RedeemPoints,
		CreatedAt:      now,
	}
	if scheduled {
		o.ScheduledFor = req.ScheduledAt
		o.start(StatusScheduled, now)
	} else {
		o.start(StatusPending, now)
		res, err := s.Stock.Reserve(ctx, o.ID, reservationLines(c))
		if err != nil {
			return Order{}, err
		}
		o.ReservationID = res.ID
	}

	if plan.RedeemPoints > 0 {
		if err := s.Loyalty.Redeem(ctx, req.CustomerID, plan.RedeemPoints, o.ID); err != nil {
			s.rollbackReservation(ctx, &o, "redeem_failed")
			return Order{}, err
		}
	}

	ch, err := payment.ChargeOnce(ctx, s.Gateway, breakdown.Total, req.PaymentToken, s.Log)
	if err != nil {
		s.rollbackReservation(ctx, &o, CancelReasonPaymentFailed)
		if plan.RedeemPoints > 0 {
			if rerr := s.Loyalty.Restore(ctx, req.CustomerID, plan.RedeemPoints, o.ID); rerr != nil && s.Log != nil {
				s.Log.Error("point restore after failed charge", "order", o.ID, "err", rerr)
			}
		}
		o.CancelReason = CancelReasonPaymentFailed
		if !scheduled {
			_ = o.Apply(StatusCancelled, CancelReasonPaymentFailed, s.clock())
		} else {
			_ = o.Apply(StatusScheduledFailed, CancelReasonPaymentFailed, s.clock())
		}
		if cerr := s.Orders.Create(ctx, &o); cerr != nil && s.Log != nil {
			s.Log.Error("persist failed order", "order", o.ID, "err", cerr)
		}
		return Order{}, err
	}
	o.PaymentRef = ch.Ref
	o.AmountPaid = breakdown.Total

	// Points are earned on capture, not on placement.
	if earned, err := s.Loyalty.Earn(ctx, req.CustomerID, o.ID, o.AmountPaid); err == nil {
		o.PointsEarned = earned
	}

	if plan.CodeUsed != "" {
		if err := s.Codes.MarkUsed(ctx, plan.CodeUsed); err != nil && s.Log != nil {
			s.Log.Warn("mark code used", "code", plan.CodeUsed, "err", err)
		}
	}

	if err := s.Orders.Create(ctx, &o); err != nil {
		return Order{}, err
	}
	s.Carts.Drop(ctx, req.CartID)

	s.publish(ctx, events.EventOrderPlaced, o.ID, events.OrderPlacedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		TotalCents: o.AmountPaid,
		Scheduled:  scheduled,
	})
	if s.Log != nil {
		s.Log.Info("order placed", "order", o.ID, "customer", o.CustomerID, "total", o.AmountPaid.Pounds(), "scheduled", scheduled)
	}
	return o, nil
}

// Get loads an order, activating a due scheduled order on the way out.
func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.activate(ctx, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Transition advances the order one step. Cancellation goes through the
// refund processor, not through here.
func (s *Service) Transition(ctx context.Context, orderID string, next Status, note string) (Order, error) {
	if next == StatusCancelled {
		return Order{}, faults.New(faults.StateTransition, "use the cancellation flow to cancel an order")
	}
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.activate(ctx, &o); err != nil {
		return Order{}, err
	}
	from := o.Status
	if err := o.Apply(next, note, s.clock()); err != nil {
		return Order{}, err
	}
	if next == StatusDelivered && o.ReservationID != "" {
		// Delivery turns the exclusive claim into consumed stock.
		if err := s.Stock.Consume(ctx, o.ReservationID); err != nil {
			return Order{}, err
		}
	}
	if err := s.Orders.Update(ctx, &o); err != nil {
		return Order{}, err
	}
	s.publish(ctx, events.EventStatusChanged, o.ID, events.StatusChangedPayload{
		OrderID: o.ID, From: string(from), To: string(next), Note: note,
	})
	return o, nil
}

// activate is the pull-evaluated scheduled-order hook: once the scheduled
// time minus the delivery estimate arrives, availability and opening hours
// are re-checked and stock is reserved. Failure leaves the order in the
// terminal ScheduledFailed state rather than dropping it silently.
func (s *Service) activate(ctx context.Context, o *Order) error {
	if o.Status != StatusScheduled || o.ScheduledFor == nil {
		return nil
	}
	now := s.clock()
	due := o.ScheduledFor.Add(-time.Duration(o.Breakdown.EstimatedMinutes) * time.Minute)
	if now.Before(due) {
		return nil
	}

	fail := func(reason string) error {
		if err := o.Apply(StatusScheduledFailed, reason, now); err != nil {
			return err
		}
		o.CancelReason = reason
		if err := s.Orders.Update(ctx, o); err != nil {
			return err
		}
		s.publish(ctx, events.EventStatusChanged, o.ID, events.StatusChangedPayload{
			OrderID: o.ID, From: string(StatusScheduled), To: string(StatusScheduledFailed), Note: reason,
		})
		return nil
	}

	if !s.Catalog.IsOpen(*o.ScheduledFor) {
		return fail("restaurant closed at scheduled time")
	}
	for _, l := range o.Lines {
		it, err := s.Catalog.Item(ctx, l.ItemID)
		if err != nil || !it.AvailableAt(*o.ScheduledFor) {
			return fail(fmt.Sprintf("%s no longer available", l.Name))
		}
	}
	lines := make([]stock.LineReq, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, stock.LineReq{ItemID: l.ItemID, Qty: l.Qty})
	}
	res, err := s.Stock.Reserve(ctx, o.ID, lines)
	if err != nil {
		if faults.IsKind(err, faults.Availability) {
			return fail("stock no longer available")
		}
		return err
	}
	o.ReservationID = res.ID
	if err := o.Apply(StatusPending, "scheduled order activated", now); err != nil {
		return err
	}
	if err := s.Orders.Update(ctx, o); err != nil {
		return err
	}
	s.publish(ctx, events.EventStatusChanged, o.ID, events.StatusChangedPayload{
		OrderID: o.ID, From: string(StatusScheduled), To: string(StatusPending),
	})
	return nil
}

// ReorderReport lists what could not be carried into the new cart and
// which prices moved since the original order.
type ReorderReport struct {
	Unavailable  []string           `json:"unavailable,omitempty"`
	PriceChanges []cart.PriceChange `json:"price_changes,omitempty"`
}

// Reorder builds a fresh cart from a past order at current catalog prices.
func (s *Service) Reorder(ctx context.Context, orderID, customerID string) (cart.Cart, ReorderReport, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return cart.Cart{}, ReorderReport{}, err
	}
	if o.CustomerID != customerID {
		return cart.Cart{}, ReorderReport{}, faults.New(faults.Validation, "order belongs to another customer")
	}

	var report ReorderReport
	newCartID := uuid.NewString()
	var c cart.Cart
	version := int64(0)
	for _, l := range o.Lines {
		nc, err := s.Carts.AddItem(ctx, newCartID, customerID, version, l.ItemID, l.Qty, cart.Customization{}, "")
		if err != nil {
			report.Unavailable = append(report.Unavailable, l.Name)
			continue
		}
		c = nc
		version = nc.Version
		added := nc.Lines[len(nc.Lines)-1]
		if added.UnitPrice != l.UnitPrice {
			report.PriceChanges = append(report.PriceChanges, cart.PriceChange{
				LineID: added.ID, ItemID: l.ItemID, OldPrice: l.UnitPrice, NewPrice: added.UnitPrice,
			})
		}
	}
	if len(c.Lines) == 0 {
		return cart.Cart{}, report, faults.New(faults.Availability, "no items from this order are available")
	}
	return c, report, nil
}

func (s *Service) resolve(ctx context.Context, c cart.Cart, customerID, addressID, code string, redeemPoints int, at time.Time) (discount.Plan, pricing.Zone, error) {
	zone, err := s.Addresses.Zone(ctx, addressID, customerID)
	if err != nil {
		return discount.Plan{}, 0, err
	}
	has, err := s.Orders.HasOrders(ctx, customerID)
	if err != nil {
		return discount.Plan{}, 0, err
	}
	plan, err := s.Resolver.Resolve(ctx, discount.Request{
		Cart:         c,
		CustomerID:   customerID,
		Code:         code,
		RedeemPoints: redeemPoints,
		FirstOrder:   !has,
		Now:          at,
	})
	if err != nil {
		return discount.Plan{}, 0, err
	}
	return plan, zone, nil
}

func (s *Service) validateSchedule(ctx context.Context, c cart.Cart, now, at time.Time) error {
	if at.Before(now.Add(s.ScheduleMinAhead)) {
		return faults.Newf(faults.Validation, "orders must be scheduled at least %s ahead", s.ScheduleMinAhead)
	}
	if at.After(now.Add(s.ScheduleMaxAhead)) {
		return faults.Newf(faults.Validation, "orders cannot be scheduled more than %s ahead", s.ScheduleMaxAhead)
	}
	if !s.Catalog.IsOpen(at) {
		return faults.New(faults.Availability, "restaurant is closed at the scheduled time")
	}
	var violations []faults.Violation
	for _, l := range c.Lines {
		it, err := s.Catalog.Item(ctx, l.ItemID)
		if err != nil {
			violations = append(violations, faults.Violation{Ref: l.ItemID, Reason: "no longer on the menu"})
			continue
		}
		if !it.AvailableAt(at) {
			violations = append(violations, faults.Violation{Ref: l.ItemID, Reason: "not available at the scheduled time"})
		}
	}
	if len(violations) > 0 {
		return faults.New(faults.Availability, "items unavailable at the scheduled time").WithViolations(violations...)
	}
	return nil
}

func (s *Service) snapshotLines(ctx context.Context, c cart.Cart) ([]Line, error) {
	lines := make([]Line, 0, len(c.Lines))
	for _, l := range c.Lines {
		it, err := s.Catalog.Item(ctx, l.ItemID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Line{ItemID: l.ItemID, Name: it.Name, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	return lines, nil
}

func reservationLines(c cart.Cart) []stock.LineReq {
	byItem := map[string]int{}
	order := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		if _, ok := byItem[l.ItemID]; !ok {
			order = append(order, l.ItemID)
		}
		byItem[l.ItemID] += l.Qty
	}
	out := make([]stock.LineReq, 0, len(order))
	for _, id := range order {
		out = append(out, stock.LineReq{ItemID: id, Qty: byItem[id]})
	}
	return out
}

func (s *Service) rollbackReservation(ctx context.Context, o *Order, reason string) {
	if o.ReservationID == "" {
		return
	}
	if err := s.Stock.Release(ctx, o.ReservationID); err != nil {
		if s.Log != nil {
			s.Log.Error("release reservation", "order", o.ID, "err", err)
		}
		return
	}
	s.publish(ctx, events.EventReservationReleased, o.ID, events.ReservationReleasedPayload{
		OrderID: o.ID, ReservationID: o.ReservationID, Reason: reason,
	})
}
