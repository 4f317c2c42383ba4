package refund

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hotplate/takeaway/internal/events"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/loyalty"
	"github.com/hotplate/takeaway/internal/money"
	"github.com/hotplate/takeaway/internal/order"
	"github.com/hotplate/takeaway/internal/stock"
)

// Refunder is the payment-provider side of a refund.
type Refunder interface {
	Refund(ctx context.Context, paymentRef string, amount money.Cents) (reference string, err error)
}

// Processor owns the two refund paths: customer cancellation (full refund,
// only while the order is still cancellable) and admin-issued refunds
// (partial amounts, capped by how far the kitchen has got).
type Processor struct {
	Orders  order.Store
	Stock   stock.Ledger
	Loyalty *loyalty.Ledger
	Gateway Refunder
	Refunds Store
	Limiter *CancelLimiter
	Events  events.Publisher
	Log     *slog.Logger

	Now func() time.Time
}

func (p *Processor) clock() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Cancel is the customer path. The order must still be cancellable; the
// refund tops the order up to the full amount paid net of any earlier
// partial refunds, the reservation is released and the redeemed points not
// already restored come back.
func (p *Processor) Cancel(ctx context.Context, orderID, customerID, reason string) (order.Order, Record, error) {
	o, err := p.Orders.Get(ctx, orderID)
	if err != nil {
		return order.Order{}, Record{}, err
	}
	if o.CustomerID != customerID {
		return order.Order{}, Record{}, faults.New(faults.Validation, "order belongs to another customer")
	}
	if !o.Status.Cancellable() {
		return order.Order{}, Record{}, faults.Newf(faults.StateTransition,
			"order in status %s can no longer be cancelled", o.Status)
	}
	if !p.Limiter.Allow(customerID) {
		return order.Order{}, Record{}, limitError(p.Limiter.Limit, p.Limiter.Window)
	}

	prior, err := p.Refunds.ByOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, Record{}, err
	}
	var refunded money.Cents
	restoredSoFar := 0
	for _, r := range prior {
		refunded += r.Amount
		restoredSoFar += r.PointsRestored
	}
	remaining := o.AmountPaid - refunded
	if remaining < 0 {
		remaining = 0
	}

	var ref string
	if remaining > 0 {
		ref, err = p.Gateway.Refund(ctx, o.PaymentRef, remaining)
		if err != nil {
			return order.Order{}, Record{}, faults.Wrap(faults.Payment, "refund failed", err)
		}
	}

	if o.ReservationID != "" {
		if err := p.Stock.Release(ctx, o.ReservationID); err != nil {
			p.logErr("release reservation", o.ID, err)
		} else {
			p.publish(ctx, events.EventReservationReleased, o.ID, events.ReservationReleasedPayload{
				OrderID: o.ID, ReservationID: o.ReservationID, Reason: "cancelled",
			})
		}
	}

	restored := 0
	if toRestore := o.PointsRedeemed - restoredSoFar; toRestore > 0 {
		if err := p.Loyalty.Restore(ctx, customerID, toRestore, o.ID); err != nil {
			p.logErr("restore points", o.ID, err)
		} else {
			restored = toRestore
		}
	}

	now := p.clock()
	o.CancelReason = reason
	if err := o.Apply(order.StatusCancelled, reason, now); err != nil {
		return order.Order{}, Record{}, err
	}

	rec := Record{
		ID:             uuid.NewString(),
		OrderID:        o.ID,
		Amount:         remaining,
		Reason:         reason,
		Reference:      ref,
		PointsRestored: restored,
		At:             now,
	}
	if err := p.Refunds.Save(ctx, rec); err != nil {
		return order.Order{}, Record{}, err
	}
	if err := p.Orders.Update(ctx, &o); err != nil {
		return order.Order{}, Record{}, err
	}
	p.Limiter.Record(customerID)

	p.publish(ctx, events.EventRefundIssued, o.ID, events.RefundIssuedPayload{
		OrderID: o.ID, RefundID: rec.ID, AmountCents: rec.Amount,
		Reason: reason, PointsRestored: restored,
	})
	if p.Log != nil {
		p.Log.Info("order cancelled", "order", o.ID, "refund", rec.Amount.Pounds())
	}
	return o, rec, nil
}

// maxRefundable is how much of the paid amount can still come back given
// how far preparation has progressed. Once the food is ready nothing is
// refundable through this path.
func maxRefundable(o order.Order) money.Cents {
	switch o.Status {
	case order.StatusScheduled, order.StatusPending, order.StatusConfirmed:
		return o.AmountPaid
	case order.StatusPreparing:
		return o.AmountPaid / 2
	default:
		return 0
	}
}

// Issue is the admin path for partial refunds. Cumulative refunds against
// an order never exceed the status ceiling, and redeemed points come back
// in proportion to the amount refunded.
func (p *Processor) Issue(ctx context.Context, orderID string, amount money.Cents, reason string) (Record, error) {
	if amount <= 0 {
		return Record{}, faults.New(faults.Validation, "refund amount must be positive")
	}
	o, err := p.Orders.Get(ctx, orderID)
	if err != nil {
		return Record{}, err
	}

	ceiling := maxRefundable(o)
	if ceiling == 0 {
		return Record{}, faults.Newf(faults.StateTransition,
			"order in status %s is not refundable", o.Status)
	}
	prior, err := p.Refunds.ByOrder(ctx, orderID)
	if err != nil {
		return Record{}, err
	}
	var refunded money.Cents
	restoredSoFar := 0
	for _, r := range prior {
		refunded += r.Amount
		restoredSoFar += r.PointsRestored
	}
	if refunded+amount > ceiling {
		return Record{}, faults.Newf(faults.Validation,
			"refund of %s exceeds remaining refundable %s",
			amount.Pounds(), (ceiling - refunded).Pounds())
	}

	ref, err := p.Gateway.Refund(ctx, o.PaymentRef, amount)
	if err != nil {
		return Record{}, faults.Wrap(faults.Payment, "refund failed", err)
	}

	// Proportional restoration, floored, net of what earlier partial
	// refunds already gave back.
	restore := 0
	if o.PointsRedeemed > 0 && o.AmountPaid > 0 {
		entitled := int(int64(o.PointsRedeemed) * int64(refunded+amount) / int64(o.AmountPaid))
		restore = entitled - restoredSoFar
		if restore < 0 {
			restore = 0
		}
	}
	if restore > 0 {
		if err := p.Loyalty.Restore(ctx, o.CustomerID, restore, o.ID); err != nil {
			p.logErr("restore points", o.ID, err)
			restore = 0
		}
	}

	rec := Record{
		ID:             uuid.NewString(),
		OrderID:        o.ID,
		Amount:         amount,
		Reason:         reason,
		Reference:      ref,
		PointsRestored: restore,
		Partial:        refunded+amount < o.AmountPaid,
		At:             p.clock(),
	}
	if err := p.Refunds.Save(ctx, rec); err != nil {
		return Record{}, err
	}
	p.publish(ctx, events.EventRefundIssued, o.ID, events.RefundIssuedPayload{
		OrderID: o.ID, RefundID: rec.ID, AmountCents: rec.Amount,
		Reason: reason, PointsRestored: restore,
	})
	return rec, nil
}

func (p *Processor) publish(ctx context.Context, eventType, orderID string, payload any) {
	if p.Events != nil {
		p.Events.Publish(ctx, eventType, orderID, payload)
	}
}

func (p *Processor) logErr(msg, orderID string, err error) {
	if p.Log != nil {
		p.Log.Error(msg, "order", orderID, "err", err)
	}
}
