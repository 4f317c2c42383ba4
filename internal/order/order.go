// Package order holds the committed order, its status lifecycle, and the
// placement service that turns a cart into a stock-reserved, priced,
// status-tracked order.
package order

import (
	"time"

	"github.com/hotplate/takeaway/internal/money"
	"github.com/hotplate/takeaway/internal/pricing"
)

type HistoryEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

// Line is a frozen snapshot of a cart line; catalog changes after
// placement never touch it.
type Line struct {
	ItemID    string      `json:"item_id"`
	Name      string      `json:"name"`
	Qty       int         `json:"qty"`
	UnitPrice money.Cents `json:"unit_price_cents"`
}

func (l Line) Total() money.Cents { return l.UnitPrice.Mul(l.Qty) }

// Order is immutable after placement except for status, history and the
// cancellation fields, which only ever move forward.
type Order struct {
	ID             string           `json:"id"`
	CustomerID     string           `json:"customer_id"`
	Lines          []Line           `json:"lines"`
	Breakdown      pricing.Breakdown `json:"breakdown"`
	DiscountCode   string           `json:"discount_code,omitempty"`
	PointsRedeemed int              `json:"points_redeemed,omitempty"`
	PointsEarned   int              `json:"points_earned,omitempty"`
	ReservationID  string           `json:"reservation_id,omitempty"`
	PaymentRef     string           `json:"payment_ref,omitempty"`
	AmountPaid     money.Cents      `json:"amount_paid_cents"`
	Status         Status           `json:"status"`
	History        []HistoryEntry   `json:"history"`
	ScheduledFor   *time.Time       `json:"scheduled_for,omitempty"`
	CancelReason   string           `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Apply moves the order to next, enforcing the transition table, and
// appends the timestamped history entry.
func (o *Order) Apply(next Status, note string, at time.Time) error {
	if !CanTransition(o.Status, next) {
		return transitionError(o.Status, next)
	}
	o.Status = next
	o.History = append(o.History, HistoryEntry{Status: next, At: at, Note: note})
	return nil
}

// start seeds the initial status without a transition check.
func (o *Order) start(s Status, at time.Time) {
	o.Status = s
	o.History = []HistoryEntry{{Status: s, At: at}}
}
