package order

import "github.com/hotplate/takeaway/internal/faults"

type Status string

const (
	// StatusScheduled precedes Pending for future orders; activation
	// re-validates availability and opening hours at the scheduled time.
	StatusScheduled       Status = "scheduled"
	StatusScheduledFailed Status = "scheduled_failed"
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusPreparing       Status = "preparing"
	StatusReady           Status = "ready"
	StatusOutForDelivery  Status = "out_for_delivery"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

// validNext is the forward-only transition table. Cancellation is only
// reachable before preparation starts; later stages go through the refund
// path instead. A Scheduled order is prepaid and may be cancelled outright,
// it holds no reservation yet.
var validNext = map[Status]map[Status]bool{
	StatusScheduled:       {StatusPending: true, StatusScheduledFailed: true, StatusCancelled: true},
	StatusPending:         {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:       {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing:       {StatusReady: true},
	StatusReady:           {StatusOutForDelivery: true},
	StatusOutForDelivery:  {StatusDelivered: true},
	StatusDelivered:       {},
	StatusCancelled:       {},
	StatusScheduledFailed: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// Cancellable reports whether a customer may still cancel at this status.
func (s Status) Cancellable() bool {
	return validNext[s][StatusCancelled]
}

func transitionError(from, to Status) error {
	return faults.Newf(faults.StateTransition, "cannot move order from %s to %s", from, to)
}
