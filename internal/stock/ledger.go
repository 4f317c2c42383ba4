// Package stock tracks per-item availability and outstanding reservations.
// A reservation is an exclusive claim, not an ownership transfer: stock is
// only consumed when the order is delivered. Reservations are created
// atomically for all lines or not at all, and reservations that outlive
// their grace window are released lazily inside ledger operations — there
// is no background sweeper.
package stock

import (
	"context"
	"time"
)

type LineReq struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationReleased ReservationStatus = "released"
	ReservationConsumed ReservationStatus = "consumed"
)

type Reservation struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	Lines     []LineReq         `json:"lines"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Entry is the ledger row for one item. Invariant: 0 <= Reserved <= Available.
type Entry struct {
	ItemID    string `json:"item_id"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Version   int64  `json:"-"`
}

func (e Entry) Free() int { return e.Available - e.Reserved }

type Ledger interface {
	// Reserve claims every line atomically; on any shortfall it fails with
	// an availability fault itemizing each failing line.
	Reserve(ctx context.Context, orderID string, lines []LineReq) (Reservation, error)
	// Release returns reserved quantities to the pool. Releasing an
	// already-released reservation is a no-op.
	Release(ctx context.Context, reservationID string) error
	// Consume permanently deducts reserved quantities on delivery.
	Consume(ctx context.Context, reservationID string) error
	Entry(ctx context.Context, itemID string) (Entry, error)
}
