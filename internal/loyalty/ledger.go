// Package loyalty keeps the per-customer point ledger. The log is
// append-only and the balance is always derived from it, never stored, so
// history stays auditable. Expiry is evaluated lazily at read time instead
// of by a background sweep.
package loyalty

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

type Kind string

const (
	KindEarn    Kind = "earn"
	KindRedeem  Kind = "redeem"
	KindExpire  Kind = "expire"
	KindRestore Kind = "restore"
	KindBonus   Kind = "bonus"
)

// Transaction is one signed ledger entry. ExpiresAt is set on earning
// kinds; zero means the entry never expires.
type Transaction struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Kind       Kind      `json:"kind"`
	Points     int       `json:"points"`
	OrderID    string    `json:"order_id,omitempty"`
	At         time.Time `json:"at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

type Ledger struct {
	mu        sync.Mutex
	txs       map[string][]Transaction
	expiryAge time.Duration
	now       func() time.Time
}

func NewLedger(expiryAge time.Duration) *Ledger {
	return &Ledger{
		txs:       map[string][]Transaction{},
		expiryAge: expiryAge,
		now:       time.Now,
	}
}

// Earn credits 1 point per whole currency unit paid, linked to the order.
// Called on payment capture, not on placement.
func (l *Ledger) Earn(_ context.Context, customerID, orderID string, paid money.Cents) (int, error) {
	points := int(paid / 100)
	if points <= 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.append(customerID, Transaction{
		Kind: KindEarn, Points: points, OrderID: orderID,
		At: now, ExpiresAt: now.Add(l.expiryAge),
	})
	return points, nil
}

// Bonus credits promotional points; they expire like earned points.
func (l *Ledger) Bonus(_ context.Context, customerID string, points int) error {
	if points <= 0 {
		return faults.New(faults.Validation, "bonus points must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.append(customerID, Transaction{
		Kind: KindBonus, Points: points, At: now, ExpiresAt: now.Add(l.expiryAge),
	})
	return nil
}

// Redeem debits points against an order. The derived balance can never go
// negative; an over-redemption is rejected outright.
func (l *Ledger) Redeem(_ context.Context, customerID string, points int, orderID string) error {
	if points <= 0 {
		return faults.New(faults.Validation, "redeemed points must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked(customerID)
	if bal := l.balanceLocked(customerID); bal < points {
		return faults.Newf(faults.LimitExceeded, "balance %d is below requested %d points", bal, points)
	}
	l.append(customerID, Transaction{
		Kind: KindRedeem, Points: -points, OrderID: orderID, At: l.now(),
	})
	return nil
}

// Restore re-credits previously redeemed points after a refund or
// cancellation. Restored points do not expire.
func (l *Ledger) Restore(_ context.Context, customerID string, points int, orderID string) error {
	if points <= 0 {
		return faults.New(faults.Validation, "restored points must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(customerID, Transaction{
		Kind: KindRestore, Points: points, OrderID: orderID, At: l.now(),
	})
	return nil
}

// Balance walks expiry first, then sums the signed entries.
func (l *Ledger) Balance(_ context.Context, customerID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked(customerID)
	return l.balanceLocked(customerID), nil
}

// History returns a copy of the customer's ledger, oldest first.
func (l *Ledger) History(_ context.Context, customerID string) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked(customerID)
	return append([]Transaction(nil), l.txs[customerID]...), nil
}

func (l *Ledger) append(customerID string, tx Transaction) {
	tx.ID = uuid.NewString()
	tx.CustomerID = customerID
	l.txs[customerID] = append(l.txs[customerID], tx)
}

func (l *Ledger) balanceLocked(customerID string) int {
	var sum int
	for _, tx := range l.txs[customerID] {
		sum += tx.Points
	}
	return sum
}

type lot struct {
	remaining int
	expiresAt time.Time
}

// expireLocked converts the unconsumed remainder of over-age earning
// entries into Expire entries, FIFO. Redemptions and prior expiries consume
// the oldest lots first during the replay, so only genuinely unspent points
// lapse.
func (l *Ledger) expireLocked(customerID string) {
	now := l.now()
	var lots []lot
	for _, tx := range l.txs[customerID] {
		if tx.Points > 0 {
			lots = append(lots, lot{remaining: tx.Points, expiresAt: tx.ExpiresAt})
			continue
		}
		debit := -tx.Points
		for debit > 0 && len(lots) > 0 {
			if lots[0].remaining > debit {
				lots[0].remaining -= debit
				debit = 0
			} else {
				debit -= lots[0].remaining
				lots = lots[1:]
			}
		}
	}
	for _, lo := range lots {
		if lo.remaining > 0 && !lo.expiresAt.IsZero() && lo.expiresAt.Before(now) {
			l.append(customerID, Transaction{
				Kind: KindExpire, Points: -lo.remaining, At: now,
			})
		}
	}
}
