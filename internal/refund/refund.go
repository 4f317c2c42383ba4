// Package refund handles customer cancellations and admin-issued partial
// refunds, including the points restoration that goes with them.
package refund

import (
	"context"
	"sync"
	"time"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

// Record is one refund against an order. An order can accumulate several
// partial refunds; their sum never exceeds what was paid.
type Record struct {
	ID             string      `json:"id"`
	OrderID        string      `json:"order_id"`
	Amount         money.Cents `json:"amount_cents"`
	Reason         string      `json:"reason"`
	Reference      string      `json:"reference"`
	PointsRestored int         `json:"points_restored"`
	Partial        bool        `json:"partial"`
	At             time.Time   `json:"at"`
}

type Store interface {
	Save(ctx context.Context, r Record) error
	ByOrder(ctx context.Context, orderID string) ([]Record, error)
}

type MemStore struct {
	mu      sync.RWMutex
	byOrder map[string][]Record
}

func NewMemStore() *MemStore {
	return &MemStore{byOrder: map[string][]Record{}}
}

func (s *MemStore) Save(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOrder[r.OrderID] = append(s.byOrder[r.OrderID], r)
	return nil
}

func (s *MemStore) ByOrder(_ context.Context, orderID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.byOrder[orderID]...), nil
}

// CancelLimiter enforces the rolling cancellation cap per customer.
// Cancellations caused by failed payments are never recorded here.
type CancelLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

func NewCancelLimiter(limit int, window time.Duration) *CancelLimiter {
	return &CancelLimiter{events: map[string][]time.Time{}, Limit: limit, Window: window}
}

func (l *CancelLimiter) clock() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow reports whether the customer may cancel another order.
func (l *CancelLimiter) Allow(customerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(customerID)) < l.Limit
}

// Record counts a completed cancellation against the customer.
func (l *CancelLimiter) Record(customerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[customerID] = append(l.pruneLocked(customerID), l.clock())
}

func (l *CancelLimiter) pruneLocked(customerID string) []time.Time {
	cutoff := l.clock().Add(-l.Window)
	kept := l.events[customerID][:0]
	for _, t := range l.events[customerID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.events[customerID] = kept
	return kept
}

func limitError(limit int, window time.Duration) error {
	return faults.Newf(faults.LimitExceeded,
		"cancellation limit of %d per %s reached", limit, window)
}
