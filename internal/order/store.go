package order

import (
	"context"
	"sync"

	"github.com/hotplate/takeaway/internal/faults"
)

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (Order, error)
	Update(ctx context.Context, o *Order) error
	// HasOrders backs first-order-only discount eligibility.
	HasOrders(ctx context.Context, customerID string) (bool, error)
}

// MemStore keeps orders in process; tests and the single-binary deployment
// use it, the API binary uses PgStore.
type MemStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemStore() *MemStore {
	return &MemStore{orders: map[string]Order{}}
}

func (s *MemStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return faults.Newf(faults.Validation, "order %s already exists", o.ID)
	}
	s.orders[o.ID] = clone(*o)
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, faults.Newf(faults.Validation, "order %s not found", id)
	}
	return clone(o), nil
}

func (s *MemStore) Update(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return faults.Newf(faults.Validation, "order %s not found", o.ID)
	}
	s.orders[o.ID] = clone(*o)
	return nil
}

func (s *MemStore) HasOrders(_ context.Context, customerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			return true, nil
		}
	}
	return false, nil
}

func clone(o Order) Order {
	o.Lines = append([]Line(nil), o.Lines...)
	o.History = append([]HistoryEntry(nil), o.History...)
	return o
}
