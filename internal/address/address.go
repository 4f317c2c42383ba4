// Package address resolves a customer's saved address to a delivery zone.
package address

import (
	"context"
	"sync"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/pricing"
)

type Address struct {
	ID         string
	CustomerID string
	Zone       pricing.Zone
}

// Book is the in-memory address store. Zone assignment happens when the
// address is saved; delivery range checks reuse the stored zone.
type Book struct {
	mu   sync.RWMutex
	byID map[string]Address
}

func NewBook() *Book {
	return &Book{byID: map[string]Address{}}
}

func (b *Book) Put(a Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byID[a.ID] = a
}

func (b *Book) Zone(_ context.Context, addressID, customerID string) (pricing.Zone, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.byID[addressID]
	if !ok {
		return 0, faults.Newf(faults.Validation, "address %s not found", addressID)
	}
	if a.CustomerID != customerID {
		return 0, faults.New(faults.Validation, "address belongs to another customer")
	}
	if a.Zone == pricing.ZoneOutOfRange {
		return 0, faults.New(faults.Validation, "address is outside the delivery range")
	}
	return a.Zone, nil
}
