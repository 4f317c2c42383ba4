// Package cart implements the mutable pre-order container. Each cart is an
// independently serialized resource: mutations carry the version the caller
// read and fail with a concurrency conflict when stale, which protects two
// devices editing the same cart at once.
package cart

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hotplate/takeaway/internal/catalog"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

type Store struct {
	mu      sync.Mutex
	carts   map[string]*Cart
	catalog catalog.Catalog
	now     func() time.Time
}

func NewStore(cat catalog.Catalog) *Store {
	return &Store{
		carts:   map[string]*Cart{},
		catalog: cat,
		now:     time.Now,
	}
}

// UnitPrice validates a customization against the item's rules and returns
// the resulting unit price: base, plus extra prices, plus the size delta.
func UnitPrice(it catalog.Item, c Customization) (money.Cents, error) {
	price := it.BasePrice

	if it.MaxExtras > 0 && len(c.Extras) > it.MaxExtras {
		return 0, faults.Newf(faults.Validation, "at most %d extras allowed for %s", it.MaxExtras, it.Name)
	}
	for _, id := range c.Extras {
		var found *catalog.Extra
		for i := range it.Extras {
			if it.Extras[i].ID == id {
				found = &it.Extras[i]
				break
			}
		}
		if found == nil || !found.Available {
			return 0, faults.Newf(faults.Validation, "extra %s not offered for %s", id, it.Name)
		}
		price += found.Price
	}

	for _, ing := range c.Removed {
		if contains(it.Required, ing) {
			return 0, faults.Newf(faults.Validation, "%s is a base ingredient of %s and cannot be removed", ing, it.Name)
		}
		if !contains(it.Removable, ing) {
			return 0, faults.Newf(faults.Validation, "%s is not an ingredient of %s", ing, it.Name)
		}
	}

	if c.Size != "" {
		delta, ok := it.SizeDeltas[catalog.Size(c.Size)]
		if !ok {
			return 0, faults.Newf(faults.Validation, "size %s not offered for %s", c.Size, it.Name)
		}
		price += delta
	}
	return price, nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// Get returns a copy of the cart.
func (s *Store) Get(_ context.Context, cartID string) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return Cart{}, faults.Newf(faults.Validation, "cart %s not found", cartID)
	}
	return c.clone(), nil
}

// AddItem appends a line (or bumps an identical one). A missing cart is
// created on first add, with version 0 expected.
func (s *Store) AddItem(ctx context.Context, cartID, customerID string, version int64, itemID string, qty int, cust Customization, notes string) (Cart, error) {
	if qty < 1 || qty > MaxLineQuantity {
		return Cart{}, faults.Newf(faults.Validation, "quantity must be between 1 and %d", MaxLineQuantity)
	}
	it, err := s.catalog.Item(ctx, itemID)
	if err != nil {
		return Cart{}, err
	}
	now := s.now()
	if !it.AvailableAt(now) {
		return Cart{}, faults.Newf(faults.Availability, "%s is not available right now", it.Name)
	}
	price, err := UnitPrice(it, cust)
	if err != nil {
		return Cart{}, err
	}
	if len(notes) > MaxNoteLength {
		return Cart{}, faults.Newf(faults.Validation, "notes limited to %d characters", MaxNoteLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		if version != 0 {
			return Cart{}, faults.New(faults.Concurrency, "cart version is stale")
		}
		c = &Cart{ID: cartID, CustomerID: customerID}
		s.carts[cartID] = c
	} else if c.Version != version {
		return Cart{}, faults.New(faults.Concurrency, "cart version is stale")
	}

	if c.TotalQuantity()+qty > MaxCartQuantity {
		return Cart{}, faults.Newf(faults.Validation, "cart limited to %d items in total", MaxCartQuantity)
	}

	merged := false
	for i := range c.Lines {
		l := &c.Lines[i]
		if l.ItemID == itemID && l.Customization.equal(cust) {
			if l.Qty+qty > MaxLineQuantity {
				return Cart{}, faults.Newf(faults.Validation, "line quantity limited to %d", MaxLineQuantity)
			}
			l.Qty += qty
			l.UnitPrice = price
			merged = true
			break
		}
	}
	if !merged {
		c.Lines = append(c.Lines, Line{
			ID:            uuid.NewString(),
			ItemID:        itemID,
			Qty:           qty,
			Customization: cust,
			UnitPrice:     price,
			Notes:         notes,
			AddedAt:       now,
		})
	}
	c.Version++
	c.UpdatedAt = now
	return c.clone(), nil
}

// UpdateQuantity sets a line's quantity.
func (s *Store) UpdateQuantity(_ context.Context, cartID string, version int64, lineID string, qty int) (Cart, error) {
	if qty < 1 || qty > MaxLineQuantity {
		return Cart{}, faults.Newf(faults.Validation, "quantity must be between 1 and %d", MaxLineQuantity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.locked(cartID, version)
	if err != nil {
		return Cart{}, err
	}
	l := c.line(lineID)
	if l == nil {
		return Cart{}, faults.Newf(faults.Validation, "line %s not in cart", lineID)
	}
	if c.TotalQuantity()-l.Qty+qty > MaxCartQuantity {
		return Cart{}, faults.Newf(faults.Validation, "cart limited to %d items in total", MaxCartQuantity)
	}
	l.Qty = qty
	c.Version++
	c.UpdatedAt = s.now()
	return c.clone(), nil
}

// RemoveLine drops a line from the cart.
func (s *Store) RemoveLine(_ context.Context, cartID string, version int64, lineID string) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.locked(cartID, version)
	if err != nil {
		return Cart{}, err
	}
	kept := c.Lines[:0]
	removed := false
	for _, l := range c.Lines {
		if l.ID == lineID {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	if !removed {
		return Cart{}, faults.Newf(faults.Validation, "line %s not in cart", lineID)
	}
	c.Lines = kept
	c.Version++
	c.UpdatedAt = s.now()
	return c.clone(), nil
}

// Clear empties the cart but keeps it alive.
func (s *Store) Clear(_ context.Context, cartID string, version int64) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.locked(cartID, version)
	if err != nil {
		return Cart{}, err
	}
	c.Lines = nil
	c.Version++
	c.UpdatedAt = s.now()
	return c.clone(), nil
}

// Merge folds a guest cart into the customer's cart on login: union of
// lines, quantities summed, capped at the line and cart ceilings. The guest
// cart is destroyed.
func (s *Store) Merge(_ context.Context, guestID, customerCartID, customerID string) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guest, ok := s.carts[guestID]
	if !ok {
		if c, ok := s.carts[customerCartID]; ok {
			return c.clone(), nil
		}
		return Cart{}, faults.Newf(faults.Validation, "cart %s not found", customerCartID)
	}
	dst, ok := s.carts[customerCartID]
	if !ok {
		dst = &Cart{ID: customerCartID, CustomerID: customerID}
		s.carts[customerCartID] = dst
	}

	for _, gl := range guest.Lines {
		matched := false
		for i := range dst.Lines {
			dl := &dst.Lines[i]
			if dl.ItemID == gl.ItemID && dl.Customization.equal(gl.Customization) {
				q := dl.Qty + gl.Qty
				if q > MaxLineQuantity {
					q = MaxLineQuantity
				}
				dl.Qty = q
				matched = true
				break
			}
		}
		if !matched {
			dst.Lines = append(dst.Lines, gl)
		}
	}
	// Enforce the cart ceiling by trimming from the tail.
	for dst.TotalQuantity() > MaxCartQuantity && len(dst.Lines) > 0 {
		last := &dst.Lines[len(dst.Lines)-1]
		over := dst.TotalQuantity() - MaxCartQuantity
		if last.Qty > over {
			last.Qty -= over
		} else {
			dst.Lines = dst.Lines[:len(dst.Lines)-1]
		}
	}

	dst.Version++
	dst.UpdatedAt = s.now()
	delete(s.carts, guestID)
	return dst.clone(), nil
}

// PriceChange reports a line whose catalog price moved since it was added.
type PriceChange struct {
	LineID   string      `json:"line_id"`
	ItemID   string      `json:"item_id"`
	OldPrice money.Cents `json:"old_price_cents"`
	NewPrice money.Cents `json:"new_price_cents"`
}

// Revalidate recomputes every line's unit price against the current
// catalog. Changed lines are updated in place and reported so checkout can
// surface the new price instead of silently charging the old one. The cart
// version is bumped when anything moved.
func (s *Store) Revalidate(ctx context.Context, cartID string) ([]PriceChange, error) {
	s.mu.Lock()
	c, ok := s.carts[cartID]
	if !ok {
		s.mu.Unlock()
		return nil, faults.Newf(faults.Validation, "cart %s not found", cartID)
	}
	snapshot := c.clone()
	s.mu.Unlock()

	// Catalog lookups happen outside the lock.
	prices := make(map[string]money.Cents, len(snapshot.Lines))
	var unavailable []faults.Violation
	for _, l := range snapshot.Lines {
		it, err := s.catalog.Item(ctx, l.ItemID)
		if err != nil {
			unavailable = append(unavailable, faults.Violation{Ref: l.ItemID, Reason: "no longer on the menu"})
			continue
		}
		if !it.AvailableAt(s.now()) {
			unavailable = append(unavailable, faults.Violation{Ref: l.ItemID, Reason: "not available right now"})
			continue
		}
		p, err := UnitPrice(it, l.Customization)
		if err != nil {
			unavailable = append(unavailable, faults.Violation{Ref: l.ItemID, Reason: err.Error()})
			continue
		}
		prices[l.ID] = p
	}
	if len(unavailable) > 0 {
		return nil, faults.New(faults.Availability, "cart has unavailable items").WithViolations(unavailable...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok = s.carts[cartID]
	if !ok {
		return nil, faults.Newf(faults.Validation, "cart %s not found", cartID)
	}
	var changes []PriceChange
	for i := range c.Lines {
		l := &c.Lines[i]
		p, ok := prices[l.ID]
		if !ok || p == l.UnitPrice {
			continue
		}
		changes = append(changes, PriceChange{LineID: l.ID, ItemID: l.ItemID, OldPrice: l.UnitPrice, NewPrice: p})
		l.UnitPrice = p
	}
	if len(changes) > 0 {
		c.Version++
		c.UpdatedAt = s.now()
	}
	return changes, nil
}

// Drop destroys a cart; called after a successful order placement.
func (s *Store) Drop(_ context.Context, cartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, cartID)
}

func (s *Store) locked(cartID string, version int64) (*Cart, error) {
	c, ok := s.carts[cartID]
	if !ok {
		return nil, faults.Newf(faults.Validation, "cart %s not found", cartID)
	}
	if c.Version != version {
		return nil, faults.New(faults.Concurrency, "cart version is stale")
	}
	return c, nil
}
