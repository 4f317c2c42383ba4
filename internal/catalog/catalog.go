// Package catalog is the read-only menu collaborator contract. The order
// core never mutates the catalog; it looks items up for pricing and
// availability checks and asks whether the restaurant is open.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

type Extra struct {
	ID        string
	Name      string
	Price     money.Cents
	Available bool
}

type OfferType string

const (
	OfferPercentage OfferType = "percentage"
	OfferFixed      OfferType = "fixed"
	OfferBOGO       OfferType = "buy_one_get_one"
)

// Offer is an item-level special offer. Value is a percentage for
// OfferPercentage (1..99) and pence for OfferFixed; BOGO ignores it and
// gives one free unit per MinQuantity units.
type Offer struct {
	ID          string
	Name        string
	Type        OfferType
	Value       int64
	MinQuantity int
	StartsAt    time.Time
	EndsAt      *time.Time
	Active      bool
}

// ActiveAt reports whether the offer window includes t.
func (o Offer) ActiveAt(t time.Time) bool {
	if !o.Active || t.Before(o.StartsAt) {
		return false
	}
	return o.EndsAt == nil || !o.EndsAt.Before(t)
}

// Window is an availability slot; minutes are measured from midnight.
type Window struct {
	Weekday  time.Weekday
	StartMin int
	EndMin   int
}

func (w Window) Contains(t time.Time) bool {
	if t.Weekday() != w.Weekday {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= w.StartMin && m <= w.EndMin
}

type Item struct {
	ID          string
	Name        string
	BasePrice   money.Cents
	Available   bool
	Extras      []Extra
	MaxExtras   int
	Removable   []string // ingredients a customer may leave out
	Required    []string // base ingredients that cannot be removed
	SizeDeltas  map[Size]money.Cents
	Schedule    []Window // empty means always available
	Offers      []Offer
	PrepMinutes int
}

// AvailableAt checks the item flag and its schedule against t.
func (i Item) AvailableAt(t time.Time) bool {
	if !i.Available {
		return false
	}
	if len(i.Schedule) == 0 {
		return true
	}
	for _, w := range i.Schedule {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

type Catalog interface {
	Item(ctx context.Context, id string) (Item, error)
	IsOpen(at time.Time) bool
}

// Memory is an in-process catalog snapshot. It backs tests and the
// single-binary deployment; a real menu service would sit behind the same
// interface.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]Item
	openHour  int
	closeHour int
}

func NewMemory() *Memory {
	return &Memory{items: map[string]Item{}, openHour: 11, closeHour: 23}
}

func (m *Memory) SetHours(open, close int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openHour, m.closeHour = open, close
}

func (m *Memory) Put(it Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
}

// List returns every item sorted by name, for the menu endpoint.
func (m *Memory) List(_ context.Context) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Item(_ context.Context, id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, faults.Newf(faults.Validation, "item %s not found", id)
	}
	return it, nil
}

func (m *Memory) IsOpen(at time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := at.Hour()
	return h >= m.openHour && h < m.closeHour
}
