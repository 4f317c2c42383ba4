package stock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hotplate/takeaway/internal/faults"
)

// MemLedger is the in-process ledger. Reservation follows an optimistic
// validate-then-commit protocol: entry versions are read without the write
// lock, the prospective reservation is computed, and the commit aborts and
// retries when any version moved underneath it.
type MemLedger struct {
	mu           sync.RWMutex
	entries      map[string]*Entry
	reservations map[string]*Reservation
	ttl          time.Duration
	retries      int
	now          func() time.Time
}

func NewMemLedger(ttl time.Duration, retries int) *MemLedger {
	if retries < 1 {
		retries = 1
	}
	return &MemLedger{
		entries:      map[string]*Entry{},
		reservations: map[string]*Reservation{},
		ttl:          ttl,
		retries:      retries,
		now:          time.Now,
	}
}

// SetStock seeds or replaces the available quantity for an item.
func (m *MemLedger) SetStock(itemID string, available int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[itemID]
	if !ok {
		m.entries[itemID] = &Entry{ItemID: itemID, Available: available}
		return
	}
	e.Available = available
	e.Version++
}

func (m *MemLedger) Reserve(ctx context.Context, orderID string, lines []LineReq) (Reservation, error) {
	if len(lines) == 0 {
		return Reservation{}, faults.New(faults.Validation, "reservation needs at least one line")
	}
	for _, l := range lines {
		if l.Qty <= 0 {
			return Reservation{}, faults.Newf(faults.Validation, "invalid quantity for item %s", l.ItemID)
		}
	}

	for attempt := 0; attempt < m.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Reservation{}, faults.Wrap(faults.Concurrency, "reservation aborted", err)
		}
		m.expire()

		// Read phase: snapshot versions and check headroom.
		versions := make(map[string]int64, len(lines))
		var violations []faults.Violation
		m.mu.RLock()
		for _, l := range lines {
			e, ok := m.entries[l.ItemID]
			if !ok {
				violations = append(violations, faults.Violation{Ref: l.ItemID, Reason: "unknown item", Required: l.Qty})
				continue
			}
			if e.Free() < l.Qty {
				violations = append(violations, faults.Violation{Ref: l.ItemID, Reason: "insufficient stock", Required: l.Qty, Available: e.Free()})
				continue
			}
			versions[l.ItemID] = e.Version
		}
		m.mu.RUnlock()
		if len(violations) > 0 {
			return Reservation{}, faults.New(faults.Availability, "stock unavailable").WithViolations(violations...)
		}

		// Commit phase: abort if any entry moved since the read.
		m.mu.Lock()
		stale := false
		for _, l := range lines {
			e := m.entries[l.ItemID]
			if e == nil || e.Version != versions[l.ItemID] {
				stale = true
				break
			}
		}
		if stale {
			m.mu.Unlock()
			continue
		}
		now := m.now()
		for _, l := range lines {
			e := m.entries[l.ItemID]
			e.Reserved += l.Qty
			e.Version++
		}
		res := &Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			Lines:     append([]LineReq(nil), lines...),
			Status:    ReservationActive,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		}
		m.reservations[res.ID] = res
		out := *res
		m.mu.Unlock()
		return out, nil
	}
	return Reservation{}, faults.New(faults.Concurrency, "stock contention, retries exhausted")
}

func (m *MemLedger) Release(_ context.Context, reservationID string) error {
	m.expire()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(reservationID)
}

func (m *MemLedger) releaseLocked(reservationID string) error {
	res, ok := m.reservations[reservationID]
	if !ok {
		return faults.Newf(faults.Validation, "reservation %s not found", reservationID)
	}
	switch res.Status {
	case ReservationReleased:
		return nil
	case ReservationConsumed:
		return faults.New(faults.StateTransition, "reservation already consumed")
	}
	for _, l := range res.Lines {
		if e := m.entries[l.ItemID]; e != nil {
			e.Reserved -= l.Qty
			e.Version++
		}
	}
	res.Status = ReservationReleased
	return nil
}

func (m *MemLedger) Consume(_ context.Context, reservationID string) error {
	m.expire()
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return faults.Newf(faults.Validation, "reservation %s not found", reservationID)
	}
	if res.Status != ReservationActive {
		return faults.Newf(faults.StateTransition, "reservation is %s, not active", res.Status)
	}
	for _, l := range res.Lines {
		if e := m.entries[l.ItemID]; e != nil {
			e.Available -= l.Qty
			e.Reserved -= l.Qty
			e.Version++
		}
	}
	res.Status = ReservationConsumed
	return nil
}

func (m *MemLedger) Entry(_ context.Context, itemID string) (Entry, error) {
	m.expire()
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[itemID]
	if !ok {
		return Entry{}, faults.Newf(faults.Validation, "item %s not tracked", itemID)
	}
	return *e, nil
}

// Reservation returns a copy of a reservation for inspection.
func (m *MemLedger) Reservation(_ context.Context, id string) (Reservation, error) {
	m.expire()
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.reservations[id]
	if !ok {
		return Reservation{}, faults.Newf(faults.Validation, "reservation %s not found", id)
	}
	return *res, nil
}

// expire releases active reservations past their grace window. Called at
// the top of every operation so a stuck placement can never lock stock
// indefinitely.
func (m *MemLedger) expire() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, res := range m.reservations {
		if res.Status == ReservationActive && res.ExpiresAt.Before(now) {
			_ = m.releaseLocked(id)
		}
	}
}
