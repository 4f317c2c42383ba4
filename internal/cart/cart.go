package cart

import (
	"sort"
	"time"

	"github.com/hotplate/takeaway/internal/money"
)

const (
	MaxCartQuantity = 50
	MaxLineQuantity = 99
	MaxNoteLength   = 200
)

// Customization is the set of choices made for one line. Extras hold extra
// ids from the item's catalog entry.
type Customization struct {
	Extras  []string `json:"extras,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Size    string   `json:"size,omitempty"`
}

// equal treats extras and removals as sets.
func (c Customization) equal(o Customization) bool {
	return c.Size == o.Size && sameSet(c.Extras, o.Extras) && sameSet(c.Removed, o.Removed)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Line is one cart entry. UnitPrice is frozen when the line is added and
// revalidated against the catalog at checkout.
type Line struct {
	ID            string        `json:"id"`
	ItemID        string        `json:"item_id"`
	Qty           int           `json:"qty"`
	Customization Customization `json:"customization"`
	UnitPrice     money.Cents   `json:"unit_price_cents"`
	Notes         string        `json:"notes,omitempty"`
	AddedAt       time.Time     `json:"added_at"`
}

func (l Line) Total() money.Cents { return l.UnitPrice.Mul(l.Qty) }

// Cart is the mutable pre-order container. Version implements optimistic
// concurrency: every mutation supplies the version it read.
type Cart struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Lines      []Line    `json:"lines"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c Cart) Subtotal() money.Cents {
	var sum money.Cents
	for _, l := range c.Lines {
		sum += l.Total()
	}
	return sum
}

func (c Cart) TotalQuantity() int {
	var n int
	for _, l := range c.Lines {
		n += l.Qty
	}
	return n
}

func (c Cart) line(lineID string) *Line {
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			return &c.Lines[i]
		}
	}
	return nil
}

// clone returns a deep copy safe to hand outside the store lock.
func (c Cart) clone() Cart {
	out := c
	out.Lines = make([]Line, len(c.Lines))
	copy(out.Lines, c.Lines)
	return out
}
