package discount

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

type CodeType string

const (
	CodePercentage   CodeType = "percentage"
	CodeFixed        CodeType = "fixed"
	CodeFreeDelivery CodeType = "free_delivery"
)

// Code is an order-level discount code. Value is a percentage for
// CodePercentage and pence for CodeFixed; CodeFreeDelivery ignores it.
type Code struct {
	Code           string
	Type           CodeType
	Value          int64
	MinOrder       money.Cents
	MaxDiscount    money.Cents // 0 = uncapped
	UsageLimit     int         // 0 = unlimited
	UsedCount      int
	FirstOrderOnly bool
	Combinable     bool
	Active         bool
	StartsAt       time.Time
	ExpiresAt      *time.Time
}

// Normalize upper-cases and trims a user-supplied code; matching is
// case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type CodeStore interface {
	Lookup(ctx context.Context, code string) (Code, error)
	MarkUsed(ctx context.Context, code string) error
}

// MemoryCodes is the in-process CodeStore used by tests and the
// single-binary deployment.
type MemoryCodes struct {
	mu    sync.Mutex
	codes map[string]Code
}

func NewMemoryCodes() *MemoryCodes {
	return &MemoryCodes{codes: map[string]Code{}}
}

func (m *MemoryCodes) Put(c Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[Normalize(c.Code)] = c
}

func (m *MemoryCodes) Lookup(_ context.Context, code string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[Normalize(code)]
	if !ok {
		return Code{}, faults.Newf(faults.Validation, "discount code %s is not valid", Normalize(code))
	}
	return c, nil
}

func (m *MemoryCodes) MarkUsed(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[Normalize(code)]
	if !ok {
		return faults.Newf(faults.Validation, "discount code %s is not valid", Normalize(code))
	}
	c.UsedCount++
	m.codes[Normalize(code)] = c
	return nil
}
