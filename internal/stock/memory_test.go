package stock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotplate/takeaway/internal/faults"
)

func newLedger() *MemLedger {
	return NewMemLedger(15*time.Minute, 3)
}

func TestReserveAllOrNothing(t *testing.T) {
	m := newLedger()
	m.SetStock("pizza", 5)
	m.SetStock("cola", 1)
	ctx := context.Background()

	_, err := m.Reserve(ctx, "o1", []LineReq{
		{ItemID: "pizza", Qty: 2},
		{ItemID: "cola", Qty: 3},
		{ItemID: "ghost", Qty: 1},
	})
	require.True(t, faults.IsKind(err, faults.Availability))

	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Violations, 2)
	assert.Equal(t, "cola", fe.Violations[0].Ref)
	assert.Equal(t, 3, fe.Violations[0].Required)
	assert.Equal(t, 1, fe.Violations[0].Available)
	assert.Equal(t, "ghost", fe.Violations[1].Ref)

	// nothing was held back
	e, err := m.Entry(ctx, "pizza")
	require.NoError(t, err)
	assert.Zero(t, e.Reserved)
}

func TestReserveReleaseConsume(t *testing.T) {
	m := newLedger()
	m.SetStock("pizza", 5)
	ctx := context.Background()

	res, err := m.Reserve(ctx, "o1", []LineReq{{ItemID: "pizza", Qty: 2}})
	require.NoError(t, err)

	e, _ := m.Entry(ctx, "pizza")
	assert.Equal(t, 2, e.Reserved)
	assert.Equal(t, 3, e.Free())

	require.NoError(t, m.Release(ctx, res.ID))
	e, _ = m.Entry(ctx, "pizza")
	assert.Zero(t, e.Reserved)
	assert.Equal(t, 5, e.Available)

	// release is idempotent
	require.NoError(t, m.Release(ctx, res.ID))

	res2, err := m.Reserve(ctx, "o2", []LineReq{{ItemID: "pizza", Qty: 2}})
	require.NoError(t, err)
	require.NoError(t, m.Consume(ctx, res2.ID))

	e, _ = m.Entry(ctx, "pizza")
	assert.Equal(t, 3, e.Available)
	assert.Zero(t, e.Reserved)

	// consumed reservations cannot be released or consumed again
	err = m.Release(ctx, res2.ID)
	assert.True(t, faults.IsKind(err, faults.StateTransition))
	err = m.Consume(ctx, res2.ID)
	assert.True(t, faults.IsKind(err, faults.StateTransition))
}

func TestReservationTTLExpiry(t *testing.T) {
	m := newLedger()
	m.SetStock("pizza", 2)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	res, err := m.Reserve(ctx, "o1", []LineReq{{ItemID: "pizza", Qty: 2}})
	require.NoError(t, err)

	// within the grace window the stock stays held
	_, err = m.Reserve(ctx, "o2", []LineReq{{ItemID: "pizza", Qty: 1}})
	assert.True(t, faults.IsKind(err, faults.Availability))

	m.now = func() time.Time { return base.Add(16 * time.Minute) }

	_, err = m.Reserve(ctx, "o2", []LineReq{{ItemID: "pizza", Qty: 2}})
	require.NoError(t, err)

	got, err := m.Reservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationReleased, got.Status)

	// consuming the lapsed reservation fails
	err = m.Consume(ctx, res.ID)
	assert.True(t, faults.IsKind(err, faults.StateTransition))
}

func TestValidationErrors(t *testing.T) {
	m := newLedger()
	ctx := context.Background()

	_, err := m.Reserve(ctx, "o1", nil)
	assert.True(t, faults.IsKind(err, faults.Validation))

	_, err = m.Reserve(ctx, "o1", []LineReq{{ItemID: "pizza", Qty: 0}})
	assert.True(t, faults.IsKind(err, faults.Validation))

	err = m.Release(ctx, "nope")
	assert.True(t, faults.IsKind(err, faults.Validation))
}

// Forty concurrent buyers race for ten units; at most ten reservations may
// succeed and reserved never exceeds available.
func TestConcurrentLastUnits(t *testing.T) {
	m := NewMemLedger(15*time.Minute, 50)
	m.SetStock("pizza", 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Reserve(ctx, "order", []LineReq{{ItemID: "pizza", Qty: 1}})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
			continue
		}
		kind := faults.KindOf(err)
		assert.Contains(t, []faults.Kind{faults.Availability, faults.Concurrency}, kind)
	}
	assert.LessOrEqual(t, won, 10)
	assert.Greater(t, won, 0)

	e, err := m.Entry(ctx, "pizza")
	require.NoError(t, err)
	assert.Equal(t, won, e.Reserved)
	assert.LessOrEqual(t, e.Reserved, e.Available)
}
