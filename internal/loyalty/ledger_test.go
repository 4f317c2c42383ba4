package loyalty

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotplate/takeaway/internal/faults"
)

const year = 365 * 24 * time.Hour

func TestEarnAndBalance(t *testing.T) {
	l := NewLedger(year)
	ctx := context.Background()

	earned, err := l.Earn(ctx, "cust", "o1", 2550) // £25.50
	require.NoError(t, err)
	assert.Equal(t, 25, earned)

	earned, err = l.Earn(ctx, "cust", "o2", 99) // under £1 earns nothing
	require.NoError(t, err)
	assert.Equal(t, 0, earned)

	bal, err := l.Balance(ctx, "cust")
	require.NoError(t, err)
	assert.Equal(t, 25, bal)
}

func TestRedeemNeverOverdraws(t *testing.T) {
	l := NewLedger(year)
	ctx := context.Background()

	_, err := l.Earn(ctx, "cust", "o1", 60000) // 600 pts
	require.NoError(t, err)

	require.NoError(t, l.Redeem(ctx, "cust", 400, "o2"))
	require.NoError(t, l.Redeem(ctx, "cust", 100, "o3"))

	err = l.Redeem(ctx, "cust", 200, "o4")
	assert.True(t, faults.IsKind(err, faults.LimitExceeded))

	bal, err := l.Balance(ctx, "cust")
	require.NoError(t, err)
	assert.Equal(t, 100, bal)
}

func TestRestoreAfterRefund(t *testing.T) {
	l := NewLedger(year)
	ctx := context.Background()

	_, err := l.Earn(ctx, "cust", "o1", 100000)
	require.NoError(t, err)
	require.NoError(t, l.Redeem(ctx, "cust", 600, "o2"))
	require.NoError(t, l.Restore(ctx, "cust", 600, "o2"))

	bal, err := l.Balance(ctx, "cust")
	require.NoError(t, err)
	assert.Equal(t, 1000, bal)
}

func TestFIFOExpiry(t *testing.T) {
	l := NewLedger(year)
	ctx := context.Background()

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, err := l.Earn(ctx, "cust", "o1", 50000) // 500 pts, expire 2026-01-10
	require.NoError(t, err)

	l.now = func() time.Time { return base.AddDate(0, 6, 0) }
	_, err = l.Earn(ctx, "cust", "o2", 30000) // 300 pts, expire 2026-07-10
	require.NoError(t, err)

	// redeem 200 before anything expires: consumes the oldest lot first
	require.NoError(t, l.Redeem(ctx, "cust", 200, "o3"))

	// step past the first lot's expiry; 300 of its points were never spent
	l.now = func() time.Time { return base.AddDate(1, 0, 1) }
	bal, err := l.Balance(ctx, "cust")
	require.NoError(t, err)
	assert.Equal(t, 300, bal)

	hist, err := l.History(ctx, "cust")
	require.NoError(t, err)
	var expired int
	for _, tx := range hist {
		if tx.Kind == KindExpire {
			expired += -tx.Points
		}
	}
	assert.Equal(t, 300, expired)
}

func TestExpiryIsIdempotent(t *testing.T) {
	l := NewLedger(year)
	ctx := context.Background()

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	_, err := l.Earn(ctx, "cust", "o1", 20000)
	require.NoError(t, err)

	l.now = func() time.Time { return base.AddDate(1, 0, 1) }
	for i := 0; i < 3; i++ {
		bal, err := l.Balance(ctx, "cust")
		require.NoError(t, err)
		assert.Equal(t, 0, bal)
	}
}

func TestBonusPoints(t *testing.T) {
	l := NewLedger(year)
	ctx := context.Background()

	require.NoError(t, l.Bonus(ctx, "cust", 250))
	err := l.Bonus(ctx, "cust", 0)
	assert.True(t, faults.IsKind(err, faults.Validation))

	bal, err := l.Balance(ctx, "cust")
	require.NoError(t, err)
	assert.Equal(t, 250, bal)
}
