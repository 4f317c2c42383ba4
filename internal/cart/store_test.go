package cart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotplate/takeaway/internal/catalog"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

func testMenu() *catalog.Memory {
	m := catalog.NewMemory()
	m.Put(catalog.Item{
		ID: "margherita", Name: "Margherita", BasePrice: 850, Available: true,
		Extras: []catalog.Extra{
			{ID: "extra-cheese", Price: 100, Available: true},
			{ID: "olives", Price: 80, Available: true},
			{ID: "truffle", Price: 300, Available: false},
		},
		MaxExtras: 2,
		Removable: []string{"basil"},
		Required:  []string{"tomato"},
		SizeDeltas: map[catalog.Size]money.Cents{
			catalog.SizeSmall: -150, catalog.SizeMedium: 0, catalog.SizeLarge: 250,
		},
	})
	m.Put(catalog.Item{ID: "cola", Name: "Cola", BasePrice: 150, Available: true})
	m.Put(catalog.Item{ID: "soldout", Name: "Sold Out", BasePrice: 500, Available: false})
	return m
}

func TestUnitPrice(t *testing.T) {
	m := testMenu()
	it, err := m.Item(context.Background(), "margherita")
	require.NoError(t, err)

	p, err := UnitPrice(it, Customization{})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(850), p)

	p, err = UnitPrice(it, Customization{Extras: []string{"extra-cheese", "olives"}, Size: "large"})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(850+100+80+250), p)

	// removals are free but validated
	p, err = UnitPrice(it, Customization{Removed: []string{"basil"}})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(850), p)

	_, err = UnitPrice(it, Customization{Removed: []string{"tomato"}})
	assert.True(t, faults.IsKind(err, faults.Validation))

	_, err = UnitPrice(it, Customization{Extras: []string{"truffle"}})
	assert.True(t, faults.IsKind(err, faults.Validation))

	_, err = UnitPrice(it, Customization{Extras: []string{"extra-cheese", "olives", "extra-cheese"}})
	assert.True(t, faults.IsKind(err, faults.Validation), "over the extras cap")

	_, err = UnitPrice(it, Customization{Size: "xl"})
	assert.True(t, faults.IsKind(err, faults.Validation))
}

func TestAddItemMergesIdenticalLines(t *testing.T) {
	s := NewStore(testMenu())
	ctx := context.Background()

	c, err := s.AddItem(ctx, "c1", "cust", 0, "margherita", 1, Customization{Size: "large"}, "")
	require.NoError(t, err)
	c, err = s.AddItem(ctx, "c1", "cust", c.Version, "margherita", 2, Customization{Size: "large"}, "")
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	assert.Equal(t, 3, c.Lines[0].Qty)

	// different customization opens a new line
	c, err = s.AddItem(ctx, "c1", "cust", c.Version, "margherita", 1, Customization{}, "")
	require.NoError(t, err)
	assert.Len(t, c.Lines, 2)
}

func TestAddItemRejectsStaleVersion(t *testing.T) {
	s := NewStore(testMenu())
	ctx := context.Background()

	c, err := s.AddItem(ctx, "c1", "cust", 0, "cola", 1, Customization{}, "")
	require.NoError(t, err)

	_, err = s.AddItem(ctx, "c1", "cust", c.Version-1, "cola", 1, Customization{}, "")
	assert.True(t, faults.IsKind(err, faults.Concurrency))
}

func TestQuantityLimits(t *testing.T) {
	s := NewStore(testMenu())
	ctx := context.Background()

	_, err := s.AddItem(ctx, "c1", "cust", 0, "cola", 100, Customization{}, "")
	assert.True(t, faults.IsKind(err, faults.Validation))

	c, err := s.AddItem(ctx, "c1", "cust", 0, "cola", 40, Customization{}, "")
	require.NoError(t, err)

	// cart ceiling is 50 items across lines
	_, err = s.AddItem(ctx, "c1", "cust", c.Version, "margherita", 11, Customization{}, "")
	assert.True(t, faults.IsKind(err, faults.Validation))

	c, err = s.AddItem(ctx, "c1", "cust", c.Version, "margherita", 10, Customization{}, "")
	require.NoError(t, err)
	assert.Equal(t, 50, c.TotalQuantity())
}

func TestAddUnavailableItem(t *testing.T) {
	s := NewStore(testMenu())
	_, err := s.AddItem(context.Background(), "c1", "cust", 0, "soldout", 1, Customization{}, "")
	assert.True(t, faults.IsKind(err, faults.Availability))
}

func TestUpdateRemoveClear(t *testing.T) {
	s := NewStore(testMenu())
	ctx := context.Background()

	c, err := s.AddItem(ctx, "c1", "cust", 0, "cola", 2, Customization{}, "")
	require.NoError(t, err)
	line := c.Lines[0].ID

	c, err = s.UpdateQuantity(ctx, "c1", c.Version, line, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Lines[0].Qty)

	c, err = s.RemoveLine(ctx, "c1", c.Version, line)
	require.NoError(t, err)
	assert.Empty(t, c.Lines)

	_, err = s.RemoveLine(ctx, "c1", c.Version, "nope")
	assert.True(t, faults.IsKind(err, faults.Validation))

	c, err = s.Clear(ctx, "c1", c.Version)
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
}

func TestMergeSumsAndCaps(t *testing.T) {
	s := NewStore(testMenu())
	ctx := context.Background()

	g, err := s.AddItem(ctx, "guest", "", 0, "cola", 30, Customization{}, "")
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "guest", "", g.Version, "margherita", 5, Customization{}, "")
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "mine", "cust", 0, "cola", 30, Customization{}, "")
	require.NoError(t, err)

	c, err := s.Merge(ctx, "guest", "mine", "cust")
	require.NoError(t, err)

	assert.LessOrEqual(t, c.TotalQuantity(), MaxCartQuantity)
	assert.Equal(t, 50, c.TotalQuantity())

	// guest cart is gone
	_, err = s.Get(ctx, "guest")
	assert.Error(t, err)
}

func TestRevalidateReportsPriceDrift(t *testing.T) {
	menu := testMenu()
	s := NewStore(menu)
	ctx := context.Background()

	c, err := s.AddItem(ctx, "c1", "cust", 0, "cola", 1, Customization{}, "")
	require.NoError(t, err)
	before := c.Version

	menu.Put(catalog.Item{ID: "cola", Name: "Cola", BasePrice: 180, Available: true})

	changes, err := s.Revalidate(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, money.Cents(150), changes[0].OldPrice)
	assert.Equal(t, money.Cents(180), changes[0].NewPrice)

	c, err = s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(180), c.Lines[0].UnitPrice)
	assert.Greater(t, c.Version, before)

	// second pass is a no-op
	changes, err = s.Revalidate(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRevalidateFlagsUnavailable(t *testing.T) {
	menu := testMenu()
	s := NewStore(menu)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "c1", "cust", 0, "cola", 1, Customization{}, "")
	require.NoError(t, err)

	menu.Put(catalog.Item{ID: "cola", Name: "Cola", BasePrice: 150, Available: false})

	_, err = s.Revalidate(ctx, "c1")
	require.True(t, faults.IsKind(err, faults.Availability))
	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Violations, 1)
	assert.Equal(t, "cola", fe.Violations[0].Ref)
}
