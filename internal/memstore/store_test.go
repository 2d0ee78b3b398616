package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Store {
	s := New()
	s.AddClient(orders.Client{ID: "c1", Name: "Ana"})
	s.AddProduct(orders.Product{ID: "p2", SKU: "B-2", Name: "Bolt", Stock: 3, Price: decimal.RequireFromString("0.50")})
	s.AddProduct(orders.Product{ID: "p1", SKU: "A-1", Name: "Anchor", Stock: 5, Price: decimal.RequireFromString("4.00")})
	return s
}

func TestTx_WritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertOrder(ctx, orders.Order{ID: "o1", ClientID: "c1", CreatedAt: time.Now()}))
	require.NoError(t, tx.InsertLineItem(ctx, orders.LineItem{ID: "l1", OrderID: "o1", ProductID: "p1", Qty: 2}))
	ok, err := tx.DecrementStock(ctx, "p1", 2)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	p, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 5, p.Stock)

	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx))

	_, lines, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	p, _ = s.GetProduct(ctx, "p1")
	assert.Equal(t, 3, p.Stock)
}

func TestTx_RollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertOrder(ctx, orders.Order{ID: "o1", ClientID: "c1"}))
	require.NoError(t, tx.InsertLineItem(ctx, orders.LineItem{ID: "l1", OrderID: "o1", ProductID: "p2", Qty: 1}))
	_, err = tx.DecrementStock(ctx, "p2", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	nOrders, nLines := s.Counts()
	assert.Zero(t, nOrders)
	assert.Zero(t, nLines)
	p, _ := s.GetProduct(ctx, "p2")
	assert.Equal(t, 3, p.Stock)

	assert.ErrorIs(t, tx.Commit(ctx), errTxDone)
}

func TestTx_DecrementSeesStagedDecrements(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	ok, err := tx.DecrementStock(ctx, "p2", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tx.DecrementStock(ctx, "p2", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = tx.DecrementStock(ctx, "missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTx_LineItemNeedsOrderAndProduct(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	err = tx.InsertLineItem(ctx, orders.LineItem{ID: "l1", OrderID: "nope", ProductID: "p1", Qty: 1})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	require.NoError(t, tx.InsertOrder(ctx, orders.Order{ID: "o1"}))
	err = tx.InsertLineItem(ctx, orders.LineItem{ID: "l2", OrderID: "o1", ProductID: "nope", Qty: 1})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	err = tx.InsertLineItem(ctx, orders.LineItem{ID: "l3", OrderID: "o1", ProductID: "p1", Qty: 0})
	assert.Error(t, err)

	assert.Error(t, tx.InsertOrder(ctx, orders.Order{ID: "o1"}))
}

func TestBeginTx_WaitsForWriterSlot(t *testing.T) {
	s := seeded()

	first, err := s.BeginTx(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.BeginTx(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Rollback(context.Background()))
	second, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, second.Rollback(context.Background()))
}

func TestListProducts_SortedBySKU(t *testing.T) {
	ps, err := seeded().ListProducts(context.Background())

	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "A-1", ps[0].SKU)
	assert.Equal(t, "B-2", ps[1].SKU)
}

func TestClientExists(t *testing.T) {
	s := seeded()

	ok, err := s.ClientExists(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClientExists(context.Background(), "c2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBetween_HalfOpenWindow(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	s.AddOrder(orders.Order{ID: "start", CreatedAt: from},
		orders.LineItem{ID: "l1", OrderID: "start", ProductID: "p1", Qty: 1, UnitPrice: decimal.NewFromInt(4)})
	s.AddOrder(orders.Order{ID: "end", CreatedAt: to},
		orders.LineItem{ID: "l2", OrderID: "end", ProductID: "p1", Qty: 1, UnitPrice: decimal.NewFromInt(4)})

	got, err := s.OrdersBetween(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "start", got[0].ID)

	lines, err := s.SoldLinesBetween(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Anchor", lines[0].Name)
}
