package reports_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/memstore"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/reports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type seed struct {
	id      string
	created time.Time
	lines   []orders.LineItem
}

func newStore(t *testing.T, seeds ...seed) *memstore.Store {
	t.Helper()
	st := memstore.New()
	for i, name := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		st.AddProduct(orders.Product{ID: name, SKU: fmt.Sprintf("SKU-%d", i), Name: "Product " + name, Stock: 100, Price: dec("1.00")})
	}
	for _, s := range seeds {
		total := decimal.Zero
		for i := range s.lines {
			s.lines[i].OrderID = s.id
			s.lines[i].ID = fmt.Sprintf("%s-%d", s.id, i)
			total = total.Add(s.lines[i].Subtotal())
		}
		st.AddOrder(orders.Order{ID: s.id, ClientID: "c1", Status: orders.StatusPending, Total: total, CreatedAt: s.created}, s.lines...)
	}
	return st
}

func line(productID string, qty int, price string) orders.LineItem {
	return orders.LineItem{ProductID: productID, Qty: qty, UnitPrice: dec(price)}
}

func may(day int) time.Time { return time.Date(2026, 5, day, 10, 0, 0, 0, time.UTC) }

func TestSalesReport_EmptyMonth(t *testing.T) {
	r := reports.NewReporter(newStore(t), time.UTC)

	got, err := r.SalesReport(context.Background(), 2, 2026)

	require.NoError(t, err)
	assert.Equal(t, 0, got.OrderCount)
	assert.Equal(t, "0.00", got.Revenue.StringFixed(2))
	assert.Equal(t, "0.00", got.AvgOrderValue.StringFixed(2))
	require.NotNil(t, got.TopProducts)
	assert.Empty(t, got.TopProducts)
	assert.Equal(t, "2/2026", got.Period())
}

func TestSalesReport_AggregatesOnlyTheWindow(t *testing.T) {
	st := newStore(t,
		seed{id: "o1", created: may(1), lines: []orders.LineItem{line("A", 3, "10.00")}},
		seed{id: "o2", created: may(31), lines: []orders.LineItem{line("A", 1, "10.00"), line("B", 2, "5.00")}},
		seed{id: "old", created: time.Date(2026, 4, 30, 23, 59, 59, 0, time.UTC), lines: []orders.LineItem{line("C", 50, "1.00")}},
		seed{id: "next", created: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), lines: []orders.LineItem{line("D", 50, "1.00")}},
	)
	r := reports.NewReporter(st, time.UTC)

	got, err := r.SalesReport(context.Background(), 5, 2026)

	require.NoError(t, err)
	assert.Equal(t, 2, got.OrderCount)
	assert.Equal(t, "50.00", got.Revenue.StringFixed(2))
	assert.Equal(t, "25.00", got.AvgOrderValue.StringFixed(2))
	require.Len(t, got.TopProducts, 2)
	assert.Equal(t, "A", got.TopProducts[0].ProductID)
	assert.Equal(t, "Product A", got.TopProducts[0].Name)
	assert.Equal(t, 4, got.TopProducts[0].Units)
	assert.Equal(t, "40.00", got.TopProducts[0].Revenue.StringFixed(2))
	assert.Equal(t, "B", got.TopProducts[1].ProductID)
	assert.Equal(t, 2, got.TopProducts[1].Units)
}

func TestSalesReport_AverageIsRounded(t *testing.T) {
	st := newStore(t,
		seed{id: "o1", created: may(2), lines: []orders.LineItem{line("A", 1, "10.00")}},
		seed{id: "o2", created: may(3), lines: []orders.LineItem{line("A", 1, "10.00")}},
		seed{id: "o3", created: may(4), lines: []orders.LineItem{line("A", 1, "10.01")}},
	)
	r := reports.NewReporter(st, time.UTC)

	got, err := r.SalesReport(context.Background(), 5, 2026)

	require.NoError(t, err)
	assert.Equal(t, "30.01", got.Revenue.StringFixed(2))
	assert.Equal(t, "10.00", got.AvgOrderValue.StringFixed(2))
	assert.Equal(t, "30.01", got.TopProducts[0].Revenue.StringFixed(2))
}

func TestSalesReport_TopFiveWithTieBreak(t *testing.T) {
	st := newStore(t,
		seed{id: "o1", created: may(5), lines: []orders.LineItem{
			line("G", 2, "1.00"),
			line("F", 2, "1.00"),
			line("E", 2, "1.00"),
			line("D", 7, "1.00"),
			line("C", 2, "1.00"),
			line("B", 2, "1.00"),
			line("A", 1, "1.00"),
		}},
	)
	r := reports.NewReporter(st, time.UTC)

	got, err := r.SalesReport(context.Background(), 5, 2026)

	require.NoError(t, err)
	require.Len(t, got.TopProducts, reports.TopN)
	ids := make([]string, 0, len(got.TopProducts))
	for _, p := range got.TopProducts {
		ids = append(ids, p.ProductID)
	}
	assert.Equal(t, []string{"D", "B", "C", "E", "F"}, ids)
}

func TestSalesReport_WindowFollowsLocation(t *testing.T) {
	// 01:00 UTC on June 1st is still May 31st at UTC-3
	st := newStore(t,
		seed{id: "late", created: time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC), lines: []orders.LineItem{line("A", 1, "7.00")}},
	)
	loc := time.FixedZone("UTC-3", -3*60*60)

	local, err := reports.NewReporter(st, loc).SalesReport(context.Background(), 5, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, local.OrderCount)

	june, err := reports.NewReporter(st, time.UTC).SalesReport(context.Background(), 6, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, june.OrderCount)
}

func TestSalesReport_Idempotent(t *testing.T) {
	st := newStore(t,
		seed{id: "o1", created: may(9), lines: []orders.LineItem{line("A", 2, "3.33"), line("B", 1, "1.01")}},
	)
	r := reports.NewReporter(st, time.UTC)

	first, err := r.SalesReport(context.Background(), 5, 2026)
	require.NoError(t, err)
	second, err := r.SalesReport(context.Background(), 5, 2026)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSalesReport_InvalidPeriod(t *testing.T) {
	r := reports.NewReporter(newStore(t), time.UTC)

	for _, tc := range []struct{ month, year int }{{0, 2026}, {13, 2026}, {5, 0}} {
		_, err := r.SalesReport(context.Background(), tc.month, tc.year)
		assert.ErrorIs(t, err, reports.ErrInvalidPeriod, "month=%d year=%d", tc.month, tc.year)
	}
}

type failingSource struct{}

func (failingSource) OrdersBetween(context.Context, time.Time, time.Time) ([]orders.Order, error) {
	return nil, errors.New("db down")
}

func (failingSource) SoldLinesBetween(context.Context, time.Time, time.Time) ([]reports.SoldLine, error) {
	return nil, nil
}

func TestSalesReport_SourceError(t *testing.T) {
	r := reports.NewReporter(failingSource{}, nil)

	_, err := r.SalesReport(context.Background(), 5, 2026)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestWindow(t *testing.T) {
	r := reports.NewReporter(nil, time.UTC)

	from, to, err := r.Window(12, 2025)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), to)
}
