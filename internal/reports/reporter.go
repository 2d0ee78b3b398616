package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const TopN = 5

var ErrInvalidPeriod = errors.New("invalid period")

// SoldLine is one line item of an order created inside the report window.
type SoldLine struct {
	OrderID   string
	ProductID string
	Name      string
	Qty       int
	UnitPrice decimal.Decimal
}

// Source returns committed orders and their line items created in [from, to).
type Source interface {
	OrdersBetween(ctx context.Context, from, to time.Time) ([]orders.Order, error)
	SoldLinesBetween(ctx context.Context, from, to time.Time) ([]SoldLine, error)
}

type ProductSales struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Units     int             `json:"units"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type Sales struct {
	Month         int             `json:"month"`
	Year          int             `json:"year"`
	OrderCount    int             `json:"order_count"`
	Revenue       decimal.Decimal `json:"revenue"`
	AvgOrderValue decimal.Decimal `json:"avg_order_value"`
	TopProducts   []ProductSales  `json:"top_products"`
}

func (s Sales) Period() string { return fmt.Sprintf("%d/%d", s.Month, s.Year) }

type Reporter struct {
	Source   Source
	Location *time.Location

	tracer trace.Tracer
}

func NewReporter(src Source, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{Source: src, Location: loc, tracer: otel.Tracer("reports")}
}

// Window returns the calendar month [from, to) in the reporter's location.
func (r *Reporter) Window(month, year int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("month %d: %w", month, ErrInvalidPeriod)
	}
	if year < 1 {
		return time.Time{}, time.Time{}, fmt.Errorf("year %d: %w", year, ErrInvalidPeriod)
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, r.Loc())
	return from, from.AddDate(0, 1, 0), nil
}

// SalesReport aggregates the orders created in the given calendar month. Money is accumulated
// exactly and rounded to 2 places only in the returned values.
func (r *Reporter) SalesReport(ctx context.Context, month, year int) (Sales, error) {
	from, to, err := r.Window(month, year)
	if err != nil {
		return Sales{}, err
	}
	tracer := r.tracer
	if tracer == nil {
		tracer = otel.Tracer("reports")
	}
	ctx, span := tracer.Start(ctx, "reports.sales")
	defer span.End()
	span.SetAttributes(attribute.Int("month", month), attribute.Int("year", year))

	placed, err := r.Source.OrdersBetween(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		return Sales{}, fmt.Errorf("load orders: %w", err)
	}
	lines, err := r.Source.SoldLinesBetween(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		return Sales{}, fmt.Errorf("load line items: %w", err)
	}

	out := Sales{
		Month:         month,
		Year:          year,
		OrderCount:    len(placed),
		Revenue:       decimal.Zero,
		AvgOrderValue: decimal.Zero,
		TopProducts:   []ProductSales{},
	}
	revenue := decimal.Zero
	for _, o := range placed {
		revenue = revenue.Add(o.Total)
	}
	if len(placed) > 0 {
		out.Revenue = revenue.Round(2)
		out.AvgOrderValue = revenue.Div(decimal.NewFromInt(int64(len(placed)))).Round(2)
	}
	out.TopProducts = rank(lines, TopN)
	span.SetAttributes(attribute.Int("order_count", out.OrderCount))
	return out, nil
}

// rank groups lines by product and orders by units descending, then product id ascending.
func rank(lines []SoldLine, n int) []ProductSales {
	byID := map[string]*ProductSales{}
	for _, l := range lines {
		ps, ok := byID[l.ProductID]
		if !ok {
			ps = &ProductSales{ProductID: l.ProductID, Name: l.Name, Revenue: decimal.Zero}
			byID[l.ProductID] = ps
		}
		ps.Units += l.Qty
		ps.Revenue = ps.Revenue.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty))))
	}

	out := make([]ProductSales, 0, len(byID))
	for _, ps := range byID {
		ps.Revenue = ps.Revenue.Round(2)
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Units != out[j].Units {
			return out[i].Units > out[j].Units
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Loc returns the time zone that defines calendar months, UTC when none is set.
func (r *Reporter) Loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}
