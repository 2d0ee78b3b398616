package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Processor validates a basket against current stock and commits the order, its line items and
// the stock decrements as a single unit of work.
type Processor struct {
	Store Store
	Now   func() time.Time
	NewID func() string

	tracer    trace.Tracer
	committed metric.Int64Counter
	rejected  metric.Int64Counter
	failed    metric.Int64Counter
}

func NewProcessor(store Store) *Processor {
	meter := otel.Meter("orders")
	committed, _ := meter.Int64Counter("orders.committed")
	rejected, _ := meter.Int64Counter("orders.rejected")
	failed, _ := meter.Int64Counter("orders.failed")
	return &Processor{
		Store:     store,
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     uuid.NewString,
		tracer:    otel.Tracer("orders"),
		committed: committed,
		rejected:  rejected,
		failed:    failed,
	}
}

// Process places an order for clientID. It returns *ValidationError when any requested line is
// unknown, has a non-positive quantity or exceeds stock, a wrapped ErrNotFound for an unknown
// client, and *TransactionError when the commit pass had to be rolled back.
func (p *Processor) Process(ctx context.Context, clientID string, items []ItemInput) (Placed, error) {
	ctx, span := p.tracer.Start(ctx, "orders.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("client_id", clientID),
		attribute.Int("items", len(items)),
	)

	ok, err := p.Store.ClientExists(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		return Placed{}, fmt.Errorf("lookup client: %w", err)
	}
	if !ok {
		return Placed{}, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}

	products, err := p.validate(ctx, items)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			p.rejected.Add(ctx, 1)
			log.Printf("order rejected: client=%s problems=%d", clientID, len(verr.Problems))
		}
		span.RecordError(err)
		return Placed{}, err
	}

	placed, err := p.commit(ctx, clientID, items, products)
	if err != nil {
		p.failed.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		log.Printf("order rolled back: client=%s err=%v", clientID, err)
		return Placed{}, err
	}

	p.committed.Add(ctx, 1)
	span.SetAttributes(
		attribute.String("order_id", placed.Order.ID),
		attribute.String("total", placed.Order.Total.StringFixed(2)),
	)
	log.Printf("order committed: id=%s client=%s total=%s lines=%d",
		placed.Order.ID, clientID, placed.Order.Total.StringFixed(2), len(placed.Lines))
	return placed, nil
}

// validate checks every line without short-circuiting so the caller gets the complete list.
func (p *Processor) validate(ctx context.Context, items []ItemInput) ([]Product, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Problems: []Problem{{
			Reason:  ReasonEmptyOrder,
			Message: "order has no items",
		}}}
	}

	var problems []Problem
	products := make([]Product, len(items))
	for i, it := range items {
		if it.Qty <= 0 {
			problems = append(problems, Problem{
				Line:      i,
				ProductID: it.ProductID,
				Reason:    ReasonInvalidQty,
				Message:   fmt.Sprintf("invalid quantity %d for product %s", it.Qty, it.ProductID),
				Required:  it.Qty,
			})
			continue
		}
		prod, err := p.Store.GetProduct(ctx, it.ProductID)
		if errors.Is(err, ErrNotFound) {
			problems = append(problems, notFoundProblem(i, it.ProductID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup product %s: %w", it.ProductID, err)
		}
		if prod.Stock < it.Qty {
			problems = append(problems, insufficientProblem(i, prod, it.Qty))
			continue
		}
		products[i] = prod
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return products, nil
}

func (p *Processor) commit(ctx context.Context, clientID string, items []ItemInput, products []Product) (Placed, error) {
	order := Order{
		ID:        p.NewID(),
		ClientID:  clientID,
		Status:    StatusPending,
		CreatedAt: p.Now(),
	}
	lines := make([]LineItem, len(items))
	total := decimal.Zero
	for i, it := range items {
		lines[i] = LineItem{
			ID:        p.NewID(),
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Qty:       it.Qty,
			UnitPrice: products[i].Price,
		}
		total = total.Add(lines[i].Subtotal())
	}
	order.Total = total

	tx, err := p.Store.BeginTx(ctx)
	if err != nil {
		return Placed{}, &TransactionError{Cause: fmt.Errorf("begin: %w", err)}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.InsertOrder(ctx, order); err != nil {
		return Placed{}, &TransactionError{Cause: fmt.Errorf("insert order: %w", err)}
	}
	for _, li := range lines {
		if err := tx.InsertLineItem(ctx, li); err != nil {
			return Placed{}, &TransactionError{Cause: fmt.Errorf("insert line item: %w", err)}
		}
	}
	for _, d := range decrements(lines) {
		ok, err := tx.DecrementStock(ctx, d.ProductID, d.Qty)
		if err != nil {
			return Placed{}, &TransactionError{Cause: fmt.Errorf("decrement stock: %w", err)}
		}
		if !ok {
			return Placed{}, &TransactionError{
				Cause: fmt.Errorf("decrement stock for %s by %d: %w", d.ProductID, d.Qty, ErrInsufficientStock),
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Placed{}, &TransactionError{Cause: fmt.Errorf("commit: %w", err)}
	}
	return Placed{Order: order, Lines: lines}, nil
}

// decrements sums the quantity per product and orders the result by product id, so concurrent
// commit passes lock product rows in the same order.
func decrements(lines []LineItem) []ItemInput {
	byID := map[string]int{}
	for _, li := range lines {
		byID[li.ProductID] += li.Qty
	}
	out := make([]ItemInput, 0, len(byID))
	for id, qty := range byID {
		out = append(out, ItemInput{ProductID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
