// Package memstore keeps the catalog, orders and line items in process memory. Commit passes are
// serialized: a Tx holds the single writer slot from BeginTx until Commit or Rollback, and its
// writes stay invisible to readers until Commit.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/reports"
)

type Store struct {
	mu       sync.RWMutex
	writer   chan struct{}
	products map[string]orders.Product
	clients  map[string]orders.Client
	orders   map[string]orders.Order
	lines    []orders.LineItem

	// FailOn, if set, is called before every transactional write with the operation name
	// ("insert_order", "insert_line_item", "decrement_stock", "commit"). A non-nil error aborts it.
	FailOn func(op string) error
}

var _ orders.Store = (*Store)(nil)
var _ reports.Source = (*Store)(nil)

func New() *Store {
	return &Store{
		writer:   make(chan struct{}, 1),
		products: map[string]orders.Product{},
		clients:  map[string]orders.Client{},
		orders:   map[string]orders.Order{},
	}
}

func (s *Store) AddProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = p
}

func (s *Store) AddClient(c orders.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

// AddOrder stores an already-built order and its lines without touching stock.
func (s *Store) AddOrder(o orders.Order, lines ...orders.LineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	s.lines = append(s.lines, lines...)
}

// Counts returns the number of committed orders and line items.
func (s *Store) Counts() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders), len(s.lines)
}

func (s *Store) GetProduct(_ context.Context, id string) (orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, fmt.Errorf("product %s: %w", id, orders.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ClientExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok, nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (orders.Order, []orders.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, nil, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	var lines []orders.LineItem
	for _, li := range s.lines {
		if li.OrderID == id {
			lines = append(lines, li)
		}
	}
	return o, lines, nil
}

func (s *Store) OrdersBetween(_ context.Context, from, to time.Time) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orders.Order
	for _, o := range s.orders {
		if inWindow(o.CreatedAt, from, to) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SoldLinesBetween(_ context.Context, from, to time.Time) ([]reports.SoldLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []reports.SoldLine
	for _, li := range s.lines {
		o, ok := s.orders[li.OrderID]
		if !ok || !inWindow(o.CreatedAt, from, to) {
			continue
		}
		out = append(out, reports.SoldLine{
			OrderID:   li.OrderID,
			ProductID: li.ProductID,
			Name:      s.products[li.ProductID].Name,
			Qty:       li.Qty,
			UnitPrice: li.UnitPrice,
		})
	}
	return out, nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (s *Store) BeginTx(ctx context.Context) (orders.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &tx{s: s, decrements: map[string]int{}}, nil
}

var errTxDone = errors.New("transaction already closed")

type tx struct {
	s          *Store
	done       bool
	orders     []orders.Order
	lines      []orders.LineItem
	decrements map[string]int
}

func (t *tx) check(op string) error {
	if t.done {
		return errTxDone
	}
	if t.s.FailOn != nil {
		return t.s.FailOn(op)
	}
	return nil
}

func (t *tx) InsertOrder(_ context.Context, o orders.Order) error {
	if err := t.check("insert_order"); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, exists := t.s.orders[o.ID]
	t.s.mu.RUnlock()
	if exists || t.stagedOrder(o.ID) {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	t.orders = append(t.orders, o)
	return nil
}

func (t *tx) InsertLineItem(_ context.Context, li orders.LineItem) error {
	if err := t.check("insert_line_item"); err != nil {
		return err
	}
	if li.Qty <= 0 {
		return fmt.Errorf("line item %s: quantity must be positive", li.ID)
	}
	t.s.mu.RLock()
	_, committed := t.s.orders[li.OrderID]
	_, product := t.s.products[li.ProductID]
	t.s.mu.RUnlock()
	if !committed && !t.stagedOrder(li.OrderID) {
		return fmt.Errorf("line item %s: order %s: %w", li.ID, li.OrderID, orders.ErrNotFound)
	}
	if !product {
		return fmt.Errorf("line item %s: product %s: %w", li.ID, li.ProductID, orders.ErrNotFound)
	}
	t.lines = append(t.lines, li)
	return nil
}

func (t *tx) DecrementStock(_ context.Context, productID string, qty int) (bool, error) {
	if err := t.check("decrement_stock"); err != nil {
		return false, err
	}
	t.s.mu.RLock()
	p, ok := t.s.products[productID]
	t.s.mu.RUnlock()
	if !ok || p.Stock-t.decrements[productID] < qty {
		return false, nil
	}
	t.decrements[productID] += qty
	return true, nil
}

func (t *tx) Commit(_ context.Context) error {
	if err := t.check("commit"); err != nil {
		return err
	}
	t.s.mu.Lock()
	now := time.Now().UTC()
	for _, o := range t.orders {
		t.s.orders[o.ID] = o
	}
	t.s.lines = append(t.s.lines, t.lines...)
	for id, qty := range t.decrements {
		p := t.s.products[id]
		p.Stock -= qty
		p.UpdatedAt = now
		t.s.products[id] = p
	}
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *tx) release() {
	t.done = true
	t.orders, t.lines, t.decrements = nil, nil, nil
	<-t.s.writer
}

func (t *tx) stagedOrder(id string) bool {
	for _, o := range t.orders {
		if o.ID == id {
			return true
		}
	}
	return false
}
