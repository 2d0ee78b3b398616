package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/reports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements orders.Store and reports.Source on top of a pgx pool.
type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)
var _ reports.Source = (*Store)(nil)

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var p orders.Product
	err := s.DB.QueryRow(ctx, `SELECT id, sku, name, stock, price, created_at, updated_at
	                           FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, fmt.Errorf("product %s: %w", id, orders.ErrNotFound)
	}
	return p, err
}

func (s *Store) ClientExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM clients WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, sku, name, stock, price, created_at, updated_at
                                FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, []orders.LineItem, error) {
	var o orders.Order
	var status string
	err := s.DB.QueryRow(ctx, `SELECT id, client_id, status, total, created_at FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.ClientID, &status, &o.Total, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, nil, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	if err != nil {
		return orders.Order{}, nil, err
	}
	o.Status = orders.Status(status)

	rows, err := s.DB.Query(ctx, `SELECT id, order_id, product_id, qty, unit_price
	                              FROM order_items WHERE order_id=$1 ORDER BY seq`, id)
	if err != nil {
		return orders.Order{}, nil, err
	}
	defer rows.Close()

	var lines []orders.LineItem
	for rows.Next() {
		var li orders.LineItem
		if err := rows.Scan(&li.ID, &li.OrderID, &li.ProductID, &li.Qty, &li.UnitPrice); err != nil {
			return orders.Order{}, nil, err
		}
		lines = append(lines, li)
	}
	return o, lines, rows.Err()
}

func (s *Store) OrdersBetween(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, client_id, status, total, created_at FROM orders
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		var o orders.Order
		var status string
		if err := rows.Scan(&o.ID, &o.ClientID, &status, &o.Total, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Status = orders.Status(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) SoldLinesBetween(ctx context.Context, from, to time.Time) ([]reports.SoldLine, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT oi.order_id, oi.product_id, p.name, oi.qty, oi.unit_price
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE o.created_at >= $1 AND o.created_at < $2
		ORDER BY o.created_at, oi.seq`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reports.SoldLine
	for rows.Next() {
		var l reports.SoldLine
		if err := rows.Scan(&l.OrderID, &l.ProductID, &l.Name, &l.Qty, &l.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// BeginTx opens a read-committed transaction. Stock safety comes from the conditional UPDATE in
// DecrementStock, which re-checks the row after acquiring its lock.
func (s *Store) BeginTx(ctx context.Context) (orders.Tx, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

type Tx struct{ tx pgx.Tx }

func (t *Tx) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, client_id, status, total, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.ClientID, string(o.Status), o.Total, o.CreatedAt)
	return txErr(err)
}

func (t *Tx) InsertLineItem(ctx context.Context, li orders.LineItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, qty, unit_price)
		VALUES ($1, $2, $3, $4, $5)`,
		li.ID, li.OrderID, li.ProductID, li.Qty, li.UnitPrice)
	return txErr(err)
}

func (t *Tx) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return false, txErr(err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *Tx) Commit(ctx context.Context) error { return txErr(t.tx.Commit(ctx)) }

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

// txErr marks aborts caused by concurrent writers with orders.ErrConcurrentUpdate.
func txErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) &&
		(pgErr.Code == sqlstateDeadlockDetected || pgErr.Code == sqlstateSerializationFailure) {
		return fmt.Errorf("%w: %s (SQLSTATE %s)", orders.ErrConcurrentUpdate, pgErr.Message, pgErr.Code)
	}
	return err
}
