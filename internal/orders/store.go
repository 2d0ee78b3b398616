package orders

import "context"

// Catalog is the read side the validation pass depends on.
type Catalog interface {
	// GetProduct returns ErrNotFound when the id is unknown.
	GetProduct(ctx context.Context, id string) (Product, error)
	ClientExists(ctx context.Context, id string) (bool, error)
}

type Store interface {
	Catalog
	BeginTx(ctx context.Context) (Tx, error)
	// GetOrder returns ErrNotFound when the id is unknown.
	GetOrder(ctx context.Context, id string) (Order, []LineItem, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Tx is one unit of work. Rollback after Commit is a no-op.
type Tx interface {
	InsertOrder(ctx context.Context, o Order) error
	InsertLineItem(ctx context.Context, li LineItem) error
	// DecrementStock subtracts qty only if the current stock covers it and reports whether it did.
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
