package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Stock     int             `json:"stock"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Order struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"client_id"`
	Status    Status          `json:"status"` // lihat status.go
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// LineItem keeps a frozen copy of the product price at order time.
type LineItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Qty       int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

// ItemInput is one requested (product, quantity) line. Duplicates are kept as separate lines.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

type Result struct {
	OrderID   string          `json:"order_id"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

// Placed is a committed order together with the line items written with it.
type Placed struct {
	Order Order
	Lines []LineItem
}

func (p Placed) Result() Result {
	return Result{OrderID: p.Order.ID, Total: p.Order.Total, ItemCount: len(p.Lines)}
}
