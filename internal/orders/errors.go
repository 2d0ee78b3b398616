package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrentUpdate: the store aborted the unit of work because of a concurrent writer
	// (deadlock or serialization failure). Safe to retry.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

type Reason string

const (
	ReasonEmptyOrder        Reason = "EMPTY_ORDER"
	ReasonInvalidQty        Reason = "INVALID_QUANTITY"
	ReasonProductNotFound   Reason = "PRODUCT_NOT_FOUND"
	ReasonInsufficientStock Reason = "INSUFFICIENT_STOCK"
)

// Problem describes why one requested line cannot be fulfilled.
type Problem struct {
	Line      int    `json:"line"`
	ProductID string `json:"product_id,omitempty"`
	Reason    Reason `json:"reason"`
	Message   string `json:"message"`
	Required  int    `json:"required,omitempty"`
	Available *int   `json:"available,omitempty"`
}

// ValidationError is returned when the validation pass finds any problem. Nothing was written.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// TransactionError is returned when the commit pass could not complete. All of its writes were
// rolled back.
type TransactionError struct {
	Cause error
}

func (e *TransactionError) Error() string { return "transaction failed: " + e.Cause.Error() }

func (e *TransactionError) Unwrap() error { return e.Cause }

func notFoundProblem(line int, productID string) Problem {
	return Problem{
		Line:      line,
		ProductID: productID,
		Reason:    ReasonProductNotFound,
		Message:   fmt.Sprintf("product %s not found", productID),
	}
}

func insufficientProblem(line int, p Product, qty int) Problem {
	available := p.Stock
	return Problem{
		Line:      line,
		ProductID: p.ID,
		Reason:    ReasonInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for %s, available: %d", p.Name, p.Stock),
		Required:  qty,
		Available: &available,
	}
}
