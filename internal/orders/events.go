package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventOrderCreated = "OrderCreated"

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID   string          `json:"order_id"`
	ClientID  string          `json:"client_id"`
	Items     []ItemPrice     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewOrderCreatedPayload builds the event payload from a committed order and its lines.
func NewOrderCreatedPayload(o Order, lines []LineItem) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(lines))
	for _, li := range lines {
		items = append(items, ItemPrice{ProductID: li.ProductID, Qty: li.Qty, UnitPrice: li.UnitPrice})
	}
	return OrderCreatedPayload{
		OrderID:   o.ID,
		ClientID:  o.ClientID,
		Items:     items,
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
	}
}

// NewEnvelope wraps payload in a version 1 envelope with a fresh event id.
func NewEnvelope(eventType, producer, traceID, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}
