package httpx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/go-sales-orders/internal/kafka"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrdersHandler struct {
	Processor *orders.Processor
	Store     orders.Store
	Producer  Publisher     // nil: events are not published
	Cache     *redisx.Cache // nil: no idempotency replay, no report invalidation
	Service   string
	// ReportLocation decides which cached monthly report an order belongs to.
	ReportLocation *time.Location
}

type CreateOrderReq struct {
	ClientID string             `json:"client_id"`
	Items    []orders.ItemInput `json:"items"`
}

type CreateOrderResp struct {
	OrderID   string `json:"order_id"`
	Total     string `json:"total"`
	ItemCount int    `json:"item_count"`
}

type ValidationResp struct {
	Error   string           `json:"error"`
	Details []orders.Problem `json:"details"`
}

type LineItemResp struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type OrderResp struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id"`
	Status    orders.Status  `json:"status"`
	Total     string         `json:"total"`
	CreatedAt time.Time      `json:"created_at"`
	Items     []LineItemResp `json:"items"`
}

type ProductResp struct {
	ID    string `json:"id"`
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int    `json:"stock"`
}

const headerIdempotencyKey = "Idempotency-Key"

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "missing client_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Idempotency-Key: klaim key dulu (SETNX) supaya request kembar tidak memproses order dua kali
	idemKey := r.Header.Get(headerIdempotencyKey)
	var fingerprint string
	if idemKey != "" {
		fingerprint = requestFingerprint(req)
		state, body, err := h.Cache.ReserveIdempotent(ctx, idemKey, fingerprint)
		if err != nil {
			log.Printf("reserve idempotency key %s: %v", idemKey, err)
			writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		switch state {
		case redisx.IdemDone:
			w.Header().Set("Idempotent-Replayed", "true")
			writeRaw(w, http.StatusCreated, body)
			return
		case redisx.IdemInFlight:
			writeError(w, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
			return
		case redisx.IdemMismatch:
			writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
			return
		}
	}

	placed, err := h.Processor.Process(ctx, req.ClientID, req.Items)
	if err != nil {
		if idemKey != "" {
			h.releaseIdempotent(idemKey)
		}
		writeOrderError(w, err)
		return
	}

	res := placed.Result()
	body, _ := json.Marshal(CreateOrderResp{
		OrderID:   res.OrderID,
		Total:     res.Total.StringFixed(2),
		ItemCount: res.ItemCount,
	})

	if idemKey != "" {
		if err := h.Cache.CompleteIdempotent(ctx, idemKey, fingerprint, body); err != nil {
			log.Printf("store idempotent response %s: %v", idemKey, err)
		}
	}
	created := placed.Order.CreatedAt.In(h.location())
	if err := h.Cache.InvalidateSalesReport(ctx, created.Year(), int(created.Month())); err != nil {
		log.Printf("invalidate sales report %d-%02d: %v", created.Year(), created.Month(), err)
	}
	h.publishCreated(placed, middleware.GetReqID(r.Context()))

	writeRaw(w, http.StatusCreated, body)
}

// releaseIdempotent runs on its own context: the request context may already be done.
func (h *OrdersHandler) releaseIdempotent(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Cache.ReleaseIdempotent(ctx, key); err != nil {
		log.Printf("release idempotency key %s: %v", key, err)
	}
}

// requestFingerprint binds an Idempotency-Key to the client and the exact basket.
func requestFingerprint(req CreateOrderReq) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (h *OrdersHandler) publishCreated(placed orders.Placed, traceID string) {
	if h.Producer == nil {
		return
	}
	ev, err := orders.NewEnvelope(orders.EventOrderCreated, h.Service, traceID, placed.Order.ID,
		orders.NewOrderCreatedPayload(placed.Order, placed.Lines))
	if err != nil {
		log.Printf("build %s event for %s: %v", orders.EventOrderCreated, placed.Order.ID, err)
		return
	}
	h.Producer.Publish(
		orders.PartitionKey(placed.Order.ID),
		kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func writeOrderError(w http.ResponseWriter, err error) {
	var verr *orders.ValidationError
	var terr *orders.TransactionError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ValidationResp{Error: "validation failed", Details: verr.Problems})
	case errors.As(err, &terr) && (errors.Is(err, orders.ErrInsufficientStock) || errors.Is(err, orders.ErrConcurrentUpdate)):
		writeError(w, http.StatusConflict, "stock changed while placing the order, please retry")
	case errors.As(err, &terr):
		writeError(w, http.StatusInternalServerError, "transaction failed")
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, lines, err := h.Store.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := OrderResp{
		ID:        o.ID,
		ClientID:  o.ClientID,
		Status:    o.Status,
		Total:     o.Total.StringFixed(2),
		CreatedAt: o.CreatedAt,
		Items:     make([]LineItemResp, 0, len(lines)),
	}
	for _, li := range lines {
		resp.Items = append(resp.Items, LineItemResp{
			ID:        li.ID,
			ProductID: li.ProductID,
			Quantity:  li.Qty,
			UnitPrice: li.UnitPrice.StringFixed(2),
			Subtotal:  li.Subtotal().StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ProductResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, ProductResp{ID: p.ID, SKU: p.SKU, Name: p.Name, Price: p.Price.StringFixed(2), Stock: p.Stock})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) location() *time.Location {
	if h.ReportLocation == nil {
		return time.UTC
	}
	return h.ReportLocation
}
