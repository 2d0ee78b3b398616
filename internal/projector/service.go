package projector

import (
	"context"
	"fmt"
	"log"
	"time"

	kafkax "github.com/ariefcatur/go-sales-orders/internal/kafka"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

// ReportCache is satisfied by *redisx.Cache.
type ReportCache interface {
	Seen(ctx context.Context, service, id string) (bool, error)
	MarkSeen(ctx context.Context, service, id string) error
	InvalidateSalesReport(ctx context.Context, year, month int) error
}

// Service drops the cached sales report of the month an order was created in. The API already
// does this right after commit; repeating it here removes a report that was computed before the
// commit but written to the cache after the API's delete.
type Service struct {
	Cache       ReportCache
	Location    *time.Location
	ServiceName string
}

// HandleOrderCreated: dipasang sebagai handler consumer.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope; pesan rusak di-skip supaya offset tetap jalan
	env, err := kafkax.Unwrap[orders.Envelope](m.Value)
	if err != nil {
		log.Printf("skip undecodable message offset=%d: %v", m.Offset, err)
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	// 2) dedup via Redis (pakai event_id)
	seen, err := s.Cache.Seen(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup lookup %s: %w", env.EventID, err)
	}
	if seen {
		return nil
	}

	// 3) decode payload
	p, err := kafkax.Unwrap[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		log.Printf("skip event %s: %v", env.EventID, err)
		return nil
	}

	created := p.CreatedAt.In(s.location())
	if err := s.Cache.InvalidateSalesReport(ctx, created.Year(), int(created.Month())); err != nil {
		return fmt.Errorf("invalidate sales report for order %s: %w", p.OrderID, err)
	}
	if err := s.Cache.MarkSeen(ctx, s.ServiceName, env.EventID); err != nil {
		log.Printf("mark event %s seen: %v", env.EventID, err)
	}
	return nil
}

func (s *Service) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
