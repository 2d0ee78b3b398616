package projector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-sales-orders/internal/kafka"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/projector"
	"github.com/shopspring/decimal"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Seen(ctx context.Context, service, id string) (bool, error) {
	args := m.Called(ctx, service, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) MarkSeen(ctx context.Context, service, id string) error {
	return m.Called(ctx, service, id).Error(0)
}

func (m *MockCache) InvalidateSalesReport(ctx context.Context, year, month int) error {
	return m.Called(ctx, year, month).Error(0)
}

func orderCreated(t *testing.T, created time.Time) (orders.Envelope, kafkago.Message) {
	t.Helper()
	o := orders.Order{ID: "o-1", ClientID: "c-1", Total: decimal.RequireFromString("20.00"), CreatedAt: created}
	lines := []orders.LineItem{{ID: "l-1", OrderID: "o-1", ProductID: "p-1", Qty: 2, UnitPrice: decimal.RequireFromString("10.00")}}
	env, err := orders.NewEnvelope(orders.EventOrderCreated, "order-api", "req-1", o.ID, orders.NewOrderCreatedPayload(o, lines))
	require.NoError(t, err)
	return env, kafkago.Message{Key: orders.PartitionKey(o.ID), Value: kafkax.MustMarshal(env)}
}

func TestHandleOrderCreated_InvalidatesMonth(t *testing.T) {
	// Arrange
	cache := new(MockCache)
	svc := &projector.Service{Cache: cache, ServiceName: "report-projector"}
	env, msg := orderCreated(t, time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC))
	cache.On("Seen", mock.Anything, "report-projector", env.EventID).Return(false, nil)
	cache.On("InvalidateSalesReport", mock.Anything, 2026, 7).Return(nil)
	cache.On("MarkSeen", mock.Anything, "report-projector", env.EventID).Return(nil)

	// Act
	err := svc.HandleOrderCreated(context.Background(), msg)

	// Assert
	require.NoError(t, err)
	cache.AssertExpectations(t)
}

func TestHandleOrderCreated_UsesReportLocation(t *testing.T) {
	cache := new(MockCache)
	loc := time.FixedZone("UTC+7", 7*60*60)
	svc := &projector.Service{Cache: cache, Location: loc, ServiceName: "report-projector"}
	// 20:00 UTC on Jan 31st is Feb 1st at UTC+7
	_, msg := orderCreated(t, time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC))
	cache.On("Seen", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	cache.On("InvalidateSalesReport", mock.Anything, 2026, 2).Return(nil)
	cache.On("MarkSeen", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, svc.HandleOrderCreated(context.Background(), msg))
	cache.AssertExpectations(t)
}

func TestHandleOrderCreated_SkipsSeenEvents(t *testing.T) {
	cache := new(MockCache)
	svc := &projector.Service{Cache: cache, ServiceName: "report-projector"}
	env, msg := orderCreated(t, time.Now().UTC())
	cache.On("Seen", mock.Anything, "report-projector", env.EventID).Return(true, nil)

	require.NoError(t, svc.HandleOrderCreated(context.Background(), msg))
	cache.AssertNotCalled(t, "InvalidateSalesReport", mock.Anything, mock.Anything, mock.Anything)
	cache.AssertNotCalled(t, "MarkSeen", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOrderCreated_RetriesWhenInvalidationFails(t *testing.T) {
	cache := new(MockCache)
	svc := &projector.Service{Cache: cache, ServiceName: "report-projector"}
	_, msg := orderCreated(t, time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC))
	cache.On("Seen", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	cache.On("InvalidateSalesReport", mock.Anything, 2026, 7).Return(errors.New("redis down"))

	err := svc.HandleOrderCreated(context.Background(), msg)

	assert.ErrorContains(t, err, "redis down")
	cache.AssertNotCalled(t, "MarkSeen", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOrderCreated_SkipsForeignAndBrokenMessages(t *testing.T) {
	cache := new(MockCache)
	svc := &projector.Service{Cache: cache, ServiceName: "report-projector"}

	other, err := orders.NewEnvelope("OrderShipped", "order-api", "", "o-1", map[string]string{})
	require.NoError(t, err)

	assert.NoError(t, svc.HandleOrderCreated(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.NoError(t, svc.HandleOrderCreated(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(other)}))
	cache.AssertNotCalled(t, "Seen", mock.Anything, mock.Anything, mock.Anything)
}
