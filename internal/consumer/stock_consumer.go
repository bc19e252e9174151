package consumer

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/idempotency"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/observability"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/publisher"
)

type StockUpdater interface {
	UpdateStockFromOrder(ctx context.Context, orderID int64, items []models.OrderItemEvent) ([]models.StockUpdateEvent, error)
}

type StockEvents interface {
	PublishStockUpdated(ctx context.Context, orderID int64, updates []models.StockUpdateEvent) error
	PublishOrderFailed(ctx context.Context, event models.OrderFailedEvent) error
}

// StockConsumer applies each paid order's stock decrement once and reports
// the outcome on stock.updated or the dead-letter topic.
type StockConsumer struct {
	updater StockUpdater
	events  StockEvents
	guard   idempotency.Guard
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewStockConsumer(updater StockUpdater, events StockEvents, guard idempotency.Guard, logger *zap.Logger, m *metrics.Metrics) *StockConsumer {
	return &StockConsumer{
		updater: updater,
		events:  events,
		guard:   guard,
		logger:  logger,
		metrics: m,
		tracer:  observability.Tracer(),
	}
}

// HandleOrderPaid processes one order.paid delivery. The delivery is acked in
// every case; failures go to the dead-letter topic instead of redelivery.
func (c *StockConsumer) HandleOrderPaid(ctx context.Context, d messaging.Delivery) {
	defer func() {
		if err := d.Ack(); err != nil {
			c.logger.Error("❌ Failed to ack order.paid message", zap.String("key", d.Key), zap.Error(err))
		}
	}()

	ctx = observability.ExtractHeaders(ctx, d.Headers)
	ctx, span := c.tracer.Start(ctx, "StockConsumer.HandleOrderPaid", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	c.logger.Info("📥 Received order.paid event", zap.String("key", d.Key))

	var event models.OrderPaidEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Error("❌ Failed to parse event", zap.String("key", d.Key), zap.Error(err))
		c.metrics.EventsConsumed.WithLabelValues(models.TopicOrderPaid, "malformed").Inc()
		span.SetStatus(codes.Error, "malformed event")
		return
	}
	span.SetAttributes(attribute.Int64("order.id", event.OrderID), attribute.String("event.id", event.EventID))

	first, err := c.guard.Acquire(ctx, event.OrderID)
	if err != nil {
		c.logger.Error("❌ Idempotency check failed", zap.Int64("order_id", event.OrderID), zap.Error(err))
		c.metrics.EventsConsumed.WithLabelValues(models.TopicOrderPaid, "failed").Inc()
		c.deadLetter(ctx, event, err)
		return
	}
	if !first {
		c.logger.Info("⏭️ Order already processed, skipping", zap.Int64("order_id", event.OrderID))
		c.metrics.EventsConsumed.WithLabelValues(models.TopicOrderPaid, "duplicate").Inc()
		return
	}

	if err := c.apply(ctx, event); err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.metrics.EventsConsumed.WithLabelValues(models.TopicOrderPaid, "failed").Inc()
		c.deadLetter(ctx, event, err)
		return
	}
	c.metrics.EventsConsumed.WithLabelValues(models.TopicOrderPaid, "processed").Inc()
}

// Reprocess runs the stock update for event again without consulting the
// guard. The dead-letter consumer calls it for retries.
func (c *StockConsumer) Reprocess(ctx context.Context, event models.OrderPaidEvent) error {
	ctx, span := c.tracer.Start(ctx, "StockConsumer.Reprocess", trace.WithAttributes(attribute.Int64("order.id", event.OrderID)))
	defer span.End()

	if err := c.apply(ctx, event); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *StockConsumer) apply(ctx context.Context, event models.OrderPaidEvent) error {
	c.logger.Info("📦 Processing order", zap.Int64("order_id", event.OrderID), zap.Int("items", len(event.Items)))

	updates, err := c.updater.UpdateStockFromOrder(ctx, event.OrderID, event.Items)
	if err != nil {
		c.logger.Error("❌ Stock update failed", zap.Int64("order_id", event.OrderID), zap.Error(err))
		return err
	}

	if err := c.events.PublishStockUpdated(ctx, event.OrderID, updates); err != nil {
		// stock is already updated; only the notification is lost
		c.logger.Error("❌ Failed to publish stock.updated event", zap.Int64("order_id", event.OrderID), zap.Error(err))
	}
	c.logger.Info("✅ Order processed successfully", zap.Int64("order_id", event.OrderID))
	return nil
}

// deadLetter publishes detached from ctx's deadline so an update that timed
// out still reaches order.failed.dlq.
func (c *StockConsumer) deadLetter(ctx context.Context, event models.OrderPaidEvent, cause error) {
	failed := publisher.NewOrderFailedEvent(event, cause, 1)
	if err := c.events.PublishOrderFailed(context.WithoutCancel(ctx), failed); err != nil {
		c.logger.Error("❌ Failed to publish to dead-letter topic",
			zap.Int64("order_id", event.OrderID),
			zap.String("cause", cause.Error()),
			zap.Error(err),
		)
	}
}
