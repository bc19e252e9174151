package publisher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
)

// StockPublisher emits the outcome of a stock update.
type StockPublisher struct {
	pub     messaging.Publisher
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewStockPublisher(pub messaging.Publisher, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *StockPublisher {
	return &StockPublisher{pub: pub, timeout: timeout, logger: logger, metrics: m}
}

func (p *StockPublisher) PublishStockUpdated(ctx context.Context, orderID int64, updates []models.StockUpdateEvent) error {
	if updates == nil {
		updates = []models.StockUpdateEvent{}
	}
	event := models.StockUpdatedEvent{
		EventID: uuid.NewString(),
		OrderID: orderID,
		Status:  models.StockUpdateStatusSuccess,
		Updates: updates,
	}
	if err := send(ctx, p.pub, p.timeout, models.TopicStockUpdated, orderID, event); err != nil {
		p.metrics.PublishFailures.WithLabelValues(models.TopicStockUpdated).Inc()
		return err
	}

	p.logger.Info("📤 Published stock.updated event", zap.Int64("order_id", orderID), zap.Int("updates", len(updates)))
	return nil
}

// NewOrderFailedEvent wraps the original event so the dead-letter sink can retry it.
func NewOrderFailedEvent(original models.OrderPaidEvent, cause error, retryCount int) models.OrderFailedEvent {
	orig := original
	return models.OrderFailedEvent{
		EventID:         uuid.NewString(),
		OriginalEventID: original.EventID,
		OrderID:         original.OrderID,
		Error:           cause.Error(),
		RetryCount:      retryCount,
		OriginalEvent:   &orig,
		FailedAt:        time.Now().UTC(),
	}
}

func (p *StockPublisher) PublishOrderFailed(ctx context.Context, event models.OrderFailedEvent) error {
	if err := send(ctx, p.pub, p.timeout, models.TopicOrderFailed, event.OrderID, event); err != nil {
		p.metrics.PublishFailures.WithLabelValues(models.TopicOrderFailed).Inc()
		return err
	}

	p.logger.Warn("📤 Published order.failed.dlq event",
		zap.Int64("order_id", event.OrderID),
		zap.String("error", event.Error),
		zap.Int("retry_count", event.RetryCount),
	)
	return nil
}
