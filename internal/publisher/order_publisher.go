package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/observability"
)

type OrderPublisher struct {
	pub     messaging.Publisher
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewOrderPublisher(pub messaging.Publisher, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *OrderPublisher {
	return &OrderPublisher{pub: pub, timeout: timeout, logger: logger, metrics: m}
}

// NewOrderPaidEvent snapshots a paid order into its event.
func NewOrderPaidEvent(order *models.Order) (models.OrderPaidEvent, error) {
	switch {
	case order == nil:
		return models.OrderPaidEvent{}, apperr.EventPublication(errors.New("order is nil"), "failed to build OrderPaid event")
	case order.ID <= 0:
		return models.OrderPaidEvent{}, apperr.EventPublication(errors.New("order has no id"), "failed to build OrderPaid event")
	case order.UserID == "":
		return models.OrderPaidEvent{}, apperr.EventPublication(errors.New("order has no user id"), "failed to build OrderPaid event for order %d", order.ID)
	case len(order.Items) == 0:
		return models.OrderPaidEvent{}, apperr.EventPublication(errors.New("order has no items"), "failed to build OrderPaid event for order %d", order.ID)
	}

	event := models.OrderPaidEvent{
		EventID:     uuid.NewString(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, models.OrderItemEvent{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return event, nil
}

// PublishOrderPaid sends an order.paid event keyed by order id and waits at
// most the configured timeout for the broker to accept it.
func (p *OrderPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	event, err := NewOrderPaidEvent(order)
	if err != nil {
		p.metrics.PublishFailures.WithLabelValues(models.TopicOrderPaid).Inc()
		return err
	}
	if err := send(ctx, p.pub, p.timeout, models.TopicOrderPaid, event.OrderID, event); err != nil {
		p.metrics.PublishFailures.WithLabelValues(models.TopicOrderPaid).Inc()
		return err
	}

	p.logger.Info("📤 Published order.paid event",
		zap.Int64("order_id", event.OrderID),
		zap.String("event_id", event.EventID),
		zap.Int("items", len(event.Items)),
	)
	return nil
}

func send(ctx context.Context, pub messaging.Publisher, timeout time.Duration, topic string, orderID int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperr.EventPublication(err, "failed to marshal %s event for order %d", topic, orderID)
	}

	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := pub.Publish(pubCtx, topic, models.OrderKey(orderID), data, observability.InjectHeaders(ctx)); err != nil {
		return apperr.EventPublication(err, "failed to publish %s event for order %d", topic, orderID)
	}
	return nil
}
