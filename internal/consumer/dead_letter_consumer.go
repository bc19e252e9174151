package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/publisher"
)

type DeadLetterStore interface {
	Record(ctx context.Context, letter models.DeadLetter) error
	UpdateStatus(ctx context.Context, eventID string, status models.DeadLetterStatus, note string) error
	List(ctx context.Context) ([]models.DeadLetter, error)
}

// Reprocessor re-runs a failed stock update.
type Reprocessor interface {
	Reprocess(ctx context.Context, event models.OrderPaidEvent) error
}

type FailurePublisher interface {
	PublishOrderFailed(ctx context.Context, event models.OrderFailedEvent) error
}

// DeadLetterConsumer records every order.failed.dlq message and retries the
// stock update until MaxRetries is reached, after which the letter is parked.
// With MaxRetries 0 it only records.
type DeadLetterConsumer struct {
	store       DeadLetterStore
	reprocessor Reprocessor
	failures    FailurePublisher
	maxRetries  int
	delay       func(retry int) time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewDeadLetterConsumer(store DeadLetterStore, reprocessor Reprocessor, failures FailurePublisher, maxRetries int, baseDelay time.Duration, logger *zap.Logger, m *metrics.Metrics) *DeadLetterConsumer {
	return &DeadLetterConsumer{
		store:       store,
		reprocessor: reprocessor,
		failures:    failures,
		maxRetries:  maxRetries,
		delay:       RetryDelays(baseDelay),
		logger:      logger,
		metrics:     m,
	}
}

// RetryDelays returns the exponential schedule used between dead-letter
// retries: base for the first retry, then doubling with jitter.
func RetryDelays(base time.Duration) func(retry int) time.Duration {
	return func(retry int) time.Duration {
		if base <= 0 {
			return 0
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		b.MaxInterval = 30 * base
		b.MaxElapsedTime = 0
		b.Reset()
		var d time.Duration
		for i := 0; i < retry; i++ {
			d = b.NextBackOff()
		}
		return d
	}
}

// HandleOrderFailed always acks the delivery.
func (c *DeadLetterConsumer) HandleOrderFailed(ctx context.Context, d messaging.Delivery) {
	defer func() {
		if err := d.Ack(); err != nil {
			c.logger.Error("❌ Failed to ack dead-letter message", zap.String("key", d.Key), zap.Error(err))
		}
	}()

	var event models.OrderFailedEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Error("❌ Failed to parse dead-letter event", zap.String("key", d.Key), zap.Error(err))
		c.metrics.EventsConsumed.WithLabelValues(models.TopicOrderFailed, "malformed").Inc()
		return
	}
	c.metrics.EventsConsumed.WithLabelValues(models.TopicOrderFailed, "processed").Inc()

	c.logger.Warn("📥 Received failed order",
		zap.Int64("order_id", event.OrderID),
		zap.String("original_event_id", event.OriginalEventID),
		zap.String("error", event.Error),
		zap.Int("retry_count", event.RetryCount),
	)

	now := time.Now().UTC()
	letter := models.DeadLetter{Event: event, Status: models.DeadLetterReceived, ReceivedAt: now, UpdatedAt: now}
	if err := c.store.Record(ctx, letter); err != nil {
		c.logger.Error("❌ Failed to record dead letter", zap.String("event_id", event.EventID), zap.Error(err))
	}

	switch {
	case c.maxRetries == 0:
		c.metrics.DeadLetters.WithLabelValues("recorded").Inc()
	case event.RetryCount > c.maxRetries || event.OriginalEvent == nil:
		c.park(ctx, event)
	default:
		c.retry(ctx, event)
	}
}

func (c *DeadLetterConsumer) retry(ctx context.Context, event models.OrderFailedEvent) {
	c.setStatus(ctx, event.EventID, models.DeadLetterRetrying, "")

	wait := c.delay(event.RetryCount)
	c.logger.Info("🔁 Retrying failed order",
		zap.Int64("order_id", event.OrderID),
		zap.Int("attempt", event.RetryCount),
		zap.Duration("after", wait),
	)
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		c.republish(ctx, event, ctx.Err())
		return
	}

	if err := c.reprocessor.Reprocess(ctx, *event.OriginalEvent); err != nil {
		c.republish(ctx, event, err)
		return
	}

	c.setStatus(ctx, event.EventID, models.DeadLetterResolved, fmt.Sprintf("resolved on retry %d", event.RetryCount))
	c.metrics.DeadLetters.WithLabelValues("resolved").Inc()
	c.logger.Info("✅ Failed order recovered", zap.Int64("order_id", event.OrderID), zap.Int("attempt", event.RetryCount))
}

func (c *DeadLetterConsumer) republish(ctx context.Context, event models.OrderFailedEvent, cause error) {
	next := publisher.NewOrderFailedEvent(*event.OriginalEvent, cause, event.RetryCount+1)
	c.setStatus(ctx, event.EventID, models.DeadLetterRetrying, fmt.Sprintf("retry %d failed: %v", event.RetryCount, cause))
	c.metrics.DeadLetters.WithLabelValues("requeued").Inc()

	pubCtx := context.WithoutCancel(ctx)
	if err := c.failures.PublishOrderFailed(pubCtx, next); err != nil {
		c.logger.Error("❌ Failed to requeue dead letter", zap.Int64("order_id", event.OrderID), zap.Error(err))
	}
}

func (c *DeadLetterConsumer) park(ctx context.Context, event models.OrderFailedEvent) {
	note := fmt.Sprintf("gave up after %d attempts: %s", event.RetryCount-1, event.Error)
	if event.OriginalEvent == nil {
		note = "original event missing, cannot retry: " + event.Error
	}
	c.setStatus(ctx, event.EventID, models.DeadLetterParked, note)
	c.metrics.DeadLetters.WithLabelValues("parked").Inc()
	c.logger.Error("🚨 Order parked for manual intervention",
		zap.Int64("order_id", event.OrderID),
		zap.String("original_event_id", event.OriginalEventID),
		zap.String("note", note),
	)
}

func (c *DeadLetterConsumer) setStatus(ctx context.Context, eventID string, status models.DeadLetterStatus, note string) {
	if err := c.store.UpdateStatus(context.WithoutCancel(ctx), eventID, status, note); err != nil {
		c.logger.Warn("⚠️ Failed to update dead letter", zap.String("event_id", eventID), zap.Error(err))
	}
}
