package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
)

// Reservation is stock taken from one product that may have to be given back.
type Reservation struct {
	ProductID int64
	Quantity  int
}

// Compensator gives reserved stock back. Releases are retried with
// exponential backoff; a release that still fails is logged and counted but
// never returned to the caller.
type Compensator struct {
	products        ProductStore
	attempts        int
	initialInterval time.Duration
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

func NewCompensator(products ProductStore, attempts int, logger *zap.Logger, m *metrics.Metrics) *Compensator {
	if attempts < 1 {
		attempts = 1
	}
	return &Compensator{
		products:        products,
		attempts:        attempts,
		initialInterval: 100 * time.Millisecond,
		logger:          logger,
		metrics:         m,
	}
}

// WithInitialInterval sets the first retry delay.
func (c *Compensator) WithInitialInterval(d time.Duration) *Compensator {
	c.initialInterval = d
	return c
}

// ReleaseAll releases every reservation and returns how many failed for good.
// It keeps going after the caller's context is cancelled.
func (c *Compensator) ReleaseAll(ctx context.Context, reservations []Reservation) int {
	ctx = context.WithoutCancel(ctx)

	failed := 0
	for _, r := range reservations {
		if err := c.release(ctx, r); err != nil {
			failed++
			c.metrics.CompensationFailures.Inc()
			c.logger.Error("❌ Failed to release reserved stock",
				zap.Int64("product_id", r.ProductID),
				zap.Int("quantity", r.Quantity),
				zap.Error(err),
			)
			continue
		}
		c.logger.Info("↩️ Released reserved stock", zap.Int64("product_id", r.ProductID), zap.Int("quantity", r.Quantity))
	}
	return failed
}

func (c *Compensator) release(ctx context.Context, r Reservation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		_, err := c.products.ReleaseStock(ctx, r.ProductID, r.Quantity)
		if apperr.IsNotFound(err) || apperr.IsInvalidArgument(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		c.logger.Warn("⚠️ Stock release failed, retrying",
			zap.Int64("product_id", r.ProductID),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
}
