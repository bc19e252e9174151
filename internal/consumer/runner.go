package consumer

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
)

// Handler processes one delivery and is responsible for acking it.
type Handler func(ctx context.Context, d messaging.Delivery)

// Runner fans a subscription out to a fixed set of workers. Deliveries with
// the same key always go to the same worker, so one order's messages are
// handled in arrival order.
type Runner struct {
	sub     messaging.Subscriber
	topic   string
	group   string
	workers int
	timeout time.Duration
	handler Handler
	logger  *zap.Logger
}

func NewRunner(sub messaging.Subscriber, topic, group string, workers int, timeout time.Duration, handler Handler, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		sub:     sub,
		topic:   topic,
		group:   group,
		workers: workers,
		timeout: timeout,
		handler: handler,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled or the subscription ends, then waits for
// in-flight messages to finish.
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.sub.Subscribe(ctx, r.topic, r.group)
	if err != nil {
		return err
	}

	shards := make([]chan messaging.Delivery, r.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan messaging.Delivery, 16)
		wg.Add(1)
		go func(ch <-chan messaging.Delivery) {
			defer wg.Done()
			for d := range ch {
				r.handle(ctx, d)
			}
		}(shards[i])
	}

	r.logger.Info("⏳ Waiting for messages...", zap.String("topic", r.topic), zap.Int("workers", r.workers))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-deliveries:
			if !ok {
				break loop
			}
			select {
			case shards[Shard(d.Key, r.workers)] <- d:
			case <-ctx.Done():
				break loop
			}
		}
	}

	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	r.logger.Info("🛑 Consumer stopped", zap.String("topic", r.topic))
	return nil
}

func (r *Runner) handle(ctx context.Context, d messaging.Delivery) {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	r.handler(msgCtx, d)
}

// Shard maps key onto one of n workers.
func Shard(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
