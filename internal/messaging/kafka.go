package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/config"
)

// Kafka publishes through a traced writer keyed by hash so every message of
// one order lands on the same partition.
type Kafka struct {
	brokers []string
	writer  *otelkafka.Writer
	logger  *zap.Logger

	fetchBackoff func() backoff.BackOff

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafka(brokers []string, clientID string, logger *zap.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}

	baseWriter := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(otel.GetTracerProvider()),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				attribute.String("messaging.kafka.client_id", clientID),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka writer: %w", err)
	}

	logger.Info("✅ Kafka writer ready", zap.Strings("brokers", brokers))
	return &Kafka{brokers: brokers, writer: writer, logger: logger, fetchBackoff: defaultFetchBackoff}, nil
}

func (k *Kafka) Publish(ctx context.Context, topic, key string, body []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	}
	for hk, hv := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: hk, Value: []byte(hv)})
	}

	if err := k.writer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a group reader. Offsets are committed on Ack in partition
// order, so a message acked ahead of an earlier one waits until the earlier
// one is acked too. Nack with requeue leaves the offset in place so the
// message is re-read after a rebalance.
func (k *Kafka) Subscribe(ctx context.Context, topic, group string) (<-chan Delivery, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	out := make(chan Delivery)
	go k.consume(ctx, topic, reader, out)

	k.logger.Info("👂 Listening on topic", zap.String("topic", topic), zap.String("group", group))
	return out, nil
}

// fetcher is the part of *kafka.Reader the read loop needs.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (k *Kafka) consume(ctx context.Context, topic string, reader fetcher, out chan<- Delivery) {
	defer close(out)

	commits := newOffsetCommitter(reader.CommitMessages)
	retry := k.fetchBackoff()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				k.logger.Info("Context done, exiting Kafka read loop.", zap.String("topic", topic), zap.Error(err))
				return
			}
			wait := retry.NextBackOff()
			k.logger.Error("❌ Error reading from Kafka", zap.String("topic", topic), zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		retry.Reset()

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}

		pos := commits.track(msg)
		d := NewDelivery(topic, string(msg.Key), msg.Value, headers,
			func() error { return commits.done(pos) },
			func(requeue bool) error {
				if requeue {
					return nil
				}
				return commits.done(pos)
			},
		)
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

func defaultFetchBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

type inflight struct {
	msg  kafka.Message
	done bool
}

// offsetCommitter commits, per partition, the highest offset below which
// every fetched message has been finished.
type offsetCommitter struct {
	commit func(ctx context.Context, msgs ...kafka.Message) error

	mu      sync.Mutex
	pending map[int][]*inflight
}

func newOffsetCommitter(commit func(ctx context.Context, msgs ...kafka.Message) error) *offsetCommitter {
	return &offsetCommitter{commit: commit, pending: make(map[int][]*inflight)}
}

// track must be called in fetch order.
func (c *offsetCommitter) track(msg kafka.Message) *inflight {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := &inflight{msg: msg}
	c.pending[msg.Partition] = append(c.pending[msg.Partition], pos)
	return pos
}

func (c *offsetCommitter) done(pos *inflight) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos.done = true
	queue := c.pending[pos.msg.Partition]
	var last *inflight
	n := 0
	for n < len(queue) && queue[n].done {
		last = queue[n]
		n++
	}
	if last == nil {
		return nil
	}
	c.pending[pos.msg.Partition] = queue[n:]
	// held under mu so commits for a partition never go backwards
	return c.commit(context.Background(), last.msg)
}

func (k *Kafka) Close() error {
	var err error
	k.mu.Lock()
	for _, r := range k.readers {
		err = errors.Join(err, r.Close())
	}
	k.readers = nil
	k.mu.Unlock()
	return errors.Join(err, k.writer.Close())
}
