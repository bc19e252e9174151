package messaging

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Exchange is the topic exchange all saga events are routed through; the
// routing key is the topic name.
const Exchange = "ordersaga.events"

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger

	// confirms on one channel are matched in publish order
	publishMu sync.Mutex
}

func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	err = channel.ExchangeDeclare(
		Exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("✅ Connected to RabbitMQ", zap.String("exchange", Exchange))

	return &RabbitMQ{
		conn:    conn,
		channel: channel,
		logger:  logger,
	}, nil
}

// DeclareQueue creates the group's durable queue for topic and binds it
func (r *RabbitMQ) DeclareQueue(topic, group string) (string, error) {
	name := group + "." + topic
	_, err := r.channel.QueueDeclare(
		name,  // queue name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := r.channel.QueueBind(name, topic, Exchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind queue %s: %w", name, err)
	}

	r.logger.Info("✅ Queue declared", zap.String("queue", name), zap.String("topic", topic))
	return name, nil
}

// Publish sends a persistent message and waits for the broker confirm.
func (r *RabbitMQ) Publish(ctx context.Context, topic, key string, body []byte, headers map[string]string) error {
	table := amqp.Table{HeaderKey: key}
	for k, v := range headers {
		table[k] = v
	}

	r.publishMu.Lock()
	confirmation, err := r.channel.PublishWithDeferredConfirmWithContext(ctx,
		Exchange, // exchange
		topic,    // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    key,
			Headers:      table,
			Body:         body,
		},
	)
	r.publishMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirm on %s: %w", topic, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message on %s", topic)
	}

	r.logger.Debug("📤 Message published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Subscribe consumes the group's queue with manual acks.
func (r *RabbitMQ) Subscribe(ctx context.Context, topic, group string) (<-chan Delivery, error) {
	queue, err := r.DeclareQueue(topic, group)
	if err != nil {
		return nil, err
	}

	messages, err := r.channel.ConsumeWithContext(ctx,
		queue, // queue name
		"",    // consumer tag
		false, // auto-ack (false = manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range messages {
			msg := msg
			d := NewDelivery(topic, headerString(msg.Headers, HeaderKey), msg.Body, tableToHeaders(msg.Headers),
				func() error { return msg.Ack(false) },
				func(requeue bool) error { return msg.Nack(false, requeue) },
			)
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	r.logger.Info("👂 Listening on queue", zap.String("queue", queue))
	return out, nil
}

// Close closes the connection
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func headerString(table amqp.Table, key string) string {
	if v, ok := table[key].(string); ok {
		return v
	}
	return ""
}

func tableToHeaders(table amqp.Table) map[string]string {
	headers := make(map[string]string, len(table))
	for k, v := range table {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}
