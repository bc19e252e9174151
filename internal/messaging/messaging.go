package messaging

import (
	"context"
	"errors"
)

// HeaderKey carries the partition key on transports without a native key.
const HeaderKey = "x-message-key"

var ErrClosed = errors.New("broker closed")

// Publisher sends one keyed message and returns once the broker acknowledged it
// or ctx is done.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, body []byte, headers map[string]string) error
}

// Subscriber delivers messages of topic to the consumer group until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string) (<-chan Delivery, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// Delivery is a received message. Exactly one of Ack or Nack should be called.
type Delivery struct {
	Topic   string
	Key     string
	Body    []byte
	Headers map[string]string

	ack  func() error
	nack func(requeue bool) error
}

func NewDelivery(topic, key string, body []byte, headers map[string]string, ack func() error, nack func(bool) error) Delivery {
	return Delivery{Topic: topic, Key: key, Body: body, Headers: headers, ack: ack, nack: nack}
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}
