package messaging

import (
	"context"
	"sync"
)

// Message is a record of one publish on the in-memory broker.
type Message struct {
	Topic   string
	Key     string
	Body    []byte
	Headers map[string]string
}

// MemoryBroker is an in-process broker for single-binary runs and tests.
// Every subscription gets its own copy of each message; messages published
// while a topic has no subscriber are kept and replayed to the next one.
type MemoryBroker struct {
	mu        sync.Mutex
	subs      map[string][]*memorySub
	backlog   map[string][]Message
	published []Message
	failures  map[string]error
	acked     map[string]int
	closed    bool
}

type memorySub struct {
	group string
	ch    chan Delivery
	done  chan struct{}
	once  sync.Once
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:     make(map[string][]*memorySub),
		backlog:  make(map[string][]Message),
		failures: make(map[string]error),
		acked:    make(map[string]int),
	}
}

// FailPublish makes every publish to topic return err until cleared with nil.
func (b *MemoryBroker) FailPublish(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, topic)
		return
	}
	b.failures[topic] = err
}

func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, body []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if err := b.failures[topic]; err != nil {
		b.mu.Unlock()
		return err
	}
	msg := Message{Topic: topic, Key: key, Body: append([]byte(nil), body...), Headers: copyHeaders(headers)}
	b.published = append(b.published, msg)
	subs := append([]*memorySub(nil), b.subs[topic]...)
	if len(subs) == 0 {
		b.backlog[topic] = append(b.backlog[topic], msg)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if err := b.deliver(ctx, sub, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBroker) delivery(msg Message) Delivery {
	return NewDelivery(msg.Topic, msg.Key, msg.Body, msg.Headers,
		func() error {
			b.mu.Lock()
			b.acked[msg.Topic]++
			b.mu.Unlock()
			return nil
		},
		func(bool) error { return nil },
	)
}

func (b *MemoryBroker) deliver(ctx context.Context, sub *memorySub, msg Message) error {
	select {
	case sub.ch <- b.delivery(msg):
		return nil
	case <-sub.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic, group string) (<-chan Delivery, error) {
	sub := &memorySub{
		group: group,
		ch:    make(chan Delivery, 256),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], sub)
	backlog := b.backlog[topic]
	delete(b.backlog, topic)
	// queue what fits before any later publish can reach the channel
	for len(backlog) > 0 && len(sub.ch) < cap(sub.ch) {
		sub.ch <- b.delivery(backlog[0])
		backlog = backlog[1:]
	}
	b.mu.Unlock()

	go func() {
		for _, msg := range backlog {
			if err := b.deliver(ctx, sub, msg); err != nil {
				break
			}
		}
		<-ctx.Done()
		b.unsubscribe(topic, sub)
	}()

	return sub.ch, nil
}

func (b *MemoryBroker) unsubscribe(topic string, sub *memorySub) {
	b.mu.Lock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	sub.close()
}

// close stops senders first so a blocked Publish cannot write to a closed channel.
func (s *memorySub) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Published returns a copy of every message sent to topic, in publish order.
func (b *MemoryBroker) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Acked returns how many deliveries of topic were acknowledged.
func (b *MemoryBroker) Acked(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[topic]
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	var subs []*memorySub
	for _, ss := range b.subs {
		subs = append(subs, ss...)
	}
	b.subs = make(map[string][]*memorySub)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
