// Package outbox relays events that were committed together with the state
// change that produced them.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
)

// Record is one pending event row.
type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

func NewRecord(eventID, topic, key string, payload any) (Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	return Record{
		EventID:   eventID,
		Topic:     topic,
		Key:       key,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type Store interface {
	// FetchPending returns unsent records oldest first.
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Relay struct {
	store     Store
	publisher messaging.Publisher
	interval  time.Duration
	batch     int
	timeout   time.Duration
	logger    *zap.Logger
}

func NewRelay(store Store, publisher messaging.Publisher, interval time.Duration, batch int, publishTimeout time.Duration, logger *zap.Logger) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		timeout:   publishTimeout,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("📤 Outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch", r.batch))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("🛑 Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("⚠️ Outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many records were sent. It
// stops at the first failure so later events never overtake an earlier one.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.store.FetchPending(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox records: %w", err)
	}

	sent := 0
	for _, rec := range records {
		pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.publisher.Publish(pubCtx, rec.Topic, rec.Key, rec.Payload, nil)
		cancel()
		if err != nil {
			return sent, fmt.Errorf("failed to publish outbox record %s: %w", rec.EventID, err)
		}
		if err := r.store.MarkSent(ctx, rec.ID); err != nil {
			return sent, fmt.Errorf("failed to mark outbox record %s sent: %w", rec.EventID, err)
		}
		sent++
		r.logger.Debug("📤 Outbox record published", zap.String("event_id", rec.EventID), zap.String("topic", rec.Topic))
	}
	return sent, nil
}
