package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/outbox"
)

func saveWithEvent(t *testing.T, repo *db.MemoryOrderRepository, eventID string) *models.Order {
	t.Helper()
	item, err := models.NewOrderItem(1, "Keyboard", models.MustMoney("29.99"), 1)
	require.NoError(t, err)
	order, err := models.NewOrder("alice", []models.OrderItem{item}, models.OrderStatusPending)
	require.NoError(t, err)

	rec, err := outbox.NewRecord(eventID, models.TopicOrderPaid, "pending", map[string]string{"event_id": eventID})
	require.NoError(t, err)
	require.NoError(t, repo.SaveWithOutbox(context.Background(), order, rec))
	return order
}

func TestRelayOncePublishesInOrderAndMarksSent(t *testing.T) {
	repo := db.NewMemoryOrderRepository()
	broker := messaging.NewMemoryBroker()
	defer broker.Close()
	saveWithEvent(t, repo, "evt-1")
	saveWithEvent(t, repo, "evt-2")
	relay := outbox.NewRelay(repo, broker, time.Hour, 10, time.Second, zap.NewNop())

	sent, err := relay.RelayOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	msgs := broker.Published(models.TopicOrderPaid)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"event_id":"evt-1"}`, string(msgs[0].Body))
	assert.JSONEq(t, `{"event_id":"evt-2"}`, string(msgs[1].Body))

	pending, err := repo.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	sent, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRelayOnceKeepsRecordsWhenBrokerFails(t *testing.T) {
	repo := db.NewMemoryOrderRepository()
	broker := messaging.NewMemoryBroker()
	defer broker.Close()
	saveWithEvent(t, repo, "evt-1")
	broker.FailPublish(models.TopicOrderPaid, errors.New("broker down"))
	relay := outbox.NewRelay(repo, broker, time.Hour, 10, time.Second, zap.NewNop())

	sent, err := relay.RelayOnce(context.Background())

	require.ErrorContains(t, err, "broker down")
	assert.Zero(t, sent)
	pending, err := repo.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	broker.FailPublish(models.TopicOrderPaid, nil)
	sent, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	repo := db.NewMemoryOrderRepository()
	broker := messaging.NewMemoryBroker()
	defer broker.Close()
	saveWithEvent(t, repo, "evt-1")
	relay := outbox.NewRelay(repo, broker, 5*time.Millisecond, 10, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(broker.Published(models.TopicOrderPaid)) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
