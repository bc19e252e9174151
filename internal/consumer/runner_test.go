package consumer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
)

func TestShardIsStable(t *testing.T) {
	for _, key := range []string{"1", "42", "order-7"} {
		first := Shard(key, 8)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
		assert.Equal(t, first, Shard(key, 8))
	}
	assert.Equal(t, 0, Shard("anything", 1))
}

func TestRunnerKeepsPerKeyOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := messaging.NewMemoryBroker()

	var (
		mu   sync.Mutex
		seen = map[string][]string{}
		wg   sync.WaitGroup
	)
	const perKey = 20
	keys := []string{"1", "2", "3", "4"}
	wg.Add(perKey * len(keys))

	handler := func(ctx context.Context, d messaging.Delivery) {
		defer wg.Done()
		mu.Lock()
		seen[d.Key] = append(seen[d.Key], string(d.Body))
		mu.Unlock()
		_ = d.Ack()
	}

	runner := NewRunner(broker, "order.paid", "test", 3, time.Second, handler, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for i := 0; i < perKey; i++ {
		for _, k := range keys {
			require.NoError(t, broker.Publish(ctx, "order.paid", k, []byte(fmt.Sprintf("%02d", i)), nil))
		}
	}

	waitOrFail(t, &wg)

	mu.Lock()
	for _, k := range keys {
		require.Len(t, seen[k], perKey)
		for i, body := range seen[k] {
			assert.Equal(t, fmt.Sprintf("%02d", i), body, "key %s out of order", k)
		}
	}
	mu.Unlock()
	assert.Equal(t, perKey*len(keys), broker.Acked("order.paid"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerAppliesProcessingDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := messaging.NewMemoryBroker()
	deadlines := make(chan bool, 1)
	handler := func(ctx context.Context, d messaging.Delivery) {
		_, ok := ctx.Deadline()
		deadlines <- ok
	}

	go func() { _ = NewRunner(broker, "t", "g", 1, 50*time.Millisecond, handler, zap.NewNop()).Run(ctx) }()
	require.NoError(t, broker.Publish(ctx, "t", "k", nil, nil))

	select {
	case ok := <-deadlines:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
