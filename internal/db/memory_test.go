package db

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/outbox"
)

func seededProducts(t *testing.T) *MemoryProductRepository {
	t.Helper()
	repo := NewMemoryProductRepository()
	repo.Seed(
		models.Product{ID: 1, Name: "Keyboard", Category: "peripherals", Price: models.MustMoney("29.99"), Quantity: 100},
		models.Product{ID: 2, Name: "Mouse", Category: "peripherals", Price: models.MustMoney("9.50"), Quantity: 3},
	)
	return repo
}

func TestMemoryProductReserveStock(t *testing.T) {
	ctx := context.Background()
	repo := seededProducts(t)

	p, err := repo.ReserveStock(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 95, p.Quantity)

	_, err = repo.ReserveStock(ctx, 2, 5)
	assert.True(t, apperr.IsInsufficientStock(err))

	stored, err := repo.FindByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Quantity, "failed reservation must not change stock")

	_, err = repo.ReserveStock(ctx, 42, 1)
	assert.True(t, apperr.IsNotFound(err))
}

func TestMemoryProductConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := seededProducts(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ReserveStock(ctx, 2, 1); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p, err := repo.FindByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, reserved)
	assert.Equal(t, 0, p.Quantity)
}

func TestMemoryProductDeductStockHasNoSufficiencyCheck(t *testing.T) {
	ctx := context.Background()
	repo := seededProducts(t)

	change, err := repo.DeductStock(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StockChange{ProductID: 2, PreviousStock: 3, NewStock: -2}, change)

	_, err = repo.DeductStock(ctx, 9, 1)
	assert.True(t, apperr.IsNotFound(err))
}

func TestMemoryProductReleaseStock(t *testing.T) {
	ctx := context.Background()
	repo := seededProducts(t)

	p, err := repo.ReleaseStock(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 107, p.Quantity)
}

func TestMemoryProductCreateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := seededProducts(t)

	p, err := repo.Create(ctx, models.CreateProductRequest{Name: "Monitor", Category: "displays", Price: models.MustMoney("199"), Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.ID)

	_, err = repo.Create(ctx, models.CreateProductRequest{Name: " ", Category: "displays"})
	assert.True(t, apperr.IsInvalidArgument(err))

	require.NoError(t, repo.Delete(ctx, p.ID))
	assert.True(t, apperr.IsNotFound(repo.Delete(ctx, p.ID)))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func newOrder(t *testing.T) *models.Order {
	t.Helper()
	item, err := models.NewOrderItem(1, "Keyboard", models.MustMoney("29.99"), 2)
	require.NoError(t, err)
	order, err := models.NewOrder("user-1", []models.OrderItem{item}, models.OrderStatusPending)
	require.NoError(t, err)
	return order
}

func TestMemoryOrderSaveAssignsIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()

	order := newOrder(t)
	require.NoError(t, repo.Save(ctx, order))
	assert.Equal(t, int64(1), order.ID)
	assert.Equal(t, int64(1), order.Items[0].OrderID)
	assert.NotZero(t, order.Items[0].ID)

	loaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, loaded.TotalAmount)

	// mutating the loaded copy must not leak into the store
	loaded.Items[0].Quantity = 99
	again, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Items[0].Quantity)

	_, err = repo.FindByID(ctx, 77)
	assert.True(t, apperr.IsNotFound(err))
}

func TestMemoryOrderSaveUnknownID(t *testing.T) {
	order := newOrder(t)
	order.ID = 12
	err := NewMemoryOrderRepository().Save(context.Background(), order)
	assert.True(t, apperr.IsNotFound(err))
}

func TestMemoryOrderSaveRejectsStaleTransition(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()
	order := newOrder(t)
	require.NoError(t, repo.Save(ctx, order))

	paid, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	cancelled, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)

	require.NoError(t, paid.MarkAsPaid())
	require.NoError(t, repo.Save(ctx, paid))

	require.NoError(t, cancelled.Cancel())
	err = repo.Save(ctx, cancelled)
	assert.True(t, apperr.IsInvalidState(err), "got %v", err)

	stored, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
}

func TestMemoryOrderOutbox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()

	order := newOrder(t)
	require.NoError(t, repo.Save(ctx, order))
	require.NoError(t, order.MarkAsPaid())

	rec, err := outbox.NewRecord("evt-1", models.TopicOrderPaid, models.OrderKey(order.ID), map[string]int64{"order_id": order.ID})
	require.NoError(t, err)
	require.NoError(t, repo.SaveWithOutbox(ctx, order, rec))

	pending, err := repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-1", pending[0].EventID)

	require.NoError(t, repo.MarkSent(ctx, pending[0].ID))
	pending, err = repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
}

func TestMemoryOrderListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()
	require.NoError(t, repo.Save(ctx, newOrder(t)))
	require.NoError(t, repo.Save(ctx, newOrder(t)))

	orders, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(2), orders[0].ID)
}

func TestMemoryDeadLetterStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDeadLetterStore()

	letter := models.DeadLetter{Event: models.OrderFailedEvent{EventID: "dlq-1", OrderID: 5}, Status: models.DeadLetterReceived}
	require.NoError(t, store.Record(ctx, letter))
	require.NoError(t, store.Record(ctx, letter))

	require.NoError(t, store.UpdateStatus(ctx, "dlq-1", models.DeadLetterParked, "retries exhausted"))
	assert.True(t, apperr.IsNotFound(store.UpdateStatus(ctx, "nope", models.DeadLetterParked, "")))

	letters, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, models.DeadLetterParked, letters[0].Status)
	assert.Equal(t, "retries exhausted", letters[0].Note)
}
