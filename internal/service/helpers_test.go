package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/publisher"
)

// flakyProducts wraps the memory repository with per-product failures.
type flakyProducts struct {
	*db.MemoryProductRepository

	mu             sync.Mutex
	reserveErr     map[int64]error
	reserveLost    map[int64]error
	releaseErr     map[int64]error
	releaseCalls   map[int64]int
	releaseFailFor int
}

func newFlakyProducts(products ...models.Product) *flakyProducts {
	repo := db.NewMemoryProductRepository()
	repo.Seed(products...)
	return &flakyProducts{
		MemoryProductRepository: repo,
		reserveErr:              map[int64]error{},
		reserveLost:             map[int64]error{},
		releaseErr:              map[int64]error{},
		releaseCalls:            map[int64]int{},
	}
}

func (f *flakyProducts) ReserveStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	f.mu.Lock()
	err := f.reserveErr[id]
	lost := f.reserveLost[id]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p, err := f.MemoryProductRepository.ReserveStock(ctx, id, quantity)
	if err == nil && lost != nil {
		// applied, but the caller never hears about it
		return nil, lost
	}
	return p, err
}

// ReleaseStock fails the first releaseFailFor calls per product when a
// release error is set.
func (f *flakyProducts) ReleaseStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	f.mu.Lock()
	f.releaseCalls[id]++
	calls := f.releaseCalls[id]
	err := f.releaseErr[id]
	f.mu.Unlock()
	if err != nil && (f.releaseFailFor == 0 || calls <= f.releaseFailFor) {
		return nil, err
	}
	return f.MemoryProductRepository.ReleaseStock(ctx, id, quantity)
}

func (f *flakyProducts) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := f.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

// raceOrders holds the first two FindByID callers until both have loaded the
// order, so both act on the same PENDING snapshot.
type raceOrders struct {
	*db.MemoryOrderRepository
	arrived atomic.Int32
	ready   chan struct{}
}

func newRaceOrders(repo *db.MemoryOrderRepository) *raceOrders {
	return &raceOrders{MemoryOrderRepository: repo, ready: make(chan struct{})}
}

func (r *raceOrders) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	order, err := r.MemoryOrderRepository.FindByID(ctx, id)
	n := r.arrived.Add(1)
	if n == 2 {
		close(r.ready)
	}
	if n <= 2 {
		<-r.ready
	}
	return order, err
}

// racingService shares f's stores but loads orders through a raceOrders.
func racingService(f *fixture) *OrderService {
	logger := zap.NewNop()
	pub := publisher.NewOrderPublisher(f.broker, time.Second, logger, f.metrics)
	return NewOrderService(f.products, newRaceOrders(f.orders), pub, f.comp, logger, f.metrics)
}

func catalog() []models.Product {
	return []models.Product{
		{ID: 1, Name: "Keyboard", Category: "peripherals", Price: models.MustMoney("29.99"), Quantity: 100},
		{ID: 2, Name: "Mouse", Category: "peripherals", Price: models.MustMoney("9.99"), Quantity: 3},
		{ID: 3, Name: "Cable", Category: "accessories", Price: models.MustMoney("4.50"), Quantity: 10},
	}
}

type fixture struct {
	products *flakyProducts
	orders   *db.MemoryOrderRepository
	broker   *messaging.MemoryBroker
	metrics  *metrics.Metrics
	comp     *Compensator
	svc      *OrderService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		products: newFlakyProducts(catalog()...),
		orders:   db.NewMemoryOrderRepository(),
		broker:   messaging.NewMemoryBroker(),
		metrics:  metrics.New(nil),
	}
	logger := zap.NewNop()
	f.comp = NewCompensator(f.products, 3, logger, f.metrics).WithInitialInterval(time.Millisecond)
	pub := publisher.NewOrderPublisher(f.broker, time.Second, logger, f.metrics)
	f.svc = NewOrderService(f.products, f.orders, pub, f.comp, logger, f.metrics, opts...)
	return f
}

func orderReq(userID string, lines ...models.CreateOrderItemRequest) models.CreateOrderRequest {
	return models.CreateOrderRequest{UserID: userID, Items: lines}
}

func line(productID int64, quantity int) models.CreateOrderItemRequest {
	return models.CreateOrderItemRequest{ProductID: productID, Quantity: quantity}
}
