package features

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/idempotency"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/publisher"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/service"
)

type sagaTestContext struct {
	products *db.MemoryProductRepository
	orders   *db.MemoryOrderRepository
	broker   *messaging.MemoryBroker
	svc      *service.OrderService
	stock    *consumer.StockConsumer

	order     *models.Order
	paidEvent []byte
	lastErr   error
}

func (c *sagaTestContext) reset() {
	logger := zap.NewNop()
	m := metrics.New(nil)

	c.products = db.NewMemoryProductRepository()
	c.orders = db.NewMemoryOrderRepository()
	c.broker = messaging.NewMemoryBroker()

	comp := service.NewCompensator(c.products, 3, logger, m).WithInitialInterval(time.Millisecond)
	orderPub := publisher.NewOrderPublisher(c.broker, time.Second, logger, m)
	c.svc = service.NewOrderService(c.products, c.orders, orderPub, comp, logger, m)

	stockPub := publisher.NewStockPublisher(c.broker, time.Second, logger, m)
	c.stock = consumer.NewStockConsumer(service.NewStockService(c.products, comp, logger), stockPub, idempotency.NewMemoryGuard(), logger, m)

	c.order = nil
	c.paidEvent = nil
	c.lastErr = nil
}

func (c *sagaTestContext) theCatalog(table *godog.Table) error {
	for _, row := range table.Rows[1:] {
		id, err := strconv.ParseInt(row.Cells[0].Value, 10, 64)
		if err != nil {
			return err
		}
		price, err := models.ParseMoney(row.Cells[3].Value)
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(row.Cells[4].Value)
		if err != nil {
			return err
		}
		c.products.Seed(models.Product{ID: id, Name: row.Cells[1].Value, Category: row.Cells[2].Value, Price: price, Quantity: qty})
	}
	return nil
}

func (c *sagaTestContext) userOrdersOfProduct(userID string, qty int, productID int64) error {
	c.order, c.lastErr = c.svc.CreateOrder(context.Background(), models.CreateOrderRequest{
		UserID: userID,
		Items:  []models.CreateOrderItemRequest{{ProductID: productID, Quantity: qty}},
	})
	return nil
}

func (c *sagaTestContext) userOrdered(userID string, qty int, productID int64) error {
	if err := c.userOrdersOfProduct(userID, qty, productID); err != nil {
		return err
	}
	return c.lastErr
}

func (c *sagaTestContext) userOrdersTable(userID string, table *godog.Table) error {
	req := models.CreateOrderRequest{UserID: userID}
	for _, row := range table.Rows[1:] {
		id, err := strconv.ParseInt(row.Cells[0].Value, 10, 64)
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return err
		}
		req.Items = append(req.Items, models.CreateOrderItemRequest{ProductID: id, Quantity: qty})
	}
	c.order, c.lastErr = c.svc.CreateOrder(context.Background(), req)
	return nil
}

func (c *sagaTestContext) theOrderIsPaid() error {
	if c.order == nil {
		return fmt.Errorf("no order to pay")
	}
	paid, err := c.svc.PayOrder(context.Background(), c.order.ID)
	c.lastErr = err
	if err == nil {
		c.order = paid
	}
	return nil
}

func (c *sagaTestContext) aPaidOrderFor(orderID int64, qty int, productID int64) error {
	event := models.OrderPaidEvent{
		EventID:     "evt-" + models.OrderKey(orderID),
		OrderID:     orderID,
		UserID:      "carol",
		Items:       []models.OrderItemEvent{{ProductID: productID, Quantity: qty, UnitPrice: models.MustMoney("1")}},
		TotalAmount: models.MustMoney("1"),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.paidEvent = body
	c.order = &models.Order{ID: orderID}
	return nil
}

func (c *sagaTestContext) theOrderPaidEventIsDelivered(times int) error {
	body := c.paidEvent
	if body == nil {
		msgs := c.broker.Published(models.TopicOrderPaid)
		if len(msgs) == 0 {
			return fmt.Errorf("no order.paid event was published")
		}
		body = msgs[len(msgs)-1].Body
	}
	for i := 0; i < times; i++ {
		d := messaging.NewDelivery(models.TopicOrderPaid, models.OrderKey(c.order.ID), body, nil,
			func() error { return nil }, func(bool) error { return nil })
		c.stock.HandleOrderPaid(context.Background(), d)
	}
	return nil
}

func (c *sagaTestContext) theOrderStatusIs(status string) error {
	if c.lastErr != nil {
		return fmt.Errorf("unexpected error: %w", c.lastErr)
	}
	if string(c.order.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, c.order.Status)
	}
	stored, err := c.orders.FindByID(context.Background(), c.order.ID)
	if err != nil {
		return err
	}
	if string(stored.Status) != status {
		return fmt.Errorf("expected stored status %s, got %s", status, stored.Status)
	}
	return nil
}

func (c *sagaTestContext) theOrderTotalIs(total string) error {
	if got := c.order.TotalAmount.String(); got != total {
		return fmt.Errorf("expected total %s, got %s", total, got)
	}
	return nil
}

func (c *sagaTestContext) productHasInStock(productID int64, qty int) error {
	p, err := c.products.FindByID(context.Background(), productID)
	if err != nil {
		return err
	}
	if p.Quantity != qty {
		return fmt.Errorf("expected product %d to have %d in stock, got %d", productID, qty, p.Quantity)
	}
	return nil
}

func (c *sagaTestContext) theRequestFailsWithANotFoundError() error {
	if !apperr.IsNotFound(c.lastErr) {
		return fmt.Errorf("expected not-found error, got %v", c.lastErr)
	}
	return nil
}

func (c *sagaTestContext) theRequestFailsWithAnInvalidStateError() error {
	if !apperr.IsInvalidState(c.lastErr) {
		return fmt.Errorf("expected invalid-state error, got %v", c.lastErr)
	}
	return nil
}

func (c *sagaTestContext) noOrderExists() error {
	orders, err := c.orders.List(context.Background())
	if err != nil {
		return err
	}
	if len(orders) != 0 {
		return fmt.Errorf("expected no orders, got %d", len(orders))
	}
	return nil
}

func (c *sagaTestContext) eventsKeyedByOrderArePublished(count int, topic string) error {
	msgs := c.broker.Published(topic)
	if len(msgs) != count {
		return fmt.Errorf("expected %d %s events, got %d", count, topic, len(msgs))
	}
	for _, m := range msgs {
		if m.Key != models.OrderKey(c.order.ID) {
			return fmt.Errorf("expected key %d, got %s", c.order.ID, m.Key)
		}
	}
	return nil
}

func (c *sagaTestContext) theDeadLetteredEventHasRetryCount(n int) error {
	msgs := c.broker.Published(models.TopicOrderFailed)
	if len(msgs) == 0 {
		return fmt.Errorf("nothing was dead-lettered")
	}
	var event models.OrderFailedEvent
	if err := json.Unmarshal(msgs[len(msgs)-1].Body, &event); err != nil {
		return err
	}
	if event.RetryCount != n {
		return fmt.Errorf("expected retry count %d, got %d", n, event.RetryCount)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &sagaTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^the catalog:$`, tc.theCatalog)
	ctx.Step(`^user "([^"]*)" ordered (\d+) of product (\d+)$`, tc.userOrdered)
	ctx.Step(`^a paid order (\d+) for (\d+) of product (\d+)$`, tc.aPaidOrderFor)

	// When steps
	ctx.Step(`^user "([^"]*)" orders (\d+) of product (\d+)$`, tc.userOrdersOfProduct)
	ctx.Step(`^user "([^"]*)" orders:$`, tc.userOrdersTable)
	ctx.Step(`^the order is paid$`, tc.theOrderIsPaid)
	ctx.Step(`^the order\.paid event is delivered (\d+) times$`, tc.theOrderPaidEventIsDelivered)

	// Then steps
	ctx.Step(`^the order status is "([^"]*)"$`, tc.theOrderStatusIs)
	ctx.Step(`^the order total is "([^"]*)"$`, tc.theOrderTotalIs)
	ctx.Step(`^product (\d+) has (\d+) in stock$`, tc.productHasInStock)
	ctx.Step(`^the request fails with a not-found error$`, tc.theRequestFailsWithANotFoundError)
	ctx.Step(`^the request fails with an invalid-state error$`, tc.theRequestFailsWithAnInvalidStateError)
	ctx.Step(`^no order exists$`, tc.noOrderExists)
	ctx.Step(`^(\d+) "([^"]*)" event keyed by the order id is published$`, tc.eventsKeyedByOrderArePublished)
	ctx.Step(`^the dead-lettered event has retry count (\d+)$`, tc.theDeadLetteredEventHasRetryCount)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"order_saga.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
