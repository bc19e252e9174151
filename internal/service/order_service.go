// Package service holds the order fulfillment saga: reservation with
// compensation at order time, the payment transition, and the post-payment
// stock update.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/observability"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/outbox"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/publisher"
)

// CreateOrderResult carries the persisted order and, for a CANCELLED order,
// why each failing item could not be reserved.
type CreateOrderResult struct {
	Order   *models.Order
	Reasons []string
}

type OrderService struct {
	products    ProductStore
	orders      OrderStore
	publisher   EventPublisher
	outbox      OutboxWriter
	compensator *Compensator
	logger      *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*OrderService)

// WithOutbox makes PayOrder commit the OrderPaid event with the order
// instead of publishing it directly.
func WithOutbox(w OutboxWriter) Option {
	return func(s *OrderService) { s.outbox = w }
}

func NewOrderService(products ProductStore, orders OrderStore, pub EventPublisher, compensator *Compensator, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *OrderService {
	s := &OrderService{
		products:    products,
		orders:      orders,
		publisher:   pub,
		compensator: compensator,
		logger:      logger,
		metrics:     m,
		tracer:      observability.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder reserves stock for every item and persists exactly one order.
// A stock shortfall is not an error: the order comes back CANCELLED with all
// reservations released.
func (s *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	res, err := s.CreateOrderDetailed(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (s *OrderService) CreateOrderDetailed(ctx context.Context, req models.CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.String("user.id", req.UserID), attribute.Int("order.items", len(req.Items))))
	defer span.End()

	if err := validateCreate(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var (
		items    = make([]models.OrderItem, 0, len(req.Items))
		reserved []Reservation
		reasons  []string
	)
	for _, line := range req.Items {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			s.compensator.ReleaseAll(ctx, reserved)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if product.HasEnoughStock(line.Quantity) {
			updated, err := s.products.ReserveStock(ctx, product.ID, line.Quantity)
			switch {
			case err == nil:
				reserved = append(reserved, Reservation{ProductID: product.ID, Quantity: line.Quantity})
				product = updated
			case apperr.IsInsufficientStock(err):
				reasons = append(reasons, err.Error())
			case errors.Is(err, apperr.ErrOutcomeUnknown):
				// the reserve may have applied; the cancellation below gives it back
				reserved = append(reserved, Reservation{ProductID: product.ID, Quantity: line.Quantity})
				reasons = append(reasons, fmt.Sprintf("failed to reserve stock for product %d: %v", product.ID, err))
				s.logger.Warn("⚠️ Stock reservation outcome unknown, releasing", zap.Int64("product_id", product.ID), zap.Error(err))
			default:
				reasons = append(reasons, fmt.Sprintf("failed to reserve stock for product %d: %v", product.ID, err))
				s.logger.Warn("⚠️ Stock reservation failed", zap.Int64("product_id", product.ID), zap.Error(err))
			}
		} else {
			reasons = append(reasons, apperr.InsufficientStock(product.ID, line.Quantity, product.Quantity).Error())
		}

		item, err := models.NewOrderItem(product.ID, product.Name, product.Price, line.Quantity)
		if err != nil {
			s.compensator.ReleaseAll(ctx, reserved)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		items = append(items, item)
	}

	status := models.OrderStatusPending
	if len(reasons) > 0 {
		status = models.OrderStatusCancelled
		s.logger.Warn("⚠️ Order cannot be fulfilled, releasing reservations",
			zap.String("user_id", req.UserID),
			zap.Strings("reasons", reasons),
			zap.Int("reservations", len(reserved)),
		)
		s.compensator.ReleaseAll(ctx, reserved)
		reserved = nil
	}

	order, err := models.NewOrder(req.UserID, items, status)
	if err != nil {
		s.compensator.ReleaseAll(ctx, reserved)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		s.compensator.ReleaseAll(ctx, reserved)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	s.metrics.OrdersCreated.WithLabelValues(string(order.Status)).Inc()
	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.String("order.status", string(order.Status)))
	s.logger.Info("✅ Order created",
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("total", order.TotalAmount.String()),
	)
	return &CreateOrderResult{Order: order, Reasons: reasons}, nil
}

func validateCreate(req models.CreateOrderRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return apperr.InvalidArgument("user id must not be blank")
	}
	if len(req.Items) == 0 {
		return apperr.InvalidArgument("order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return apperr.InvalidArgument("quantity for product %d must be positive, got %d", item.ProductID, item.Quantity)
		}
	}
	return nil
}

// PayOrder moves a PENDING order to PAID and announces it. A failed publish
// is logged and does not undo the payment. The status change only commits if
// the stored order is still PENDING.
func (s *OrderService) PayOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PayOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := order.MarkAsPaid(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.outbox != nil {
		if err := s.saveWithOutbox(ctx, order); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		s.logger.Info("💳 Order paid, event queued in outbox", zap.Int64("order_id", order.ID))
		return order, nil
	}

	if err := s.orders.Save(ctx, order); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to save order: %w", err)
	}
	s.logger.Info("💳 Order paid", zap.Int64("order_id", order.ID), zap.String("total", order.TotalAmount.String()))

	if err := s.publisher.PublishOrderPaid(ctx, order); err != nil {
		span.RecordError(err)
		s.logger.Error("❌ Failed to publish order.paid event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}

func (s *OrderService) saveWithOutbox(ctx context.Context, order *models.Order) error {
	event, err := publisher.NewOrderPaidEvent(order)
	if err != nil {
		return err
	}
	rec, err := outbox.NewRecord(event.EventID, models.TopicOrderPaid, models.OrderKey(order.ID), event)
	if err != nil {
		return err
	}
	if err := s.outbox.SaveWithOutbox(ctx, order, rec); err != nil {
		return fmt.Errorf("failed to save order with outbox record: %w", err)
	}
	return nil
}

// CancelOrder cancels a PENDING order and gives its stock back. Cancelling a
// cancelled order changes nothing. When a payment lands first the cancel
// fails with InvalidState and no stock moves.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return order, nil
	}
	if err := order.Cancel(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		if apperr.IsInvalidState(err) {
			// a concurrent cancel won and has already released the stock
			if current, ferr := s.orders.FindByID(ctx, orderID); ferr == nil && current.Status == models.OrderStatusCancelled {
				return current, nil
			}
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	reservations := make([]Reservation, 0, len(order.Items))
	for _, item := range order.Items {
		reservations = append(reservations, Reservation{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	s.compensator.ReleaseAll(ctx, reservations)

	s.logger.Info("🚫 Order cancelled", zap.Int64("order_id", order.ID))
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.orders.List(ctx)
}
