package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/observability"
)

// StockService applies the post-payment stock decrement.
type StockService struct {
	products    ProductStore
	compensator *Compensator
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewStockService(products ProductStore, compensator *Compensator, logger *zap.Logger) *StockService {
	return &StockService{
		products:    products,
		compensator: compensator,
		logger:      logger,
		tracer:      observability.Tracer(),
	}
}

// UpdateStockFromOrder subtracts every item's quantity without a sufficiency
// check. If any item fails, the deductions already applied for this order are
// put back so the whole call can be retried safely.
func (s *StockService) UpdateStockFromOrder(ctx context.Context, orderID int64, items []models.OrderItemEvent) ([]models.StockUpdateEvent, error) {
	ctx, span := s.tracer.Start(ctx, "StockService.UpdateStockFromOrder",
		trace.WithAttributes(attribute.Int64("order.id", orderID), attribute.Int("order.items", len(items))))
	defer span.End()

	updates := make([]models.StockUpdateEvent, 0, len(items))
	applied := make([]Reservation, 0, len(items))
	for _, item := range items {
		change, err := s.products.DeductStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			failure := apperr.StockUpdate(item.ProductID, err)
			span.SetStatus(codes.Error, failure.Error())
			if len(applied) > 0 {
				s.logger.Warn("↩️ Reverting partial stock update",
					zap.Int64("order_id", orderID),
					zap.Int("applied", len(applied)),
				)
				s.compensator.ReleaseAll(ctx, applied)
			}
			return nil, failure
		}

		applied = append(applied, Reservation{ProductID: item.ProductID, Quantity: item.Quantity})
		updates = append(updates, models.StockUpdateEvent{
			ProductID:       item.ProductID,
			PreviousStock:   change.PreviousStock,
			NewStock:        change.NewStock,
			QuantityReduced: item.Quantity,
		})
		s.logger.Info("📉 Stock updated",
			zap.Int64("order_id", orderID),
			zap.Int64("product_id", item.ProductID),
			zap.Int("previous", change.PreviousStock),
			zap.Int("new", change.NewStock),
		)
	}
	return updates, nil
}
