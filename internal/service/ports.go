package service

import (
	"context"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/outbox"
)

// ProductStore is backed by the product database locally or by the
// product-service over HTTP.
type ProductStore interface {
	FindByID(ctx context.Context, id int64) (*models.Product, error)
	Save(ctx context.Context, p *models.Product) error
	// ReserveStock decrements only if quantity is still available.
	ReserveStock(ctx context.Context, id int64, quantity int) (*models.Product, error)
	ReleaseStock(ctx context.Context, id int64, quantity int) (*models.Product, error)
	// DeductStock decrements unconditionally.
	DeductStock(ctx context.Context, id int64, quantity int) (models.StockChange, error)
}

type OrderStore interface {
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	// Save inserts when the order has no id, assigning one.
	Save(ctx context.Context, order *models.Order) error
	List(ctx context.Context) ([]models.Order, error)
}

// OutboxWriter commits an order together with an event record.
type OutboxWriter interface {
	SaveWithOutbox(ctx context.Context, order *models.Order, rec outbox.Record) error
}

type EventPublisher interface {
	PublishOrderPaid(ctx context.Context, order *models.Order) error
}
