package models

import (
	"strings"
	"time"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
)

type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     Money     `json:"price"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateProductRequest struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category" binding:"required"`
	Price    Money  `json:"price"`
	Quantity int    `json:"quantity"`
}

// StockRequest is the body of the product-service stock endpoints.
type StockRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

// StockChange reports a stock mutation as seen by the product-service.
type StockChange struct {
	ProductID     int64 `json:"product_id"`
	PreviousStock int   `json:"previous_stock"`
	NewStock      int   `json:"new_stock"`
}

// NewProduct validates the request and returns an unsaved product.
func NewProduct(req CreateProductRequest) (*Product, error) {
	p := &Product{
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
		Price:    req.Price,
		Quantity: req.Quantity,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperr.InvalidArgument("product name must not be blank")
	}
	if strings.TrimSpace(p.Category) == "" {
		return apperr.InvalidArgument("product category must not be blank")
	}
	if p.Quantity < 0 {
		return apperr.InvalidArgument("product quantity must not be negative, got %d", p.Quantity)
	}
	return nil
}

func (p *Product) HasEnoughStock(quantity int) bool {
	return p.Quantity >= quantity
}

// ReduceStock is the self-validating check-and-act on stock.
func (p *Product) ReduceStock(quantity int) error {
	if quantity <= 0 {
		return apperr.InvalidArgument("quantity must be positive, got %d", quantity)
	}
	if !p.HasEnoughStock(quantity) {
		return apperr.InsufficientStock(p.ID, quantity, p.Quantity)
	}
	p.Quantity -= quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IncreaseStock puts quantity back, used by compensation.
func (p *Product) IncreaseStock(quantity int) error {
	if quantity <= 0 {
		return apperr.InvalidArgument("quantity must be positive, got %d", quantity)
	}
	p.Quantity += quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}
