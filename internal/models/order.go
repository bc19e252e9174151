package models

import (
	"strings"
	"time"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is created once by the coordinator and afterwards changed only through
// MarkAsPaid and Cancel.
type Order struct {
	ID          int64       `json:"id"`
	UserID      string      `json:"user_id"`
	TotalAmount Money       `json:"total_amount"`
	Status      OrderStatus `json:"status"`
	Items       []OrderItem `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// OrderItem snapshots name and price at order time.
type OrderItem struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	Subtotal    Money  `json:"subtotal"`
}

type CreateOrderRequest struct {
	UserID string                   `json:"user_id" binding:"required"`
	Items  []CreateOrderItemRequest `json:"items" binding:"required"`
}

type CreateOrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

func NewOrderItem(productID int64, productName string, unitPrice Money, quantity int) (OrderItem, error) {
	if quantity <= 0 {
		return OrderItem{}, apperr.InvalidArgument("quantity for product %d must be positive, got %d", productID, quantity)
	}
	subtotal, err := unitPrice.Multiply(quantity)
	if err != nil {
		return OrderItem{}, err
	}
	return OrderItem{
		ProductID:   productID,
		ProductName: productName,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Subtotal:    subtotal,
	}, nil
}

// NewOrder builds an unsaved order whose total is the sum of item subtotals.
func NewOrder(userID string, items []OrderItem, status OrderStatus) (*Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.InvalidArgument("user id must not be blank")
	}
	if len(items) == 0 {
		return nil, apperr.InvalidArgument("order must contain at least one item")
	}
	if status != OrderStatusPending && status != OrderStatusCancelled {
		return nil, apperr.InvalidArgument("order cannot be created with status %s", status)
	}

	total := ZeroMoney()
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}

	now := time.Now().UTC()
	return &Order{
		UserID:      userID,
		TotalAmount: total,
		Status:      status,
		Items:       append([]OrderItem(nil), items...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (o *Order) MarkAsPaid() error {
	if o.Status != OrderStatusPending {
		return apperr.InvalidState("order %d cannot be paid in status %s", o.ID, o.Status)
	}
	o.Status = OrderStatusPaid
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel is a no-op for an already cancelled order.
func (o *Order) Cancel() error {
	switch o.Status {
	case OrderStatusCancelled:
		return nil
	case OrderStatusPaid:
		return apperr.InvalidState("order %d is already paid and cannot be cancelled", o.ID)
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy so stores never share item slices with callers.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return &c
}
