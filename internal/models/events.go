package models

import (
	"strconv"
	"time"
)

const (
	TopicOrderPaid    = "order.paid"
	TopicStockUpdated = "stock.updated"
	TopicOrderFailed  = "order.failed.dlq"

	StockUpdateStatusSuccess = "SUCCESS"
)

// OrderPaidEvent is published when an order moves from PENDING to PAID
type OrderPaidEvent struct {
	EventID     string           `json:"event_id"`
	OrderID     int64            `json:"order_id"`
	UserID      string           `json:"user_id"`
	Items       []OrderItemEvent `json:"items"`
	TotalAmount Money            `json:"total_amount"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

type OrderItemEvent struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
}

// StockUpdateEvent describes one product's post-payment decrement
type StockUpdateEvent struct {
	ProductID       int64 `json:"product_id"`
	PreviousStock   int   `json:"previous_stock"`
	NewStock        int   `json:"new_stock"`
	QuantityReduced int   `json:"quantity_reduced"`
}

// StockUpdatedEvent is the success result for a whole OrderPaid event
type StockUpdatedEvent struct {
	EventID string             `json:"event_id"`
	OrderID int64              `json:"order_id"`
	Status  string             `json:"status"`
	Updates []StockUpdateEvent `json:"updates"`
}

// OrderFailedEvent goes to the dead-letter topic. OriginalEvent lets the
// dead-letter consumer retry without another lookup.
type OrderFailedEvent struct {
	EventID         string          `json:"event_id"`
	OriginalEventID string          `json:"original_event_id"`
	OrderID         int64           `json:"order_id"`
	Error           string          `json:"error"`
	RetryCount      int             `json:"retry_count"`
	OriginalEvent   *OrderPaidEvent `json:"original_event,omitempty"`
	FailedAt        time.Time       `json:"failed_at"`
}

// OrderKey is the broker partition key for every event of an order.
func OrderKey(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
