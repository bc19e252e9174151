package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/outbox"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(database *PostgresDB) *OrderRepository {
	return &OrderRepository{db: database.Conn}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Save inserts an order with its items when it has no id yet, otherwise it
// updates status and timestamp.
func (r *OrderRepository) Save(ctx context.Context, order *models.Order) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return saveOrder(ctx, tx, order)
	})
}

// SaveWithOutbox persists the order and the outbox record in one transaction.
func (r *OrderRepository) SaveWithOutbox(ctx context.Context, order *models.Order, rec outbox.Record) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbox (event_id, topic, key, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
			rec.EventID, rec.Topic, rec.Key, []byte(rec.Payload), rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert outbox record: %w", err)
		}
		return nil
	})
}

func (r *OrderRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func saveOrder(ctx context.Context, tx execer, order *models.Order) error {
	if order.ID != 0 {
		// only a PENDING row may change status
		result, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			order.Status, order.UpdatedAt, order.ID, models.OrderStatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return staleOrder(ctx, tx, order.ID)
		}
		return nil
	}

	orderQuery := `
		INSERT INTO orders (user_id, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := tx.QueryRowContext(ctx, orderQuery,
		order.UserID, order.TotalAmount, order.Status, order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err = tx.QueryRowContext(ctx, itemQuery,
			order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// staleOrder explains a conditional update that matched no row.
func staleOrder(ctx context.Context, tx execer, id int64) error {
	var current models.OrderStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("order %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load order status: %w", err)
	}
	return apperr.InvalidState("order %d is already %s", id, current)
}

// List returns all orders newest first, with items
func (r *OrderRepository) List(ctx context.Context) ([]models.Order, error) {
	query := `SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders ORDER BY id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := r.items(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// FindByID returns a single order with items
func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	orderQuery := `SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE id = $1`

	var order models.Order
	err := r.db.QueryRowContext(ctx, orderQuery, id).
		Scan(&order.ID, &order.UserID, &order.TotalAmount, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("order %d not found", id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.Items, err = r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) items(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	itemsQuery := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FetchPending returns unsent outbox records oldest first.
func (r *OrderRepository) FetchPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	query := `
		SELECT id, event_id, topic, key, payload, created_at
		FROM outbox WHERE sent_at IS NULL
		ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *OrderRepository) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET sent_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record sent: %w", err)
	}
	return nil
}
