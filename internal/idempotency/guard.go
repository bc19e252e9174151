// Package idempotency records which orders have already had their stock
// decremented so a redelivered OrderPaid event is applied at most once.
package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Guard reports whether the caller is the first to claim orderID.
type Guard interface {
	Acquire(ctx context.Context, orderID int64) (bool, error)
}

// MemoryGuard only dedupes within one process.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[int64]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, orderID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[orderID]; ok {
		return false, nil
	}
	g.seen[orderID] = struct{}{}
	return true, nil
}

// PostgresGuard relies on the processed_orders primary key.
type PostgresGuard struct {
	db *sql.DB
}

func NewPostgresGuard(db *sql.DB) *PostgresGuard {
	return &PostgresGuard{db: db}
}

func (g *PostgresGuard) Acquire(ctx context.Context, orderID int64) (bool, error) {
	result, err := g.db.ExecContext(ctx,
		`INSERT INTO processed_orders (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING`,
		orderID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed order %d: %w", orderID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// SetNXer is satisfied by cache.RedisCache.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

// RedisGuard shares claims across replicas; a zero ttl keeps them forever.
type RedisGuard struct {
	client SetNXer
	ttl    time.Duration
}

func NewRedisGuard(client SetNXer, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, orderID int64) (bool, error) {
	ok, err := g.client.SetNX(ctx, Key(orderID), time.Now().UTC().Unix(), g.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to claim order %d: %w", orderID, err)
	}
	return ok, nil
}

func Key(orderID int64) string {
	return fmt.Sprintf("processed_order:%d", orderID)
}
