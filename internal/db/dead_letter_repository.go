package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
)

type DeadLetterRepository struct {
	db *sql.DB
}

func NewDeadLetterRepository(database *PostgresDB) *DeadLetterRepository {
	return &DeadLetterRepository{db: database.Conn}
}

// Record stores a letter; a redelivered event id keeps its first row.
func (r *DeadLetterRepository) Record(ctx context.Context, letter models.DeadLetter) error {
	payload, err := json.Marshal(letter.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	query := `
		INSERT INTO dead_letters
			(event_id, original_event_id, order_id, error, retry_count, status, note, payload, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (event_id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		letter.Event.EventID,
		letter.Event.OriginalEventID,
		letter.Event.OrderID,
		letter.Event.Error,
		letter.Event.RetryCount,
		letter.Status,
		letter.Note,
		payload,
		letter.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) UpdateStatus(ctx context.Context, eventID string, status models.DeadLetterStatus, note string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE dead_letters SET status = $1, note = $2, updated_at = now() WHERE event_id = $3`,
		status, note, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to update dead letter: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("dead letter %s not found", eventID)
	}
	return nil
}

// List returns letters newest first
func (r *DeadLetterRepository) List(ctx context.Context) ([]models.DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload, status, note, received_at, updated_at FROM dead_letters ORDER BY received_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []models.DeadLetter
	for rows.Next() {
		var (
			letter  models.DeadLetter
			payload []byte
		)
		if err := rows.Scan(&payload, &letter.Status, &letter.Note, &letter.ReceivedAt, &letter.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if err := json.Unmarshal(payload, &letter.Event); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}
