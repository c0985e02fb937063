package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHistoryRepository keeps the append-only record of routed public and
// room messages. The server never reads it back; it exists for inspection.
type PostgresHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresHistoryRepository creates a new PostgreSQL history repository.
func NewPostgresHistoryRepository(pool *pgxpool.Pool) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{pool: pool}
}

// Append records one routed message.
func (r *PostgresHistoryRepository) Append(ctx context.Context, room, sender, message, timestamp string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_history (room, sender, message, timestamp)
		 VALUES ($1, $2, $3, $4)`,
		room, sender, message, timestamp,
	)
	if err != nil {
		return fmt.Errorf("appending history for room %q: %w", room, err)
	}
	return nil
}
