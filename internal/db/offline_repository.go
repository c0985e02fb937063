package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papochat/papo/internal/model"
)

// PostgresOfflineRepository stores direct messages queued for offline recipients.
type PostgresOfflineRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOfflineRepository creates a new PostgreSQL offline-message repository.
func NewPostgresOfflineRepository(pool *pgxpool.Pool) *PostgresOfflineRepository {
	return &PostgresOfflineRepository{pool: pool}
}

// Enqueue stores an undelivered direct message.
func (r *PostgresOfflineRepository) Enqueue(ctx context.Context, sender, recipient, message, timestamp string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO offline_messages (sender, recipient, message, timestamp)
		 VALUES ($1, $2, $3, $4)`,
		sender, recipient, message, timestamp,
	)
	if err != nil {
		return fmt.Errorf("enqueueing offline message for %q: %w", recipient, err)
	}
	return nil
}

// Drain returns the recipient's undelivered messages in insertion order and
// marks them delivered in the same transaction. Rows are never deleted.
func (r *PostgresOfflineRepository) Drain(ctx context.Context, recipient string) ([]model.OfflineMessage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning drain transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, sender, recipient, message, timestamp
		 FROM offline_messages
		 WHERE recipient = $1 AND NOT delivered
		 ORDER BY id`,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("querying offline messages for %q: %w", recipient, err)
	}

	var msgs []model.OfflineMessage
	for rows.Next() {
		var m model.OfflineMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Message, &m.Timestamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning offline message: %w", err)
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating offline messages: %w", err)
	}

	if len(msgs) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE offline_messages SET delivered = TRUE
			 WHERE recipient = $1 AND NOT delivered`,
			recipient,
		); err != nil {
			return nil, fmt.Errorf("marking offline messages delivered for %q: %w", recipient, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing drain transaction: %w", err)
	}
	return msgs, nil
}
