package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/papochat/papo/internal/model"
)

// ErrNameTaken is returned by Register when the username already exists.
var ErrNameTaken = errors.New("username already exists")

// HashPassword hashes a password with bcrypt using the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// PostgresUserRepository persists chat accounts in PostgreSQL.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a new PostgreSQL user repository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Register creates a new account with a bcrypt hash of the password.
// Returns ErrNameTaken if the username already exists.
func (r *PostgresUserRepository) Register(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash)
		 VALUES ($1, $2)
		 ON CONFLICT (username) DO NOTHING`,
		username, hash,
	)
	if err != nil {
		return fmt.Errorf("creating user %q: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNameTaken
	}
	return nil
}

// Verify reports whether the stored hash matches the password.
// On success it updates the user's last_login.
func (r *PostgresUserRepository) Verify(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := r.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE username = $1`, username,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("querying user %q: %w", username, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return false, nil
	}

	if _, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login = $1 WHERE username = $2`,
		time.Now(), username,
	); err != nil {
		return false, fmt.Errorf("updating last login for %q: %w", username, err)
	}
	return true, nil
}

// GetUser retrieves a user by username.
// Returns nil, nil if the user does not exist.
func (r *PostgresUserRepository) GetUser(ctx context.Context, username string) (*model.User, error) {
	var (
		u         model.User
		lastLogin *time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT username, password_hash, created_at, last_login
		 FROM users WHERE username = $1`, username,
	).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user %q: %w", username, err)
	}
	if lastLogin != nil {
		u.LastLogin = *lastLogin
	}
	return &u, nil
}

// ListUsernames returns every registered username in alphabetical order.
func (r *PostgresUserRepository) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing usernames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning username: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usernames: %w", err)
	}
	return names, nil
}
