package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockdash/backend/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an insert violates the users.email
	// unique constraint.
	ErrDuplicateEmail = errors.New("email already registered")
)

const uniqueViolation = "23505"

// PostgresStore persists users and their validation codes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the users and validation_codes tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id          BIGSERIAL PRIMARY KEY,
			username    VARCHAR(100) NOT NULL,
			email       VARCHAR(255) UNIQUE NOT NULL,
			password    VARCHAR(255) NOT NULL,
			is_verified BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS validation_codes (
			id         BIGSERIAL PRIMARY KEY,
			user_id    BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token      CHAR(6)     NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_validation_codes_user_id ON validation_codes(user_id)
	`)
	return err
}

// CreateUser inserts an unverified user together with its first validation
// code in one transaction, so a registration never leaves a user without a
// code to verify with.
func (s *PostgresStore) CreateUser(ctx context.Context, username, email, hashedPassword, code string, codeExpiry time.Time) (*models.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var u models.User
	err = tx.QueryRow(ctx,
		`INSERT INTO users (username, email, password)
		 VALUES ($1, $2, $3)
		 RETURNING id, username, email, is_verified, created_at`,
		username, email, hashedPassword,
	).Scan(&u.ID, &u.Username, &u.Email, &u.IsVerified, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO validation_codes (user_id, token, expires_at) VALUES ($1, $2, $3)`,
		u.ID, code, codeExpiry,
	); err != nil {
		return nil, fmt.Errorf("create validation code: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &u, nil
}

// DeleteUser removes a user row; validation codes go with it via cascade.
// Used to undo a registration whose verification email could not be sent.
func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password, is_verified, created_at
		 FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.IsVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, is_verified, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.IsVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// CreateValidationCode issues a fresh code for an existing user. Previously
// issued unexpired codes stay valid.
func (s *PostgresStore) CreateValidationCode(ctx context.Context, userID int64, code string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO validation_codes (user_id, token, expires_at) VALUES ($1, $2, $3)`,
		userID, code, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("create validation code: %w", err)
	}
	return nil
}

// ConsumeValidationCode atomically marks the user verified and deletes the
// matched code. The latest unexpired matching code is row-locked first, so
// under concurrent submissions of the same code exactly one caller consumes
// it; the rest get ErrNotFound.
func (s *PostgresStore) ConsumeValidationCode(ctx context.Context, userID int64, code string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var codeID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM validation_codes
		 WHERE user_id = $1 AND token = $2 AND expires_at > NOW()
		 ORDER BY id DESC LIMIT 1
		 FOR UPDATE`,
		userID, code,
	).Scan(&codeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup validation code: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET is_verified = TRUE WHERE id = $1`, userID,
	); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM validation_codes WHERE id = $1`, codeID,
	); err != nil {
		return fmt.Errorf("delete validation code: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
