package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/chatrelay/pkg/pg"
)

// Store defines account persistence.
type Store interface {
	// CreateAccount inserts a new account. Returns ErrEmailTaken when the
	// email is already registered (unique constraint).
	CreateAccount(ctx context.Context, acc *Account) error

	// FindAccountByID returns ErrAccountNotFound when the id is unknown.
	FindAccountByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindAccountByEmail returns ErrAccountNotFound when no account has the
	// email. Lookup is case-insensitive.
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
}

// PgStore implements Store on Postgres via pgx.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore wraps a connected pool.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) CreateAccount(ctx context.Context, acc *Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		acc.ID, acc.Email, acc.PasswordHash, acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PgStore) FindAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.scanAccount(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE id = $1`, id)
}

func (s *PgStore) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.scanAccount(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *PgStore) scanAccount(ctx context.Context, query string, arg any) (*Account, error) {
	var acc Account
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&acc.ID, &acc.Email, &acc.PasswordHash, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &acc, nil
}
