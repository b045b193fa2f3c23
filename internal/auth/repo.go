package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cantoria/cantoria/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `SELECT id, name, email, password_hash, is_active, created_at, updated_at FROM users WHERE email = $1`, email)
}

// FindByID fetches a user by ID.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, `SELECT id, name, email, password_hash, is_active, created_at, updated_at FROM users WHERE id = $1`, id)
}

func (r *PGRepository) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, query, arg).
		Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateSession persists a login session record for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at, ip, ua) VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`,
		id, userID, expiresAt.UTC(), ip, ua)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

var _ Repository = (*PGRepository)(nil)
