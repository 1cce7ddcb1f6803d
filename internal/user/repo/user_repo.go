package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

var (
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateUsername = errors.New("username already exists")
)

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, username, password_hash, locked, created_at, updated_at`

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  locked BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	}
	if r.db.DriverName() == database.DriverSQLite {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  email TEXT NOT NULL UNIQUE,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  locked BOOLEAN NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
		}
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a new user row. Email is stored lower-cased. Returns new ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (email, username, password_hash, locked, created_at, updated_at)
		VALUES (:email, :username, :password_hash, :locked, :created_at, :updated_at) RETURNING id`
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return 0, classifyUnique(err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.ID); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	if err := rows.Err(); err != nil {
		return 0, classifyUnique(err)
	}
	return 0, errors.New("no id returned")
}

// GetByEmail returns a user matched by email (case-insensitive) or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, strings.ToLower(strings.TrimSpace(email))); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByID fetches a full user row or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdatePassword replaces the stored hash. Returns sql.ErrNoRows when the
// user does not exist.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	q := r.db.Rebind(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, hash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetLocked flips the administrative lock of the user with the given email.
func (r *UserRepo) SetLocked(ctx context.Context, email string, locked bool) error {
	q := r.db.Rebind(`UPDATE users SET locked = ?, updated_at = ? WHERE email = ?`)
	res, err := r.db.ExecContext(ctx, q, locked, time.Now().UTC(), strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// classifyUnique maps unique violations from either driver onto the
// package sentinels; other errors pass through.
func classifyUnique(err error) error {
	var detail string
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == "23505":
		detail = pqErr.Constraint + " " + pqErr.Message
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		detail = err.Error()
	default:
		return err
	}
	switch {
	case strings.Contains(detail, "email"):
		return ErrDuplicateEmail
	case strings.Contains(detail, "username"):
		return ErrDuplicateUsername
	}
	return err
}
