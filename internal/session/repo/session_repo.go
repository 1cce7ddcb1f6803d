package repo

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// SessionRepo stores refresh sessions. Token values are unique; a row is
// rotated in place on refresh rather than replaced.
type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, user_id, refresh_token, user_agent, ip_address, device, last_used_at, expires_at, created_at, updated_at`

// EnsureTable creates refresh_sessions. users must exist first.
func (r *SessionRepo) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS refresh_sessions (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  refresh_token TEXT NOT NULL UNIQUE,
  user_agent TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  device TEXT NOT NULL DEFAULT '',
  last_used_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_sessions_user_id ON refresh_sessions(user_id)`,
	}
	if r.db.DriverName() == database.DriverSQLite {
		stmts[0] = `CREATE TABLE IF NOT EXISTS refresh_sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  refresh_token TEXT NOT NULL UNIQUE,
  user_agent TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  device TEXT NOT NULL DEFAULT '',
  last_used_at TIMESTAMP NOT NULL,
  expires_at TIMESTAMP NOT NULL,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *SessionRepo) Create(ctx context.Context, s *session.RefreshSession) (int64, error) {
	const q = `INSERT INTO refresh_sessions (user_id, refresh_token, user_agent, ip_address, device, last_used_at, expires_at, created_at, updated_at)
		VALUES (:user_id, :refresh_token, :user_agent, :ip_address, :device, :last_used_at, :expires_at, :created_at, :updated_at) RETURNING id`
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.LastUsedAt
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	rows, err := r.db.NamedQueryContext(ctx, q, s)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&s.ID); err != nil {
			return 0, err
		}
		return s.ID, nil
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("no id returned")
}

// GetByToken returns the session holding token or sql.ErrNoRows.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*session.RefreshSession, error) {
	q := r.db.Rebind(`SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE refresh_token = ?`)
	var s session.RefreshSession
	if err := r.db.GetContext(ctx, &s, q, token); err != nil {
		return nil, err
	}
	return &s, nil
}

// Rotate swaps the token of session id from oldToken to next.RefreshToken
// and refreshes its timestamps. It reports false when the row no longer
// holds oldToken, which means another refresh got there first.
func (r *SessionRepo) Rotate(ctx context.Context, id int64, oldToken string, next *session.RefreshSession) (bool, error) {
	q := r.db.Rebind(`UPDATE refresh_sessions
		SET refresh_token = ?, last_used_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND refresh_token = ?`)
	res, err := r.db.ExecContext(ctx, q, next.RefreshToken, next.LastUsedAt, next.ExpiresAt, next.LastUsedAt, id, oldToken)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SessionRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM refresh_sessions WHERE id = ?`), id)
	return err
}

// DeleteByUserAndToken removes the session only if token belongs to userID.
func (r *SessionRepo) DeleteByUserAndToken(ctx context.Context, userID int64, token string) (int64, error) {
	q := r.db.Rebind(`DELETE FROM refresh_sessions WHERE user_id = ? AND refresh_token = ?`)
	res, err := r.db.ExecContext(ctx, q, userID, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SessionRepo) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM refresh_sessions WHERE user_id = ?`), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByUser returns the user's sessions, most recently used first.
func (r *SessionRepo) ListByUser(ctx context.Context, userID int64) ([]session.RefreshSession, error) {
	q := r.db.Rebind(`SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE user_id = ? ORDER BY last_used_at DESC, id DESC`)
	out := []session.RefreshSession{}
	if err := r.db.SelectContext(ctx, &out, q, userID); err != nil {
		return nil, err
	}
	return out, nil
}
