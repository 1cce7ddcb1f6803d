package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

// UserStore is the slice of the user repository the Manager needs.
type UserStore interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
}

// SessionStore is the slice of the refresh session repository the Manager needs.
type SessionStore interface {
	Create(ctx context.Context, s *session.RefreshSession) (int64, error)
	GetByToken(ctx context.Context, token string) (*session.RefreshSession, error)
	Rotate(ctx context.Context, id int64, oldToken string, next *session.RefreshSession) (bool, error)
	Delete(ctx context.Context, id int64) error
	DeleteByUserAndToken(ctx context.Context, userID int64, token string) (int64, error)
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]session.RefreshSession, error)
}

// LoginInput carries credentials and the client details recorded on the session.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// TokenPair is a freshly minted access + refresh token.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type LoginResult struct {
	User entity.PublicUser `json:"user"`
	TokenPair
}

// Manager owns registration, login, refresh rotation, logout and password
// change. It is the only writer of refresh sessions.
type Manager struct {
	cfg      Config
	users    UserStore
	sessions SessionStore
	hasher   user.PasswordHasher
	codec    *token.Codec
	now      func() time.Time
	logger   *zap.SugaredLogger

	dummyOnce sync.Once
	dummyHash string
}

func NewManager(cfg Config, users UserStore, sessions SessionStore, hasher user.PasswordHasher, logger *zap.SugaredLogger) *Manager {
	if hasher == nil {
		hasher = user.NewArgon2Hasher(cfg.Argon2)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		codec:    token.NewCodec(),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the time source for session bookkeeping and token claims.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
	m.codec = m.codec.WithClock(now)
}

// Codec exposes the token codec so the Gate verifies with the same clock.
func (m *Manager) Codec() *token.Codec { return m.codec }

func (m *Manager) Config() Config { return m.cfg }

// Register creates an unlocked user. Duplicate email or username is a
// CONFLICT; any other storage failure is reported as BAD_REQUEST.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (entity.PublicUser, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	_, err := m.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return entity.PublicUser{}, newError(KindConflict, MsgEmailExists)
	case !errors.Is(err, sql.ErrNoRows):
		m.logger.Warnw("register lookup failed", "err", err)
		return entity.PublicUser{}, wrapError(KindBadRequest, MsgRegistrationFailed, err)
	}

	hash, err := m.hasher.Hash(req.Password)
	if err != nil {
		return entity.PublicUser{}, fmt.Errorf("hash password: %w", err)
	}

	now := m.now().UTC()
	u := &entity.User{
		Email:        email,
		Username:     strings.TrimSpace(req.Username),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := m.users.Create(ctx, u); err != nil {
		switch {
		case errors.Is(err, userrepo.ErrDuplicateEmail):
			return entity.PublicUser{}, newError(KindConflict, MsgEmailExists)
		case errors.Is(err, userrepo.ErrDuplicateUsername):
			return entity.PublicUser{}, newError(KindConflict, MsgUsernameExists)
		}
		m.logger.Warnw("register insert failed", "err", err)
		return entity.PublicUser{}, wrapError(KindBadRequest, MsgRegistrationFailed, err)
	}
	m.logger.Infow("user registered", "user_id", u.ID)
	return u.Public(), nil
}

// Login authenticates by email and password and opens a new refresh session.
func (m *Manager) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	u, err := m.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// same Argon2 cost as a wrong password
			m.hasher.Verify(m.dummy(), in.Password)
			return nil, newError(KindUnauthorized, MsgInvalidCredentials)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.Locked {
		m.logger.Infow("login refused for locked account", "user_id", u.ID)
		return nil, newError(KindUnauthorized, MsgAccountLocked)
	}
	if !m.hasher.Verify(u.PasswordHash, in.Password) {
		return nil, newError(KindUnauthorized, MsgInvalidCredentials)
	}

	now := m.now().UTC()
	pair, err := m.issue(u.Identity())
	if err != nil {
		return nil, err
	}
	s := &session.RefreshSession{
		UserID:       u.ID,
		RefreshToken: pair.RefreshToken,
		UserAgent:    in.UserAgent,
		IPAddress:    in.IPAddress,
		Device:       in.UserAgent,
		LastUsedAt:   now,
		ExpiresAt:    now.Add(m.cfg.RefreshTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := m.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if m.hasher.NeedsRehash(u.PasswordHash) {
		if hash, err := m.hasher.Hash(in.Password); err != nil {
			m.logger.Warnw("rehash failed", "user_id", u.ID, "err", err)
		} else if err := m.users.UpdatePassword(ctx, u.ID, hash); err != nil {
			m.logger.Warnw("rehash store failed", "user_id", u.ID, "err", err)
		} else {
			m.logger.Infow("password rehashed", "user_id", u.ID)
		}
	}

	m.logger.Infow("login succeeded", "user_id", u.ID, "session_id", s.ID)
	return &LoginResult{User: u.Public(), TokenPair: *pair}, nil
}

// Refresh rotates raw into a new token pair. The session row is updated in
// place; when two refreshes race on the same token only one rotation applies
// and the other caller gets "Invalid refresh token".
func (m *Manager) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	if raw == "" {
		return nil, newError(KindUnauthorized, MsgInvalidRefresh)
	}
	s, err := m.sessions.GetByToken(ctx, raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(KindUnauthorized, MsgInvalidRefresh)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := m.now().UTC()
	if s.Expired(now) {
		m.expire(ctx, s)
		return nil, newError(KindUnauthorized, MsgRefreshExpired)
	}

	claims, err := m.codec.Verify(raw, m.cfg.RefreshSecret)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			m.expire(ctx, s)
			return nil, newError(KindUnauthorized, MsgRefreshExpired)
		}
		m.logger.Warnw("refresh token failed verification", "session_id", s.ID, "err", err)
		return nil, newError(KindUnauthorized, MsgInvalidRefresh)
	}
	if uid, err := claims.UserID(); err != nil || uid != s.UserID {
		m.logger.Warnw("refresh token subject mismatch", "session_id", s.ID)
		return nil, newError(KindUnauthorized, MsgInvalidRefresh)
	}

	pair, err := m.issue(claims.Identity())
	if err != nil {
		return nil, err
	}
	next := &session.RefreshSession{
		RefreshToken: pair.RefreshToken,
		LastUsedAt:   now,
		ExpiresAt:    now.Add(m.cfg.RefreshTTL),
	}
	ok, err := m.sessions.Rotate(ctx, s.ID, raw, next)
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	if !ok {
		m.logger.Infow("refresh lost rotation race", "session_id", s.ID)
		return nil, newError(KindUnauthorized, MsgInvalidRefresh)
	}
	m.logger.Debugw("session rotated", "session_id", s.ID, "user_id", s.UserID)
	return pair, nil
}

// Logout deletes the session holding raw if it belongs to userID. Deleting
// nothing is not an error.
func (m *Manager) Logout(ctx context.Context, userID int64, raw string) error {
	if raw == "" {
		return nil
	}
	n, err := m.sessions.DeleteByUserAndToken(ctx, userID, raw)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.logger.Infow("logout", "user_id", userID, "deleted", n)
	return nil
}

// ChangePassword replaces the user's password and revokes every session.
// Confirmation and reuse checks run before the store is touched.
func (m *Manager) ChangePassword(ctx context.Context, userID int64, req ChangePasswordRequest) error {
	if req.NewPassword != req.ConfirmPassword {
		return newError(KindConflict, MsgPasswordsMismatch)
	}
	if req.CurrentPassword == req.NewPassword {
		return newError(KindConflict, MsgPasswordUnchanged)
	}

	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(KindUnauthorized, MsgUserNotFound)
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !m.hasher.Verify(u.PasswordHash, req.CurrentPassword) {
		return newError(KindUnauthorized, MsgWrongPassword)
	}

	hash, err := m.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := m.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(KindUnauthorized, MsgUserNotFound)
		}
		return fmt.Errorf("update password: %w", err)
	}
	n, err := m.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	m.logger.Infow("password changed", "user_id", userID, "sessions_revoked", n)
	return nil
}

// Sessions lists the user's sessions, most recently used first.
func (m *Manager) Sessions(ctx context.Context, userID int64) ([]session.View, error) {
	rows, err := m.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]session.View, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].View())
	}
	return out, nil
}

// CurrentUser re-loads the user for the Gate. Missing or locked users are
// reported as UNAUTHORIZED with a generic message.
func (m *Manager) CurrentUser(ctx context.Context, userID int64) (*entity.User, error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(KindUnauthorized, MsgUnauthorized)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.Locked {
		return nil, newError(KindUnauthorized, MsgUnauthorized)
	}
	return u, nil
}

func (m *Manager) issue(id entity.Identity) (*TokenPair, error) {
	access, accessExp, err := m.codec.Sign(id, m.cfg.AccessSecret, m.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := m.codec.Sign(id, m.cfg.RefreshSecret, m.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// expire reaps an expired session; failure only costs a later retry.
func (m *Manager) expire(ctx context.Context, s *session.RefreshSession) {
	if err := m.sessions.Delete(ctx, s.ID); err != nil {
		m.logger.Warnw("expired session delete failed", "session_id", s.ID, "err", err)
		return
	}
	m.logger.Debugw("expired session removed", "session_id", s.ID)
}

func (m *Manager) dummy() string {
	m.dummyOnce.Do(func() {
		h, err := m.hasher.Hash("dummy-password-for-timing")
		if err != nil {
			m.logger.Warnw("dummy hash failed", "err", err)
		}
		m.dummyHash = h
	})
	return m.dummyHash
}
