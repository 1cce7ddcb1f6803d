package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

type identityKey struct{}

// IdentityFromContext returns the identity stored by the Gate.
func IdentityFromContext(ctx context.Context) (entity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(entity.Identity)
	return id, ok
}

// WithIdentity stores id in ctx the way the Gate does.
func WithIdentity(ctx context.Context, id entity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Gate guards routes that need a logged-in user. Every request re-loads the
// user so a lock or deletion after issuance takes effect immediately.
type Gate struct {
	mgr    *Manager
	logger *zap.SugaredLogger
}

func NewGate(mgr *Manager, logger *zap.SugaredLogger) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{mgr: mgr, logger: logger}
}

// Require wraps next so it only runs for an authenticated, unlocked user.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := AccessTokenFrom(r)
		if raw == "" {
			writeError(w, r, g.logger, newError(KindUnauthorized, MsgUnauthorized))
			return
		}
		claims, err := g.mgr.Codec().Verify(raw, g.mgr.Config().AccessSecret)
		if err != nil {
			g.logger.Debugw("access token rejected", "err", err)
			writeError(w, r, g.logger, newError(KindUnauthorized, MsgUnauthorized))
			return
		}
		uid, err := claims.UserID()
		if err != nil {
			writeError(w, r, g.logger, newError(KindUnauthorized, MsgUnauthorized))
			return
		}
		u, err := g.mgr.CurrentUser(r.Context(), uid)
		if err != nil {
			writeError(w, r, g.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), u.Identity())))
	})
}

// AccessTokenFrom prefers the access cookie over an Authorization bearer header.
func AccessTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > len("bearer ") && strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(h[len("bearer "):])
	}
	return ""
}
