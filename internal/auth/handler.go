package auth

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/ratelimit"
)

const maxBodyBytes = 1 << 20

// Handler exposes the /auth endpoints.
type Handler struct {
	mgr     *Manager
	gate    *Gate
	limiter ratelimit.Limiter
	logger  *zap.SugaredLogger
}

// NewHandler wires the handler. limiter may be nil to disable login throttling.
func NewHandler(mgr *Manager, limiter ratelimit.Limiter, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{mgr: mgr, gate: NewGate(mgr, logger), limiter: limiter, logger: logger}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.RegisterUser)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.Handle("POST /auth/logout", h.gate.Require(http.HandlerFunc(h.Logout)))
	mux.Handle("GET /auth/me", h.gate.Require(http.HandlerFunc(h.Me)))
	mux.Handle("POST /auth/change-password", h.gate.Require(http.HandlerFunc(h.ChangePassword)))
	mux.Handle("GET /auth/sessions", h.gate.Require(http.HandlerFunc(h.Sessions)))
}

// Gate returns the guard used for protected routes so other packages can reuse it.
func (h *Handler) Gate() *Gate { return h.gate }

func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		writeError(w, r, h.logger, validationError(fields))
		return
	}
	u, err := h.mgr.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		writeError(w, r, h.logger, validationError(fields))
		return
	}

	ip := clientIP(r)
	if h.limiter != nil {
		res, err := h.limiter.Check(r.Context(), ip)
		if err != nil {
			// a broken limiter store should not lock everyone out
			h.logger.Warnw("login limiter check failed", "err", err)
		} else if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			writeError(w, r, h.logger, newError(KindTooManyRequests, MsgTooManyAttempts))
			return
		}
	}

	out, err := h.mgr.Login(r.Context(), LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		IPAddress: ip,
	})
	if err != nil {
		if h.limiter != nil && IsKind(err, KindUnauthorized) {
			if hitErr := h.limiter.Hit(r.Context(), ip); hitErr != nil {
				h.logger.Warnw("login limiter hit failed", "err", hitErr)
			}
		}
		writeError(w, r, h.logger, err)
		return
	}
	if h.limiter != nil {
		if err := h.limiter.Reset(r.Context(), ip); err != nil {
			h.logger.Warnw("login limiter reset failed", "err", err)
		}
	}

	h.setTokenCookies(w, &out.TokenPair)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         out.User,
		"accessToken":  out.AccessToken,
		"refreshToken": out.RefreshToken,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshTokenFrom(w, r)
	if !ok {
		return
	}
	pair, err := h.mgr.Refresh(r.Context(), raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.setTokenCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	raw, ok := h.refreshTokenFrom(w, r)
	if !ok {
		return
	}
	if err := h.mgr.Logout(r.Context(), id.ID, raw); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.clearTokenCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": id})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		writeError(w, r, h.logger, validationError(fields))
		return
	}
	if err := h.mgr.ChangePassword(r.Context(), id.ID, req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.clearTokenCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	list, err := h.mgr.Sessions(r.Context(), id.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		writeError(w, r, h.logger, newError(KindBadRequest, MsgInvalidPayload))
		return false
	}
	return true
}

// refreshTokenFrom reads the refresh cookie, falling back to a JSON body.
// An empty body is allowed; the caller decides what a missing token means.
func (h *Handler) refreshTokenFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	if c, err := r.Cookie(RefreshCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	var req RefreshRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		writeError(w, r, h.logger, newError(KindBadRequest, MsgInvalidPayload))
		return "", false
	}
	return req.RefreshToken, true
}

func (h *Handler) setTokenCookies(w http.ResponseWriter, p *TokenPair) {
	cfg := h.mgr.Config()
	http.SetCookie(w, h.cookie(AccessCookie, p.AccessToken, "/", cfg.AccessTTL))
	http.SetCookie(w, h.cookie(RefreshCookie, p.RefreshToken, "/auth", cfg.RefreshTTL))
}

func (h *Handler) clearTokenCookies(w http.ResponseWriter) {
	a := h.cookie(AccessCookie, "", "/", 0)
	a.MaxAge = -1
	rf := h.cookie(RefreshCookie, "", "/auth", 0)
	rf.MaxAge = -1
	http.SetCookie(w, a)
	http.SetCookie(w, rf)
}

func (h *Handler) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	cfg := h.mgr.Config()
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cfg.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
