package auth

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
)

// Development fallbacks. cmd/api logs a warning when either is in use.
const (
	DevAccessSecret  = "dev-access-secret-change-me"
	DevRefreshSecret = "dev-refresh-secret-change-me"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Config is built once at startup and injected into the Manager, Gate and Handler.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	CookieDomain string
	CookieSecure bool

	Argon2 user.Argon2Params

	// names of env vars that fell back to a development default
	Fallbacks []string
}

// ConfigFromEnv reads auth config from environment variables
func ConfigFromEnv() Config {
	cfg := Config{
		AccessTTL:    durationEnv("JWT_ACCESS_TTL", DefaultAccessTTL),
		RefreshTTL:   durationEnv("JWT_REFRESH_TTL", DefaultRefreshTTL),
		CookieDomain: os.Getenv("COOKIE_DOMAIN"),
		CookieSecure: boolEnv("COOKIE_SECURE"),
		Argon2:       user.DefaultArgon2Params,
	}
	if v := os.Getenv("JWT_ACCESS_SECRET"); v != "" {
		cfg.AccessSecret = []byte(v)
	} else {
		cfg.AccessSecret = []byte(DevAccessSecret)
		cfg.Fallbacks = append(cfg.Fallbacks, "JWT_ACCESS_SECRET")
	}
	if v := os.Getenv("JWT_REFRESH_SECRET"); v != "" {
		cfg.RefreshSecret = []byte(v)
	} else {
		cfg.RefreshSecret = []byte(DevRefreshSecret)
		cfg.Fallbacks = append(cfg.Fallbacks, "JWT_REFRESH_SECRET")
	}
	if v, err := strconv.ParseUint(os.Getenv("ARGON2_MEMORY_KIB"), 10, 32); err == nil && v > 0 {
		cfg.Argon2.Memory = uint32(v)
	}
	if v, err := strconv.ParseUint(os.Getenv("ARGON2_ITERATIONS"), 10, 32); err == nil && v > 0 {
		cfg.Argon2.Iterations = uint32(v)
	}
	if v, err := strconv.ParseUint(os.Getenv("ARGON2_PARALLELISM"), 10, 8); err == nil && v > 0 {
		cfg.Argon2.Parallelism = uint8(v)
	}
	return cfg
}

// Validate rejects configurations that would let one secret forge the
// other kind of token.
func (c Config) Validate() error {
	if len(c.AccessSecret) == 0 || len(c.RefreshSecret) == 0 {
		return errors.New("access and refresh secrets must be set")
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return errors.New("access and refresh secrets must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	return nil
}

// ParseDuration accepts time.ParseDuration syntax plus a whole-day form such as "7d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func durationEnv(key string, def time.Duration) time.Duration {
	if d, err := ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}

func boolEnv(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
