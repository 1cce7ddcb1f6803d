// Package token signs and verifies the HS256 access and refresh tokens.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var (
	ErrInvalid = errors.New("token invalid")
	ErrExpired = errors.New("token expired")
)

// Claims carries the identity plus the registered claims (sub, iat, exp, jti).
type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() entity.Identity {
	return entity.Identity{ID: c.ID, Username: c.Username, Email: c.Email}
}

// Codec is safe for concurrent use.
type Codec struct {
	now   func() time.Time
	newID func() string
}

func NewCodec() *Codec {
	return &Codec{now: time.Now, newID: utilities.NewSnowflakeID}
}

// WithClock returns a copy of the codec that reads time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Sign issues a token for id that expires ttl from now. The returned time
// is the exp claim as encoded (second precision).
func (c *Codec) Sign(id entity.Identity, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("empty signing secret")
	}
	now := c.now()
	claims := Claims{
		ID:       id.ID,
		Username: id.Username,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        c.newID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature and expiry of raw. Only HS256 is accepted.
func (c *Codec) Verify(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Subject != strconv.FormatInt(claims.ID, 10) {
		return nil, fmt.Errorf("%w: subject mismatch", ErrInvalid)
	}
	return claims, nil
}

// UserID returns the id the token was issued for, taken from sub.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalid)
	}
	return id, nil
}
