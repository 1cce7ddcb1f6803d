package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

var (
	accessSecret  = []byte("access-secret-for-tests")
	refreshSecret = []byte("refresh-secret-for-tests")
	alice         = entity.Identity{ID: 7, Username: "alice", Email: "alice@example.com"}
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCodec_SignVerifyRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	c := NewCodec().WithClock(fixedClock(now))

	raw, exp, err := c.Sign(alice, accessSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("exp = %v, want %v", exp, now.Add(15*time.Minute))
	}

	claims, err := c.Verify(raw, accessSecret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Identity() != alice {
		t.Errorf("identity = %+v, want %+v", claims.Identity(), alice)
	}
	if claims.Subject != "7" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if id, err := claims.UserID(); err != nil || id != 7 {
		t.Errorf("UserID() = %d, %v", id, err)
	}
	if claims.RegisteredClaims.ID == "" {
		t.Error("expected a jti")
	}
	if !claims.IssuedAt.Time.Equal(now) {
		t.Errorf("iat = %v, want %v", claims.IssuedAt.Time, now)
	}
}

func TestCodec_SameSecondTokensDiffer(t *testing.T) {
	c := NewCodec().WithClock(fixedClock(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)))
	a, _, err := c.Sign(alice, refreshSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, _, err := c.Sign(alice, refreshSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if a == b {
		t.Error("tokens minted in the same second must differ")
	}
}

func TestCodec_Expired(t *testing.T) {
	issued := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	c := NewCodec().WithClock(fixedClock(issued))
	raw, _, err := c.Sign(alice, accessSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	late := c.WithClock(fixedClock(issued.Add(16 * time.Minute)))
	if _, err := late.Verify(raw, accessSecret); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	early := c.WithClock(fixedClock(issued.Add(14 * time.Minute)))
	if _, err := early.Verify(raw, accessSecret); err != nil {
		t.Errorf("expected valid token before expiry, got %v", err)
	}
}

func TestCodec_SecretsAreNotInterchangeable(t *testing.T) {
	c := NewCodec()
	raw, _, err := c.Sign(alice, refreshSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := c.Verify(raw, accessSecret); !errors.Is(err, ErrInvalid) {
		t.Errorf("refresh token verified with access secret: %v", err)
	}
}

func TestCodec_RejectsTampering(t *testing.T) {
	c := NewCodec()
	raw, _, err := c.Sign(alice, accessSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parts := strings.Split(raw, ".")
	// swap in the payload of a token for another user
	other, _, _ := c.Sign(entity.Identity{ID: 8, Username: "bob", Email: "bob@example.com"}, accessSecret, time.Hour)
	parts[1] = strings.Split(other, ".")[1]
	forged := strings.Join(parts, ".")

	inputs := []string{"", "garbage", "a.b.c", forged}
	for _, in := range inputs {
		if _, err := c.Verify(in, accessSecret); !errors.Is(err, ErrInvalid) {
			t.Errorf("Verify(%q) = %v, want ErrInvalid", in, err)
		}
	}
}

func TestCodec_RejectsOtherAlgorithms(t *testing.T) {
	c := NewCodec()
	claims := Claims{
		ID: 7, Username: "alice", Email: "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(accessSecret)
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if _, err := c.Verify(hs512, accessSecret); !errors.Is(err, ErrInvalid) {
		t.Errorf("HS512 token accepted: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.Verify(none, accessSecret); !errors.Is(err, ErrInvalid) {
		t.Errorf("unsigned token accepted: %v", err)
	}
}

func TestCodec_SubjectMustMatchID(t *testing.T) {
	c := NewCodec()
	claims := Claims{
		ID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "8",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(accessSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := c.Verify(raw, accessSecret); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for mismatched subject, got %v", err)
	}
}

func TestCodec_EmptySecret(t *testing.T) {
	if _, _, err := NewCodec().Sign(alice, nil, time.Minute); err == nil {
		t.Error("expected error for empty secret")
	}
}
