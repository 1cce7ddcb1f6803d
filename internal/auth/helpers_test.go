package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testsupport"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

var lightArgon2 = user.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}

func testConfig() Config {
	return Config{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     DefaultAccessTTL,
		RefreshTTL:    DefaultRefreshTTL,
		Argon2:        lightArgon2,
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db       *sqlx.DB
	mgr      *Manager
	users    *userrepo.UserRepo
	sessions *sessionrepo.SessionRepo
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testsupport.NewSQLite(t)
	f := &fixture{
		db:       db,
		users:    userrepo.NewUserRepo(db),
		sessions: sessionrepo.NewSessionRepo(db),
		clock:    &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.mgr = NewManager(testConfig(), f.users, f.sessions, user.NewArgon2Hasher(lightArgon2), zaptest.NewLogger(t).Sugar())
	f.mgr.SetClock(f.clock.Now)
	return f
}

func (f *fixture) register(t *testing.T, email, username, password string) entity.PublicUser {
	t.Helper()
	u, err := f.mgr.Register(context.Background(), RegisterRequest{Email: email, Username: username, Password: password})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func (f *fixture) login(t *testing.T, email, password string) *LoginResult {
	t.Helper()
	out, err := f.mgr.Login(context.Background(), LoginInput{Email: email, Password: password, UserAgent: "go-test", IPAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return out
}

func assertKind(t *testing.T, err error, kind Kind, msg string) {
	t.Helper()
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error %s(%q), got %T %v", kind, msg, err, err)
	}
	if e.Kind != kind || e.Message != msg {
		t.Fatalf("expected %s(%q), got %s(%q)", kind, msg, e.Kind, e.Message)
	}
}
