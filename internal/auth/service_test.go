package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "A@X.com", "alice", "Abc123!")
	if u.ID == 0 || u.Email != "a@x.com" || u.Username != "alice" || u.Locked {
		t.Fatalf("unexpected user: %+v", u)
	}

	stored, err := f.users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.PasswordHash == "Abc123!" || stored.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
}

func TestRegister_DuplicateEmailCreatesNoRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "alice", "Abc123!")

	_, err := f.mgr.Register(ctx, RegisterRequest{Email: "a@x.com", Username: "alice2", Password: "Abc123!"})
	assertKind(t, err, KindConflict, MsgEmailExists)

	_, err = f.mgr.Register(ctx, RegisterRequest{Email: "A@x.COM", Username: "alice3", Password: "Abc123!"})
	assertKind(t, err, KindConflict, MsgEmailExists)

	var n int
	if err := f.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one user row, got %d", n)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "alice", "Abc123!")

	_, err := f.mgr.Register(context.Background(), RegisterRequest{Email: "b@x.com", Username: "alice", Password: "Abc123!"})
	assertKind(t, err, KindConflict, MsgUsernameExists)
}

type failingUsers struct {
	UserStore
	err error
}

func (s failingUsers) GetByEmail(context.Context, string) (*entity.User, error) {
	return nil, sql.ErrNoRows
}

func (s failingUsers) Create(context.Context, *entity.User) (int64, error) {
	return 0, s.err
}

func TestRegister_StorageFailureIsBadRequest(t *testing.T) {
	cause := errors.New("disk full")
	mgr := NewManager(testConfig(), failingUsers{err: cause}, nil, user.NewArgon2Hasher(lightArgon2), zaptest.NewLogger(t).Sugar())

	_, err := mgr.Register(context.Background(), RegisterRequest{Email: "a@x.com", Username: "alice", Password: "Abc123!"})
	assertKind(t, err, KindBadRequest, MsgRegistrationFailed)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be wrapped")
	}
}

func TestLogin_IssuesTokensAndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "a@x.com", "alice", "Abc123!")

	out := f.login(t, "A@x.com", "Abc123!")
	if out.User.ID != u.ID {
		t.Errorf("user id = %d, want %d", out.User.ID, u.ID)
	}
	if out.AccessToken == "" || out.RefreshToken == "" || out.AccessToken == out.RefreshToken {
		t.Fatal("expected two distinct tokens")
	}
	now := f.clock.Now()
	if !out.AccessExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("access expiry = %v", out.AccessExpiresAt)
	}
	if !out.RefreshExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("refresh expiry = %v", out.RefreshExpiresAt)
	}

	claims, err := f.mgr.Codec().Verify(out.AccessToken, testConfig().AccessSecret)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Identity() != (entity.Identity{ID: u.ID, Username: "alice", Email: "a@x.com"}) {
		t.Errorf("claims identity = %+v", claims.Identity())
	}
	if _, err := f.mgr.Codec().Verify(out.AccessToken, testConfig().RefreshSecret); err == nil {
		t.Error("access token must not verify with the refresh secret")
	}

	s, err := f.sessions.GetByToken(ctx, out.RefreshToken)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.UserID != u.ID || s.UserAgent != "go-test" || s.Device != "go-test" || s.IPAddress != "127.0.0.1" {
		t.Errorf("unexpected session: %+v", s)
	}
	if !s.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("session expiry = %v", s.ExpiresAt)
	}
}

func TestLogin_UnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "alice", "Abc123!")

	_, errUnknown := f.mgr.Login(ctx, LoginInput{Email: "nobody@x.com", Password: "Abc123!"})
	_, errWrong := f.mgr.Login(ctx, LoginInput{Email: "a@x.com", Password: "Wrong123"})

	assertKind(t, errUnknown, KindUnauthorized, MsgInvalidCredentials)
	assertKind(t, errWrong, KindUnauthorized, MsgInvalidCredentials)
	if errUnknown.Error() != errWrong.Error() {
		t.Errorf("failures differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestLogin_LockedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "alice", "Abc123!")
	if err := f.users.SetLocked(ctx, "a@x.com", true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	for _, pw := range []string{"Abc123!", "Wrong123"} {
		_, err := f.mgr.Login(ctx, LoginInput{Email: "a@x.com", Password: pw})
		assertKind(t, err, KindUnauthorized, MsgAccountLocked)
	}
}

func TestLogin_RehashesWeakerHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "a@x.com", "alice", "Abc123!")

	stronger := user.NewArgon2Hasher(user.Argon2Params{Memory: 2048, Iterations: 1, Parallelism: 1})
	mgr := NewManager(testConfig(), f.users, f.sessions, stronger, zaptest.NewLogger(t).Sugar())

	before, _ := f.users.GetByID(ctx, u.ID)
	if !stronger.NeedsRehash(before.PasswordHash) {
		t.Fatal("precondition: stored hash should need a rehash")
	}
	if _, err := mgr.Login(ctx, LoginInput{Email: "a@x.com", Password: "Abc123!"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	after, _ := f.users.GetByID(ctx, u.ID)
	if stronger.NeedsRehash(after.PasswordHash) {
		t.Error("expected hash to be upgraded on login")
	}
	if !stronger.Verify(after.PasswordHash, "Abc123!") {
		t.Error("upgraded hash must still verify")
	}
}

func TestScenario_RegisterLoginRefreshLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "a@x.com", "alice", "Abc123!")
	t1 := f.login(t, "a@x.com", "Abc123!")

	f.clock.Advance(time.Minute)
	t2, err := f.mgr.Refresh(ctx, t1.RefreshToken)
	if err != nil {
		t.Fatalf("refresh T1: %v", err)
	}
	if t2.RefreshToken == t1.RefreshToken || t2.AccessToken == t1.AccessToken {
		t.Fatal("refresh must rotate both tokens")
	}

	_, err = f.mgr.Refresh(ctx, t1.RefreshToken)
	assertKind(t, err, KindUnauthorized, MsgInvalidRefresh)

	if err := f.mgr.Logout(ctx, u.ID, t2.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err = f.mgr.Refresh(ctx, t2.RefreshToken)
	assertKind(t, err, KindUnauthorized, MsgInvalidRefresh)
}

func TestRefresh_UpdatesRowInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "a@x.com", "alice", "Abc123!")
	t1 := f.login(t, "a@x.com", "Abc123!")
	orig, _ := f.sessions.GetByToken(ctx, t1.RefreshToken)

	f.clock.Advance(time.Hour)
	t2, err := f.mgr.Refresh(ctx, t1.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	list, err := f.sessions.ListByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one session row, got %d", len(list))
	}
	got := list[0]
	if got.ID != orig.ID || got.RefreshToken != t2.RefreshToken {
		t.Errorf("expected row %d to hold the new token, got %+v", orig.ID, got)
	}
	now := f.clock.Now()
	if !got.LastUsedAt.Equal(now) || !got.ExpiresAt.Equal(now.Add(7*24*time.Hour)) {
		t.Errorf("timestamps not renewed: last=%v exp=%v", got.LastUsedAt, got.ExpiresAt)
	}
}

func TestRefresh_ExpiredSessionIsReaped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "alice", "Abc123!")
	t1 := f.login(t, "a@x.com", "Abc123!")

	f.clock.Advance(7*24*time.Hour + time.Second)
	_, err := f.mgr.Refresh(ctx, t1.RefreshToken)
	assertKind(t, err, KindUnauthorized, MsgRefreshExpired)

	if _, err := f.sessions.GetByToken(ctx, t1.RefreshToken); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expired session should be deleted, got %v", err)
	}
	_, err = f.mgr.Refresh(ctx, t1.RefreshToken)
	assertKind(t, err, KindUnauthorized, MsgInvalidRefresh)
}

func TestRefresh_RejectsRowsWithBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "a@x.com", "alice", "Abc123!")
	bob := f.register(t, "b@x.com", "bobby", "Abc123!")
	now := f.clock.Now()

	accessForAlice, _, err := f.mgr.Codec().Sign(entity.Identity{ID: alice.ID}, testConfig().AccessSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	refreshForBob, _, err := f.mgr.Codec().Sign(entity.Identity{ID: bob.ID}, testConfig().RefreshSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]string{
		"unsigned":         "not-a-jwt",
		"wrong secret":     accessForAlice,
		"subject mismatch": refreshForBob,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			s := &session.RefreshSession{UserID: alice.ID, RefreshToken: raw, LastUsedAt: now, ExpiresAt: now.Add(time.Hour)}
			if _, err := f.sessions.Create(ctx, s); err != nil {
				t.Fatalf("seed session: %v", err)
			}
			_, err := f.mgr.Refresh(ctx, raw)
			assertKind(t, err, KindUnauthorized, MsgInvalidRefresh)
		})
	}

	_, err = f.mgr.Refresh(ctx, "")
	assertKind(t, err, KindUnauthorized, MsgInvalidRefresh)
}

func TestRefresh_ConcurrentUseHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "alice", "Abc123!")
	t1 := f.login(t, "a@x.com", "Abc123!")

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.mgr.Refresh(ctx, t1.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		if !IsKind(err, KindUnauthorized) {
			t.Errorf("loser should get UNAUTHORIZED, got %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one successful refresh, got %d", wins)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "a@x.com", "alice", "Abc123!")
	bob := f.register(t, "b@x.com", "bobby", "Abc123!")
	tok := f.login(t, "a@x.com", "Abc123!")

	// another user's id cannot remove alice's session
	if err := f.mgr.Logout(ctx, bob.ID, tok.RefreshToken); err != nil {
		t.Fatalf("logout as bob: %v", err)
	}
	if _, err := f.sessions.GetByToken(ctx, tok.RefreshToken); err != nil {
		t.Fatalf("alice's session should survive: %v", err)
	}

	if err := f.mgr.Logout(ctx, alice.ID, tok.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	// idempotent
	if err := f.mgr.Logout(ctx, alice.ID, tok.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := f.mgr.Logout(ctx, alice.ID, ""); err != nil {
		t.Fatalf("empty token logout: %v", err)
	}
}

type untouchableUsers struct {
	UserStore
	t *testing.T
}

func (s untouchableUsers) GetByID(context.Context, int64) (*entity.User, error) {
	s.t.Fatal("store must not be read")
	return nil, nil
}

func (s untouchableUsers) UpdatePassword(context.Context, int64, string) error {
	s.t.Fatal("store must not be written")
	return nil
}

func TestChangePassword_ConflictsBeforeStoreAccess(t *testing.T) {
	mgr := NewManager(testConfig(), untouchableUsers{t: t}, nil, user.NewArgon2Hasher(lightArgon2), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	err := mgr.ChangePassword(ctx, 1, ChangePasswordRequest{CurrentPassword: "Abc123!", NewPassword: "Xyz789!", ConfirmPassword: "Xyz789?"})
	assertKind(t, err, KindConflict, MsgPasswordsMismatch)

	err = mgr.ChangePassword(ctx, 1, ChangePasswordRequest{CurrentPassword: "Abc123!", NewPassword: "Abc123!", ConfirmPassword: "Abc123!"})
	assertKind(t, err, KindConflict, MsgPasswordUnchanged)
}

func TestChangePassword_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "a@x.com", "alice", "Abc123!")

	err := f.mgr.ChangePassword(ctx, u.ID, ChangePasswordRequest{CurrentPassword: "Wrong123", NewPassword: "Xyz789a", ConfirmPassword: "Xyz789a"})
	assertKind(t, err, KindUnauthorized, MsgWrongPassword)

	err = f.mgr.ChangePassword(ctx, u.ID+100, ChangePasswordRequest{CurrentPassword: "Abc123!", NewPassword: "Xyz789a", ConfirmPassword: "Xyz789a"})
	assertKind(t, err, KindUnauthorized, MsgUserNotFound)
}

func TestChangePassword_RevokesEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "a@x.com", "alice", "Abc123!")

	var tokens []string
	for i := 0; i < 3; i++ {
		tokens = append(tokens, f.login(t, "a@x.com", "Abc123!").RefreshToken)
	}

	err := f.mgr.ChangePassword(ctx, u.ID, ChangePasswordRequest{CurrentPassword: "Abc123!", NewPassword: "Xyz789a", ConfirmPassword: "Xyz789a"})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}

	for _, tok := range tokens {
		_, err := f.mgr.Refresh(ctx, tok)
		assertKind(t, err, KindUnauthorized, MsgInvalidRefresh)
	}

	_, err = f.mgr.Login(ctx, LoginInput{Email: "a@x.com", Password: "Abc123!"})
	assertKind(t, err, KindUnauthorized, MsgInvalidCredentials)
	f.login(t, "a@x.com", "Xyz789a")
}

func TestSessions_ListsMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "a@x.com", "alice", "Abc123!")

	first := f.login(t, "a@x.com", "Abc123!")
	f.clock.Advance(time.Minute)
	f.login(t, "a@x.com", "Abc123!")
	f.clock.Advance(time.Minute)
	if _, err := f.mgr.Refresh(ctx, first.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	views, err := f.mgr.Sessions(ctx, u.ID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(views))
	}
	if !views[0].LastUsedAt.Equal(f.clock.Now()) {
		t.Errorf("refreshed session should be listed first, got %+v", views)
	}
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "a@x.com", "alice", "Abc123!")

	got, err := f.mgr.CurrentUser(ctx, u.ID)
	if err != nil || got.ID != u.ID {
		t.Fatalf("current user: %v %v", got, err)
	}
	_, err = f.mgr.CurrentUser(ctx, u.ID+1)
	assertKind(t, err, KindUnauthorized, MsgUnauthorized)

	_ = f.users.SetLocked(ctx, "a@x.com", true)
	_, err = f.mgr.CurrentUser(ctx, u.ID)
	assertKind(t, err, KindUnauthorized, MsgUnauthorized)
}
