// Package testsupport holds fixtures shared by store-backed tests.
package testsupport

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// NewSQLite opens a private in-memory database with both tables created.
// It is closed when the test ends.
func NewSQLite(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := database.ConnectX(database.Config{
		Driver: database.DriverSQLite,
		DSN:    "file::memory:?_pragma=foreign_keys(1)",
	})
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := userrepo.NewUserRepo(db).EnsureTable(ctx); err != nil {
		t.Fatalf("ensure users: %v", err)
	}
	if err := sessionrepo.NewSessionRepo(db).EnsureTable(ctx); err != nil {
		t.Fatalf("ensure refresh_sessions: %v", err)
	}
	return db
}
