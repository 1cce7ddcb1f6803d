package main

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testsupport"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	db := testsupport.NewSQLite(t)
	logger := zaptest.NewLogger(t).Sugar()

	// tables already exist; migrate must be idempotent
	if err := run(ctx, []string{"migrate"}, db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := userrepo.NewUserRepo(db)
	u := &entity.User{Email: "a@x.com", Username: "alice", PasswordHash: "h"}
	if _, err := users.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := run(ctx, []string{"lock", "A@x.com"}, db, logger); err != nil {
		t.Fatalf("lock: %v", err)
	}
	got, _ := users.GetByID(ctx, u.ID)
	if !got.Locked {
		t.Error("expected locked")
	}
	if err := run(ctx, []string{"unlock", "a@x.com"}, db, logger); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	got, _ = users.GetByID(ctx, u.ID)
	if got.Locked {
		t.Error("expected unlocked")
	}

	if err := run(ctx, []string{"lock", "missing@x.com"}, db, logger); err == nil {
		t.Error("expected error for unknown email")
	}
}

func TestRun_Usage(t *testing.T) {
	db := testsupport.NewSQLite(t)
	logger := zaptest.NewLogger(t).Sugar()
	for _, args := range [][]string{nil, {"bogus"}, {"lock"}, {"migrate", "extra"}} {
		if err := run(context.Background(), args, db, logger); !errors.Is(err, errUsage) {
			t.Errorf("run(%v) = %v, want usage error", args, err)
		}
	}
}
