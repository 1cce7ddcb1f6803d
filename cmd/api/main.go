package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go")

	authCfg := auth.ConfigFromEnv()
	for _, key := range authCfg.Fallbacks {
		sugar.Warnw("using development fallback secret; set it before deploying", "env", key)
	}
	if err := authCfg.Validate(); err != nil {
		sugar.Fatalf("auth config: %v", err)
	}

	// init db
	dbCfg := database.ConfigFromEnv()
	db, err := database.ConnectX(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	sugar.Infow("database connected", "driver", dbCfg.Driver)

	users := userrepo.NewUserRepo(db)
	sessions := sessionrepo.NewSessionRepo(db)
	if dbCfg.Driver == database.DriverSQLite {
		// local runs: no separate migrate step
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ensureSchema(ctx, users, sessions); err != nil {
			cancel()
			sugar.Fatalf("ensure schema: %v", err)
		}
		cancel()
	}

	checks := map[string]router.Pinger{"db": db}
	limCfg := ratelimit.ConfigFromEnv()
	var limiter ratelimit.Limiter
	if limCfg.RedisURL != "" {
		rl, err := ratelimit.NewRedisLimiter(limCfg.RedisURL, limCfg.Max, limCfg.Window)
		if err != nil {
			sugar.Fatalf("redis connect: %v", err)
		}
		defer rl.Close()
		limiter = rl
		checks["redis"] = router.PingFunc(rl.Ping)
		sugar.Info("login throttle backed by redis")
	} else {
		limiter = ratelimit.NewMemoryLimiter(limCfg.Max, limCfg.Window)
		sugar.Info("login throttle in memory")
	}

	mgr := auth.NewManager(authCfg, users, sessions, user.NewArgon2Hasher(authCfg.Argon2), sugar)
	handler := router.RegisterRoutes(sugar, router.Deps{
		Auth:   auth.NewHandler(mgr, limiter, sugar),
		Checks: checks,
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	// ping db once more
	if err := db.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

func ensureSchema(ctx context.Context, users *userrepo.UserRepo, sessions *sessionrepo.SessionRepo) error {
	if err := users.EnsureTable(ctx); err != nil {
		return fmt.Errorf("users: %w", err)
	}
	if err := sessions.EnsureTable(ctx); err != nil {
		return fmt.Errorf("refresh_sessions: %w", err)
	}
	return nil
}
