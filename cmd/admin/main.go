// Command admin runs schema setup and account lock maintenance against the
// configured database.
//
//	admin migrate
//	admin lock <email>
//	admin unlock <email>
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var errUsage = errors.New("usage: admin [-timeout 30s] migrate | lock <email> | unlock <email>")

func main() {
	_ = godotenv.Load()

	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline for the command")
	flag.Parse()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	// init db
	db, err := database.ConnectX(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, flag.Args(), db, sugar); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		sugar.Errorw("admin command failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, db *sqlx.DB, logger *zap.SugaredLogger) error {
	if len(args) == 0 {
		return errUsage
	}
	users := userrepo.NewUserRepo(db)

	switch args[0] {
	case "migrate":
		if len(args) != 1 {
			return errUsage
		}
		if err := users.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure users: %w", err)
		}
		if err := sessionrepo.NewSessionRepo(db).EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure refresh_sessions: %w", err)
		}
		logger.Infow("schema ready", "driver", db.DriverName())
		return nil
	case "lock", "unlock":
		if len(args) != 2 || args[1] == "" {
			return errUsage
		}
		locked := args[0] == "lock"
		if err := users.SetLocked(ctx, args[1], locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("no user with email %q", args[1])
			}
			return err
		}
		logger.Infow("account lock updated", "email", args[1], "locked", locked)
		return nil
	}
	return errUsage
}
