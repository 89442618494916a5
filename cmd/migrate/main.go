package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"classdesk.org/db"
	"classdesk.org/internal/migrate"
	"classdesk.org/internal/obs"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("DATABASE_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	logger := obs.NewLogger("classdesk-migrate", "", "text", os.Getenv("LOG_LEVEL"), os.Stderr)

	if *dsn == "" {
		logger.Error("missing DSN: provide via -dsn or DATABASE_DSN")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status]")
		os.Exit(2)
	}

	if err := run(*dsn, flag.Arg(0), *timeout, logger); err != nil {
		logger.Error("migrate failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(dsn, command string, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer conn.Close()

	mgr, err := migrate.NewManager(conn, db.FS, db.MigrationsDir, db.SeedsDir, migrate.WithLogger(logger))
	if err != nil {
		return err
	}

	switch command {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", len(applied))
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		logger.Info("migration rolled back", "name", name)
	case "seed":
		applied, err := mgr.Seed(ctx)
		if err != nil {
			return err
		}
		logger.Info("seeds applied", "count", len(applied))
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
