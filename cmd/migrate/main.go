// Command migrate manages the tracker database schema.
//
// Usage:
//
//	migrate [flags] up          apply every pending migration
//	migrate [flags] down [n]    roll back the last n migrations (default 1)
//	migrate [flags] redo        roll back one migration and reapply it
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cargolink/tracker/internal/infra/persistence/migrations"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", os.Getenv("TRACKER_DATABASE_URL"), "PostgreSQL connection string (defaults to TRACKER_DATABASE_URL)")
	dir := fs.String("dir", envOr("TRACKER_MIGRATIONS_DIR", "db/migrations"), "directory holding the SQL migration files")
	wait := fs.Duration("wait", 30*time.Second, "how long to wait for the database before giving up")
	silent := fs.Bool("silent", false, "only report errors")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: migrate [flags] up | down [n] | redo\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv); err != nil {
		return err
	}

	if strings.TrimSpace(*dsn) == "" {
		return errors.New("no database configured: set -dsn or TRACKER_DATABASE_URL")
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	var logger *log.Logger
	if !*silent {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	switch command := args[0]; command {
	case "up":
		return migrations.Apply(ctx, *dsn, *dir, logger)
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("down expects a positive step count, got %q", args[1])
			}
			steps = n
		}
		return migrations.Rollback(ctx, *dsn, *dir, steps, logger)
	case "redo":
		if err := migrations.Rollback(ctx, *dsn, *dir, 1, logger); err != nil {
			return err
		}
		return migrations.Apply(ctx, *dsn, *dir, logger)
	default:
		return fmt.Errorf("unknown command %q (want up, down, or redo)", command)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
