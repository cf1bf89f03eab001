// Package main is the entry point for the blobvault database migration tool.
// It manages the metadata schema for both PostgreSQL and SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/app"
	"github.com/prn-tf/blobvault/internal/config"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// configEnv names the environment variable holding the config file path.
const configEnv = "BLOBVAULT_CONFIG"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("blobvault migration tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up", "down", "status":
		if err := runMigration(command); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runMigration(command string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv(configEnv))
	if err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	db, err := app.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	switch command {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	case "down":
		if err := db.Rollback(ctx); err != nil {
			return err
		}
	}

	return printStatus(ctx, db)
}

func printStatus(ctx context.Context, db app.Database) error {
	status, err := db.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-8s %-30s %s\n", "VERSION", "NAME", "STATE")
	for _, m := range status {
		state := "pending"
		if m.Applied {
			state = "applied"
		}
		fmt.Printf("%-8d %-30s %s\n", m.Version, m.Name, state)
	}
	return nil
}

func printUsage() {
	fmt.Println(`blobvault migration tool

Usage:
  blobvault-migrate <command>

Commands:
  up          Apply all pending migrations
  down        Roll back the last applied migration
  status      Show migration status
  version     Print version information
  help        Show this help message

Environment Variables:
  BLOBVAULT_CONFIG             Path to the configuration file
  BLOBVAULT_DATABASE_DRIVER    postgres or sqlite
  BLOBVAULT_DATABASE_PATH      SQLite database file

Examples:
  blobvault-migrate up
  BLOBVAULT_CONFIG=/etc/blobvault/config.yaml blobvault-migrate status
  blobvault-migrate down`)
}
