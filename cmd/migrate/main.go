// Command migrate runs database migrations via goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # Apply all pending migrations
//	go run ./cmd/migrate down        # Roll back the last migration
//	go run ./cmd/migrate status      # Show migration status
//	go run ./cmd/migrate version     # Show current schema version
//	go run ./cmd/migrate redo        # Roll back and re-apply last migration
//	go run ./cmd/migrate seed-network-scores scores.csv
//	                                 # Upsert a user_id,network_risk_score CSV
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/securewatch/securewatch/internal/signals"
	"github.com/securewatch/securewatch/migrations"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>, seed-network-scores <csv>")
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	command := os.Args[1]
	args := os.Args[2:]

	if command == "seed-network-scores" {
		if len(args) != 1 {
			log.Fatal("seed-network-scores needs a CSV path")
		}
		if err := seed(ctx, db, args[0]); err != nil {
			log.Fatalf("Seed failed: %v", err)
		}
		return
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}
	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}

func seed(ctx context.Context, db *sql.DB, path string) error {
	scores, err := signals.LoadNetworkScoresFile(path)
	if err != nil {
		return err
	}
	n, err := signals.NewPostgresStore(db).Import(ctx, scores)
	if err != nil {
		return err
	}
	log.Printf("Imported %d network scores from %s", n, path)
	return nil
}
