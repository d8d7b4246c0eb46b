// questmigrate copies quest progress, the reward ledger and reward mail from
// SQLite to PostgreSQL. Rows already present in PostgreSQL are skipped, so
// an interrupted run can be repeated.
//
// Usage:
//
//	go run ./cmd/questmigrate \
//	    -sqlite data/questd.db \
//	    -pg-host localhost \
//	    -pg-port 5432 \
//	    -pg-user quest \
//	    -pg-password quest \
//	    -pg-database quest
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/lawnchairsociety/questengine/internal/database"
)

func main() {
	sqlitePath := flag.String("sqlite", "data/questd.db", "Path to SQLite database")
	pgHost := flag.String("pg-host", "localhost", "PostgreSQL host")
	pgPort := flag.Int("pg-port", 5432, "PostgreSQL port")
	pgUser := flag.String("pg-user", "quest", "PostgreSQL user")
	pgPassword := flag.String("pg-password", "quest", "PostgreSQL password")
	pgDatabase := flag.String("pg-database", "quest", "PostgreSQL database name")
	pgSSLMode := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode")
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	flag.Parse()

	log.Println("SQLite to PostgreSQL Migration Tool")
	log.Println("====================================")

	log.Printf("Opening SQLite database: %s", *sqlitePath)
	src, err := database.OpenWithConfig(database.Config{Driver: "sqlite", SQLitePath: *sqlitePath})
	if err != nil {
		log.Fatalf("Failed to open SQLite database: %v", err)
	}
	defer src.Close()

	// Opening runs the schema migrations, so the target tables exist.
	log.Printf("Opening PostgreSQL database: %s@%s:%d/%s", *pgUser, *pgHost, *pgPort, *pgDatabase)
	dst, err := database.OpenWithConfig(database.Config{
		Driver: "postgres",
		Postgres: database.PostgresConfig{
			Host:     *pgHost,
			Port:     *pgPort,
			User:     *pgUser,
			Password: *pgPassword,
			Database: *pgDatabase,
			SSLMode:  *pgSSLMode,
		},
	})
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL database: %v", err)
	}
	defer dst.Close()

	if *dryRun {
		log.Println("DRY RUN MODE - No changes will be made")
	}

	start := time.Now()
	results, err := src.CopyTo(context.Background(), dst, *dryRun)
	for _, r := range results {
		log.Printf("  %-16s read %6d  written %6d", r.Table, r.Read, r.Written)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("====================================")
	log.Printf("Migration complete in %s", time.Since(start).Round(time.Millisecond))
}
