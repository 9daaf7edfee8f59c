package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		log.Fatalf("Failed to get applied migrations: %v", err)
	}

	files, suffix, err := migrationFiles(*direction)
	if err != nil {
		log.Fatalf("Failed to find migration files: %v", err)
	}

	count := 0
	for _, file := range files {
		version := strings.TrimSuffix(filepath.Base(file), suffix)

		if *direction == "up" && applied[version] {
			continue
		}
		if *direction == "down" && !applied[version] {
			continue
		}
		if *steps > 0 && count >= *steps {
			break
		}

		if err := runMigration(ctx, pool, file, version, *direction); err != nil {
			log.Fatalf("Migration %s failed: %v", version, err)
		}

		fmt.Printf("Applied migration: %s\n", version)
		count++
	}

	if count == 0 {
		fmt.Println("No migrations to apply")
	} else {
		fmt.Printf("Applied %d migration(s)\n", count)
	}
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func migrationFiles(direction string) ([]string, string, error) {
	dir := "migrations"
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		execPath, _ := os.Executable()
		dir = filepath.Join(filepath.Dir(execPath), "migrations")
	}

	suffix := ".up.sql"
	if direction == "down" {
		suffix = ".down.sql"
	}

	files, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	if err != nil {
		return nil, "", err
	}

	sort.Strings(files)
	if direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}
	return files, suffix, nil
}

func runMigration(ctx context.Context, pool *pgxpool.Pool, file, version, direction string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return err
	}

	if direction == "up" {
		_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
	} else {
		_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", version)
	}
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
