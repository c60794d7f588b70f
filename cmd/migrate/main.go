// Command migrate applies the SQL files under db/migrations in name
// order. Files carry goose Up/Down markers; only the Up section runs.
// Applied versions are recorded in schema_migrations so reruns are safe.
package main

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	database "github.com/reelworks/reel-backend/internal"
)

func main() {
	// same env-driven pool the server uses
	database.Connect()
	ensureMigrationsTable()

	migDir := filepath.Join("db", "migrations")
	files := collectSQLFiles(migDir)
	if len(files) == 0 {
		log.Printf("no migration files under %s, nothing to do", migDir)
		return
	}

	applied := appliedMigrations()
	for _, f := range files {
		name := filepath.Base(f)
		if applied[name] {
			continue
		}
		upSQL, err := extractGooseUp(f)
		if err != nil {
			log.Fatalf("migrate: reading %s: %v", name, err)
		}
		if strings.TrimSpace(upSQL) == "" {
			log.Printf("migrate: %s has an empty Up section, marking applied", name)
			markApplied(name)
			continue
		}
		log.Printf("migrate: applying %s", name)
		if err := execStatements(upSQL); err != nil {
			log.Fatalf("migrate: %s failed: %v", name, err)
		}
		markApplied(name)
	}
	log.Println("migrate: schema up to date")
}

func ensureMigrationsTable() {
	_, err := database.DB.Exec(`
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version TEXT PRIMARY KEY,
            applied_at timestamptz NOT NULL DEFAULT now()
        )
    `)
	if err != nil {
		log.Fatalf("migrate: ensuring schema_migrations: %v", err)
	}
}

func appliedMigrations() map[string]bool {
	rows, err := database.DB.Queryx("SELECT version FROM schema_migrations")
	if err != nil {
		log.Fatalf("migrate: reading schema_migrations: %v", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			log.Fatalf("migrate: scanning version: %v", err)
		}
		applied[v] = true
	}
	return applied
}

func markApplied(version string) {
	_, err := database.DB.Exec("INSERT INTO schema_migrations(version, applied_at) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING", version, time.Now())
	if err != nil {
		log.Fatalf("migrate: recording %s: %v", version, err)
	}
}

func collectSQLFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// extractGooseUp returns the SQL between "-- +goose Up" and "-- +goose
// Down" (or end of file). A file without markers runs whole.
func extractGooseUp(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(b)
	lower := strings.ToLower(content)
	upIdx := strings.Index(lower, "-- +goose up")
	if upIdx == -1 {
		return content, nil
	}
	rest := content[upIdx:]
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}
	if downIdx := strings.Index(strings.ToLower(rest), "-- +goose down"); downIdx != -1 {
		rest = rest[:downIdx]
	}
	return rest, nil
}

// execStatements runs the Up section statement by statement. Splitting on
// ';' is enough for the DDL in this repo. "already exists" class errors
// are tolerated so a partially applied file can be rerun.
func execStatements(sql string) error {
	for _, raw := range strings.Split(sql, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := database.DB.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate") {
				log.Printf("migrate: skipping %q: %v", truncate(stmt), err)
				continue
			}
			return fmt.Errorf("statement failed: %v", err)
		}
	}
	return nil
}

func truncate(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
