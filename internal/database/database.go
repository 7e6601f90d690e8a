package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"zonemarket/internal/config"
	"zonemarket/internal/logger"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema version tracking:
// 1 - initial marketplace schema
const currentSchemaVersion = 1

// Init opens the configured database and applies the schema.
func Init(cfg config.Config) (*sql.DB, error) {
	db, err := Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := Migrate(context.Background(), db, cfg.DBDriver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects to driver ("mysql" or "sqlite3") and verifies the connection.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "mysql", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite は書き込みが1本なので接続を1つに絞る
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("execute %q: %w", pragma, err)
			}
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}

// Migrate creates missing tables and records the schema version. It is
// idempotent.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	raw, err := schemaFS.ReadFile("schema/" + schemaFile(driver))
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	for _, stmt := range splitStatements(string(raw)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	version, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if version < currentSchemaVersion {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			currentSchemaVersion, time.Now().UTC()); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		logger.Infof("[database] ✅ Schema migrated to version %d", currentSchemaVersion)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version, 0 when none.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return int(version.Int64), nil
}

func schemaFile(driver string) string {
	if driver == "sqlite3" {
		return "sqlite.sql"
	}
	return "mysql.sql"
}

// splitStatements splits a schema file on ';' line endings and drops
// comment-only lines. The MySQL driver runs one statement per Exec unless
// multiStatements is enabled.
func splitStatements(src string) []string {
	var lines []string
	for _, ln := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(ln), "--") {
			continue
		}
		lines = append(lines, ln)
	}

	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
