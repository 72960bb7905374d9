package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add scenario and status indices on runs",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario);
			CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_runs_scenario;
			DROP INDEX IF EXISTS idx_runs_status;
		`,
	},
	{
		Version: 2,
		Name:    "Add composite index for endpoint lookups",
		Up: `
			-- GetEndpoints orders by request volume within a run
			CREATE INDEX IF NOT EXISTS idx_run_endpoints_volume ON run_endpoints(run_id, num_requests DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_run_endpoints_volume;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	-- One row per finished load test
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scenario TEXT NOT NULL,
		host TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		users INTEGER NOT NULL DEFAULT 0,
		spawn_rate REAL NOT NULL DEFAULT 0,
		workers INTEGER NOT NULL DEFAULT 0,
		total_requests INTEGER NOT NULL DEFAULT 0,
		total_failures INTEGER NOT NULL DEFAULT 0,
		avg_ms REAL DEFAULT 0,
		min_ms REAL DEFAULT 0,
		max_ms REAL DEFAULT 0,
		median_ms REAL DEFAULT 0,
		p95_ms REAL DEFAULT 0,
		p99_ms REAL DEFAULT 0,
		rps REAL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

	-- Per-endpoint stats of a run
	CREATE TABLE IF NOT EXISTS run_endpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		method TEXT NOT NULL,
		name TEXT NOT NULL,
		num_requests INTEGER NOT NULL DEFAULT 0,
		num_failures INTEGER NOT NULL DEFAULT 0,
		avg_ms REAL DEFAULT 0,
		min_ms REAL DEFAULT 0,
		max_ms REAL DEFAULT 0,
		median_ms REAL DEFAULT 0,
		p95_ms REAL DEFAULT 0,
		p99_ms REAL DEFAULT 0,
		rps REAL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_endpoints_run_id ON run_endpoints(run_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}
		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
