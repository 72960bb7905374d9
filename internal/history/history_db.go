package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/migrations"
)

const runColumns = `id, scenario, host, mode, started_at, completed_at, status, users, spawn_rate, workers,
	total_requests, total_failures, COALESCE(avg_ms, 0), COALESCE(min_ms, 0), COALESCE(max_ms, 0),
	COALESCE(median_ms, 0), COALESCE(p95_ms, 0), COALESCE(p99_ms, 0), COALESCE(rps, 0)`

// Manager persists finished runs in SQLite
type Manager struct {
	db *sql.DB
}

// NewManager opens (or creates) the database at dbPath. ":memory:" is
// accepted for tests.
func NewManager(dbPath string) (*Manager, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), config.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// a second connection to :memory: would see an empty database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	// Run database migrations (includes schema initialization)
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// SaveRun inserts run and its endpoints in one transaction and sets run.ID
func (m *Manager) SaveRun(run *Run) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO runs
		(scenario, host, mode, started_at, completed_at, status, users, spawn_rate, workers,
		 total_requests, total_failures, avg_ms, min_ms, max_ms, median_ms, p95_ms, p99_ms, rps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Scenario, run.Host, run.Mode, run.StartedAt, run.CompletedAt, run.Status, run.Users,
		run.SpawnRate, run.Workers, run.TotalRequests, run.TotalFailures, run.AvgMs, run.MinMs,
		run.MaxMs, run.MedianMs, run.P95Ms, run.P99Ms, run.RPS)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if len(run.Endpoints) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO run_endpoints
			(run_id, method, name, num_requests, num_failures, avg_ms, min_ms, max_ms, median_ms, p95_ms, p99_ms, rps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i := range run.Endpoints {
			e := &run.Endpoints[i]
			res, err := stmt.Exec(id, e.Method, e.Name, e.NumRequests, e.NumFailures, e.AvgMs,
				e.MinMs, e.MaxMs, e.MedianMs, e.P95Ms, e.P99Ms, e.RPS)
			if err != nil {
				return fmt.Errorf("failed to insert endpoint %s %s: %w", e.Method, e.Name, err)
			}
			e.RunID = id
			if e.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get last insert id: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	run.ID = id
	return nil
}

// GetRun retrieves a run and its endpoints
func (m *Manager) GetRun(id int64) (*Run, error) {
	row := m.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	run.Endpoints, err = m.GetEndpoints(id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first, without endpoints
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetEndpoints returns the endpoints of a run, busiest first
func (m *Manager) GetEndpoints(runID int64) ([]Endpoint, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, method, name, num_requests, num_failures, COALESCE(avg_ms, 0), COALESCE(min_ms, 0),
		       COALESCE(max_ms, 0), COALESCE(median_ms, 0), COALESCE(p95_ms, 0), COALESCE(p99_ms, 0), COALESCE(rps, 0)
		FROM run_endpoints
		WHERE run_id = ?
		ORDER BY num_requests DESC, name
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.RunID, &e.Method, &e.Name, &e.NumRequests, &e.NumFailures,
			&e.AvgMs, &e.MinMs, &e.MaxMs, &e.MedianMs, &e.P95Ms, &e.P99Ms, &e.RPS); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// DeleteRun deletes a run and its endpoints
func (m *Manager) DeleteRun(id int64) error {
	result, err := m.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// GetCount returns the number of stored runs
func (m *Manager) GetCount() (int, error) {
	var count int
	err := m.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime
	err := s.Scan(&run.ID, &run.Scenario, &run.Host, &run.Mode, &run.StartedAt, &completedAt,
		&run.Status, &run.Users, &run.SpawnRate, &run.Workers, &run.TotalRequests, &run.TotalFailures,
		&run.AvgMs, &run.MinMs, &run.MaxMs, &run.MedianMs, &run.P95Ms, &run.P99Ms, &run.RPS)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}
