package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/stats"
)

// ErrNotFound is returned when a run id does not exist
var ErrNotFound = errors.New("run not found")

// Run statuses
const (
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Run modes
const (
	ModeLocal       = "local"
	ModeDistributed = "distributed"
)

// Run is a finished load test
type Run struct {
	ID            int64      `json:"id"`
	Scenario      string     `json:"scenario"`
	Host          string     `json:"host"`
	Mode          string     `json:"mode"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Status        string     `json:"status"`
	Users         int        `json:"users"`
	SpawnRate     float64    `json:"spawn_rate"`
	Workers       int        `json:"workers"`
	TotalRequests int64      `json:"total_requests"`
	TotalFailures int64      `json:"total_failures"`
	AvgMs         float64    `json:"avg_ms"`
	MinMs         float64    `json:"min_ms"`
	MaxMs         float64    `json:"max_ms"`
	MedianMs      float64    `json:"median_ms"`
	P95Ms         float64    `json:"p95_ms"`
	P99Ms         float64    `json:"p99_ms"`
	RPS           float64    `json:"rps"`

	Endpoints []Endpoint `json:"endpoints,omitempty"`
}

// Endpoint is the stats of one (method, name) pair within a run
type Endpoint struct {
	ID          int64   `json:"-"`
	RunID       int64   `json:"-"`
	Method      string  `json:"method"`
	Name        string  `json:"name"`
	NumRequests int64   `json:"num_requests"`
	NumFailures int64   `json:"num_failures"`
	AvgMs       float64 `json:"avg_ms"`
	MinMs       float64 `json:"min_ms"`
	MaxMs       float64 `json:"max_ms"`
	MedianMs    float64 `json:"median_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
	RPS         float64 `json:"rps"`
}

// FailRatio returns failures over requests, 0 when there were none
func (r *Run) FailRatio() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.TotalFailures) / float64(r.TotalRequests)
}

// Duration returns how long the run lasted
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunMeta describes a run independent of its stats
type RunMeta struct {
	Scenario  string
	Host      string
	Mode      string
	StartedAt time.Time
	Status    string
	Users     int
	SpawnRate float64
	Workers   int
}

// NewRun captures the stats held by registry
func NewRun(meta RunMeta, registry *stats.Registry, completedAt time.Time) *Run {
	total := stats.Summarize(registry.Total())
	run := &Run{
		Scenario:      meta.Scenario,
		Host:          meta.Host,
		Mode:          meta.Mode,
		StartedAt:     meta.StartedAt,
		CompletedAt:   &completedAt,
		Status:        meta.Status,
		Users:         meta.Users,
		SpawnRate:     meta.SpawnRate,
		Workers:       meta.Workers,
		TotalRequests: total.NumRequests,
		TotalFailures: total.NumFailures,
		AvgMs:         total.AvgMs,
		MinMs:         total.MinMs,
		MaxMs:         total.MaxMs,
		MedianMs:      total.MedianMs,
		P95Ms:         total.P95Ms,
		P99Ms:         total.P99Ms,
		RPS:           total.TotalRPS,
	}

	for _, e := range registry.Entries() {
		s := stats.Summarize(e)
		run.Endpoints = append(run.Endpoints, Endpoint{
			Method:      e.Method,
			Name:        e.Name,
			NumRequests: s.NumRequests,
			NumFailures: s.NumFailures,
			AvgMs:       s.AvgMs,
			MinMs:       s.MinMs,
			MaxMs:       s.MaxMs,
			MedianMs:    s.MedianMs,
			P95Ms:       s.P95Ms,
			P99Ms:       s.P99Ms,
			RPS:         s.TotalRPS,
		})
	}
	return run
}

// Export writes run as indented JSON to path
func Export(run *Run, path string) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := os.WriteFile(path, data, config.FilePermissions); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}

	return nil
}
