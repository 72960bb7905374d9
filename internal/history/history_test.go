package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/studiowebux/swarm/internal/stats"
)

// createTestManager creates a new Manager with in-memory SQLite database for testing
func createTestManager(t *testing.T) *Manager {
	manager, err := NewManager(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func sampleRun(t *testing.T, started time.Time) *Run {
	t.Helper()
	registry := stats.NewRegistryWithClock(func() time.Time { return started })
	for i := 0; i < 10; i++ {
		registry.Log("GET", "Health Check", 20, 15)
	}
	for i := 0; i < 4; i++ {
		registry.Log("POST", "Create Item", 200, 120)
	}
	registry.LogError("POST", "Create Item", "HTTP 500")

	return NewRun(RunMeta{
		Scenario:  "fastapi",
		Host:      "http://localhost:8000",
		Mode:      ModeLocal,
		StartedAt: started,
		Status:    StatusCompleted,
		Users:     20,
		SpawnRate: 5,
	}, registry, started.Add(time.Minute))
}

func TestNewRun(t *testing.T) {
	run := sampleRun(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	if run.TotalRequests != 14 {
		t.Errorf("TotalRequests = %d, want 14", run.TotalRequests)
	}
	if run.TotalFailures != 1 {
		t.Errorf("TotalFailures = %d, want 1", run.TotalFailures)
	}
	if len(run.Endpoints) != 2 {
		t.Fatalf("Endpoints = %d, want 2", len(run.Endpoints))
	}
	if run.Duration() != time.Minute {
		t.Errorf("Duration = %v, want 1m", run.Duration())
	}
	if got := run.FailRatio(); got < 0.071 || got > 0.072 {
		t.Errorf("FailRatio = %v, want ~0.0714", got)
	}
}

func TestManager_SaveAndGetRun(t *testing.T) {
	manager := createTestManager(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := sampleRun(t, started)

	if err := manager.SaveRun(run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if run.ID == 0 {
		t.Fatal("SaveRun() did not set ID")
	}

	got, err := manager.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Scenario != "fastapi" || got.Mode != ModeLocal || got.Status != StatusCompleted {
		t.Errorf("GetRun() = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt == nil || got.Duration() != time.Minute {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
	if len(got.Endpoints) != 2 {
		t.Fatalf("Endpoints = %d, want 2", len(got.Endpoints))
	}
	// busiest endpoint first
	if got.Endpoints[0].Name != "Health Check" || got.Endpoints[0].NumRequests != 10 {
		t.Errorf("first endpoint = %+v", got.Endpoints[0])
	}
	if got.Endpoints[1].NumFailures != 1 {
		t.Errorf("Create Item failures = %d, want 1", got.Endpoints[1].NumFailures)
	}
}

func TestManager_ListRuns(t *testing.T) {
	manager := createTestManager(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := manager.SaveRun(sampleRun(t, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	runs, err := manager.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns(2) = %d runs", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Error("ListRuns() not ordered newest first")
	}
	if runs[0].Endpoints != nil {
		t.Error("ListRuns() should not load endpoints")
	}

	count, err := manager.GetCount()
	if err != nil || count != 3 {
		t.Errorf("GetCount() = %d, %v", count, err)
	}
}

func TestManager_DeleteRun(t *testing.T) {
	manager := createTestManager(t)
	run := sampleRun(t, time.Now().UTC())
	if err := manager.SaveRun(run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	if err := manager.DeleteRun(run.ID); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := manager.GetRun(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() after delete error = %v, want ErrNotFound", err)
	}
	endpoints, err := manager.GetEndpoints(run.ID)
	if err != nil {
		t.Fatalf("GetEndpoints() error = %v", err)
	}
	if len(endpoints) != 0 {
		t.Errorf("endpoints not cascaded: %d left", len(endpoints))
	}
	if err := manager.DeleteRun(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRun() error = %v, want ErrNotFound", err)
	}
}

func TestExport(t *testing.T) {
	run := sampleRun(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "run.json")

	if err := Export(run, path); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var back Run
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if back.Scenario != "fastapi" || len(back.Endpoints) != 2 {
		t.Errorf("exported run = %+v", back)
	}
}
