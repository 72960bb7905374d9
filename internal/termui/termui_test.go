package termui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/swarm/internal/health"
	"github.com/studiowebux/swarm/internal/history"
	"github.com/studiowebux/swarm/internal/seed"
)

func TestWriteJSON_Plain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, `{"a":1}`, false))
	assert.Equal(t, "{\"a\":1}\n", buf.String())
}

func TestWriteJSON_Color(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, `{"a":1}`, true))
	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "a")
}

func TestHealthLines(t *testing.T) {
	r := health.Report{
		Master: health.MasterStatus{Healthy: true, Endpoint: "http://m:8089/stats/requests", State: "running", UserCount: 20},
		Workers: health.WorkerStatus{
			Healthy: true, Checked: true, Connected: 1, Expected: 1,
			Workers: []health.WorkerInfo{{ID: "w1", State: "running", UserCount: 20}},
		},
		Overall: true,
	}
	out := strings.Join(HealthLines(r), "\n")
	assert.Contains(t, out, "Master: ✅ Healthy")
	assert.Contains(t, out, "Workers: ✅ 1/1 connected")
	assert.Contains(t, out, "w1 running users=20")
	assert.Contains(t, out, "Overall: ✅ Healthy")

	down := health.Report{Master: health.MasterStatus{Error: "connection refused"}}
	out = strings.Join(HealthLines(down), "\n")
	assert.Contains(t, out, "Master: ❌ Unhealthy: connection refused")
	assert.Contains(t, out, "Workers: skipped")
	assert.Contains(t, out, "Overall: ❌ Unhealthy")
}

func TestSeedLines(t *testing.T) {
	out := strings.Join(SeedLines(&seed.Result{
		UserExisted:   true,
		Authenticated: true,
		Checks: []seed.Check{
			{Name: "Health", OK: true, Message: "GET http://api/health: 200"},
			{Name: "Users list", OK: false, Message: "GET http://api/users/: 502"},
		},
	}), "\n")
	assert.Contains(t, out, "already exists")
	assert.Contains(t, out, "not a superuser")
	assert.Contains(t, out, "✅ Health: GET http://api/health: 200")
	assert.Contains(t, out, "❌ Users list")

	assert.Contains(t, SeedLines(&seed.Result{LoadTesting: true})[0], "Load testing mode")
}

func sampleRuns() []*history.Run {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []*history.Run{
		{ID: 2, Scenario: "fastapi", Host: "http://api", Status: history.StatusCompleted, StartedAt: start,
			TotalRequests: 200, TotalFailures: 2, AvgMs: 120, RPS: 33.3},
		{ID: 1, Scenario: "mcp-mixed", Host: "http://mcp", Status: history.StatusStopped, StartedAt: start},
	}
}

func TestHistoryTable(t *testing.T) {
	assert.Contains(t, HistoryTable(nil), "No runs")

	out := HistoryTable(sampleRuns())
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SCENARIO")
	assert.Contains(t, lines[1], "fastapi")
	assert.Contains(t, lines[1], "1.00%")
	assert.Contains(t, lines[2], "mcp-mixed")
}

func TestRunDetail(t *testing.T) {
	run := sampleRuns()[0]
	run.Endpoints = []history.Endpoint{{Method: "GET", Name: "/api/v1/health", NumRequests: 150}}
	out := RunDetail(run)
	assert.Contains(t, out, "Run #2: fastapi")
	assert.Contains(t, out, "/api/v1/health")
	assert.Contains(t, out, "200 (2 failed, 1.00%)")
}

func TestFilterRuns(t *testing.T) {
	runs := sampleRuns()
	assert.Len(t, FilterRuns(runs, ""), 2)

	got := FilterRuns(runs, "mcp")
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)

	assert.Empty(t, FilterRuns(runs, "zzz"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
}
