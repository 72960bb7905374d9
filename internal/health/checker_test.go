package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMaster(t *testing.T, workers string) (*httptest.Server, *int32) {
	t.Helper()
	var statsHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/stats/requests", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&statsHits, 1)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"state":"running","user_count":7,"stats":[]}`))
	})
	mux.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(workers))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &statsHits
}

func TestCheckMaster_Cached(t *testing.T) {
	server, hits := fakeMaster(t, `{"workers":[],"count":0}`)
	c := NewChecker(server.URL+"/", time.Second, 1)

	now := time.Now()
	c.now = func() time.Time { return now }

	first := c.CheckMaster(context.Background())
	assert.True(t, first.Healthy)
	assert.False(t, first.Cached)
	assert.Equal(t, "running", first.State)
	assert.Equal(t, 7, first.UserCount)
	assert.Equal(t, server.URL+"/stats/requests", first.Endpoint)

	second := c.CheckMaster(context.Background())
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	now = now.Add(2 * time.Second)
	third := c.CheckMaster(context.Background())
	assert.False(t, third.Cached)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestCheckMaster_Down(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewChecker(server.URL, time.Second, 1)
	status := c.CheckMaster(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Error, "status code 500")

	// failures are never cached
	assert.False(t, c.CheckMaster(context.Background()).Cached)
}

func TestCheckWorkers(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		expected  int
		healthy   bool
		connected int
	}{
		{"enough workers", `{"workers":[{"id":"a","state":"running","user_count":3},{"id":"b","state":"running","user_count":2}],"count":2}`, 2, true, 2},
		{"too few workers", `{"workers":[{"id":"a","state":"ready","user_count":0}],"count":1}`, 2, false, 1},
		{"no workers expected", `{"workers":[],"count":0}`, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := fakeMaster(t, tt.body)
			c := NewChecker(server.URL, time.Second, tt.expected)
			status := c.CheckWorkers(context.Background())
			assert.Equal(t, tt.healthy, status.Healthy)
			assert.Equal(t, tt.connected, status.Connected)
			assert.Len(t, status.WorkerIDs, tt.connected)
		})
	}
}

func TestFullCheck(t *testing.T) {
	server, _ := fakeMaster(t, `{"workers":[{"id":"w1","state":"running","user_count":1}],"count":1}`)
	c := NewChecker(server.URL, 2*time.Second, 1)

	report := c.FullCheck(context.Background())
	assert.True(t, report.Overall)
	assert.Equal(t, []string{"w1"}, report.Workers.WorkerIDs)
	assert.Equal(t, 2.0, report.Environment.Timeout)
	assert.True(t, c.Healthy(context.Background()))
}

func TestFullCheck_SkipsWorkersWhenMasterDown(t *testing.T) {
	c := NewChecker("http://127.0.0.1:1", 200*time.Millisecond, 1)
	report := c.FullCheck(context.Background())
	assert.False(t, report.Overall)
	assert.False(t, report.Master.Healthy)
	assert.False(t, report.Workers.Checked)
	require.NotNil(t, report.Workers.WorkerIDs)
}
