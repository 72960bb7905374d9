package report

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statsBody = `{
  "stats": [
    {"method":"GET","name":"Health Check","num_requests":900,"num_failures":0,"avg_response_time":40,"min_response_time":5,"max_response_time":120,"median_response_time":35,"current_rps":12.5},
    {"method":"POST","name":"Create Item","num_requests":300,"num_failures":30,"avg_response_time":650,"min_response_time":100,"max_response_time":2100,"median_response_time":600,"current_rps":3},
    {"method":"","name":"Aggregated","num_requests":1200,"num_failures":30,"avg_response_time":192.5,"min_response_time":5,"max_response_time":2100}
  ],
  "state":"running","user_count":10
}`

func masterServer(t *testing.T, failPath string) *httptest.Server {
	t.Helper()
	bodies := map[string]string{
		"/stats/requests": statsBody,
		"/stats/failures": `{"failures":[{"method":"POST","name":"Create Item","error":"HTTP 500","occurrences":30}]}`,
		"/exceptions":     `{"exceptions":[{"count":2,"msg":"boom","traceback":"stack <here>","nodes":["w1"]}]}`,
		"/workers":        `{"workers":[{"id":"w1","state":"running","user_count":10}],"count":1}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == failPath {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetch_AllSections(t *testing.T) {
	server := masterServer(t, "")
	data := Fetch(context.Background(), nil, server.URL+"/")

	require.Len(t, data, 4)
	for _, name := range []string{SectionStats, SectionErrors, SectionExceptions, SectionWorkers} {
		assert.True(t, json.Valid(data[name]), name)
	}
}

func TestFetch_SectionFailure(t *testing.T) {
	server := masterServer(t, "/exceptions")
	data := Fetch(context.Background(), server.Client(), server.URL)

	var section map[string]string
	require.NoError(t, json.Unmarshal(data[SectionExceptions], &section))
	assert.Equal(t, "status code: 503", section["error"])

	r := Build(data, time.Now())
	assert.Equal(t, "status code: 503", r.SectionErrors[SectionExceptions])
	assert.True(t, r.HasStats)
	assert.Empty(t, r.Exceptions)
}

func TestBuild_Summary(t *testing.T) {
	server := masterServer(t, "")
	r := Build(Fetch(context.Background(), nil, server.URL), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	require.Len(t, r.Endpoints, 2)
	assert.Equal(t, int64(1200), r.Summary.TotalRequests)
	assert.Equal(t, int64(30), r.Summary.TotalFailures)
	assert.InDelta(t, 2.5, r.Summary.FailureRate, 1e-9)
	assert.InDelta(t, 345.0, r.Summary.AvgResponseTime, 1e-9)
	assert.Equal(t, 2100.0, r.Summary.MaxResponseTime)
	assert.Equal(t, 1, r.Summary.ActiveWorkers)
	assert.Equal(t, ClassWarning, r.Summary.FailureClass)
	assert.Equal(t, ClassWarning, r.Summary.ResponseClass)

	create := r.Endpoints[1]
	assert.Equal(t, "Create Item", create.Name)
	assert.InDelta(t, 10.0, create.FailurePercent, 1e-9)
	assert.Equal(t, ClassCritical, create.FailureClass)
	assert.Equal(t, ClassCritical, create.ResponseClass)

	assert.Equal(t, []string{
		"Slow endpoints detected: Create Item. These endpoints need optimization.",
		"For higher load testing, consider running in distributed mode with more worker nodes.",
	}, r.Recommendations)
}

func TestBuild_NoStats(t *testing.T) {
	r := Build(Data{}, time.Now())
	assert.False(t, r.HasStats)
	assert.Equal(t, []string{defaultRecommendation}, r.Recommendations)
	assert.Len(t, r.SectionErrors, 4)
}

func TestStatusClasses(t *testing.T) {
	tests := []struct {
		value   float64
		failure string
		latency string
	}{
		{0, ClassGood, ClassGood},
		{0.99, ClassGood, ClassGood},
		{1, ClassWarning, ClassGood},
		{4.99, ClassWarning, ClassGood},
		{5, ClassCritical, ClassGood},
		{200, ClassCritical, ClassWarning},
		{500, ClassCritical, ClassCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.failure, FailureClass(tt.value), "failure %v", tt.value)
		assert.Equal(t, tt.latency, ResponseClass(tt.value), "latency %v", tt.value)
	}
}

func TestRender(t *testing.T) {
	server := masterServer(t, "")
	r := Build(Fetch(context.Background(), nil, server.URL), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r))
	html := buf.String()

	assert.Contains(t, html, "Generated on: 2026-01-02 03:04:05")
	assert.Contains(t, html, "<strong>Total Requests:</strong> 1200")
	assert.Contains(t, html, `<span class="warning">2.50%</span>`)
	assert.Contains(t, html, "HTTP 500")
	assert.Contains(t, html, "stack &lt;here&gt;")
	assert.NotContains(t, html, "<td>Aggregated</td>")
	assert.Equal(t, 1, strings.Count(html, "Slow endpoints detected"))
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.html")
	require.NoError(t, Write(path, Build(Data{}, time.Now())))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "No statistics available")
	assert.Contains(t, string(content), "No errors recorded")
}
