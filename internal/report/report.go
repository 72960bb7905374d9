package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/studiowebux/swarm/internal/stats"
)

// Status classes used for colouring
const (
	ClassGood     = "good"
	ClassWarning  = "warning"
	ClassCritical = "critical"
)

const defaultRecommendation = "The application is performing well under the current load."

// Summary is the headline block of the report
type Summary struct {
	TotalRequests   int64
	TotalFailures   int64
	FailureRate     float64 // percent
	AvgResponseTime float64 // ms, mean of non-zero endpoint averages
	MaxResponseTime float64 // ms
	ActiveWorkers   int
	FailureClass    string
	ResponseClass   string
}

// EndpointRow is one line of the endpoint table
type EndpointRow struct {
	stats.EntryReport
	FailurePercent float64
	FailureClass   string
	ResponseClass  string
}

// Report is everything the HTML template renders
type Report struct {
	GeneratedAt     time.Time
	HasStats        bool
	Summary         Summary
	Endpoints       []EndpointRow
	Errors          []stats.Failure
	Exceptions      []stats.Exception
	Workers         []stats.WorkerReport
	SectionErrors   map[string]string
	Recommendations []string
	Raw             string
}

// FailureClass grades a failure percentage
func FailureClass(percent float64) string {
	switch {
	case percent < 1:
		return ClassGood
	case percent < 5:
		return ClassWarning
	default:
		return ClassCritical
	}
}

// ResponseClass grades an average response time in ms
func ResponseClass(ms float64) string {
	switch {
	case ms < 200:
		return ClassGood
	case ms < 500:
		return ClassWarning
	default:
		return ClassCritical
	}
}

// Build analyses fetched data. The aggregated stats row is left out of the
// endpoint table and the summary so it is not counted twice.
func Build(data Data, now time.Time) Report {
	r := Report{
		GeneratedAt:   now,
		SectionErrors: map[string]string{},
		Raw:           data.MarshalIndent(),
	}

	var requests struct {
		Stats []stats.EntryReport `json:"stats"`
	}
	var failures struct {
		Failures []stats.Failure `json:"failures"`
	}
	var exceptions struct {
		Exceptions []stats.Exception `json:"exceptions"`
	}
	var workers struct {
		Workers []stats.WorkerReport `json:"workers"`
	}

	r.decode(data, SectionStats, &requests)
	r.decode(data, SectionErrors, &failures)
	r.decode(data, SectionExceptions, &exceptions)
	r.decode(data, SectionWorkers, &workers)

	r.Errors = failures.Failures
	r.Exceptions = exceptions.Exceptions
	r.Workers = workers.Workers

	for _, e := range requests.Stats {
		if e.Name == stats.AggregatedName {
			continue
		}
		row := EndpointRow{EntryReport: e}
		if e.NumRequests > 0 {
			row.FailurePercent = float64(e.NumFailures) / float64(e.NumRequests) * 100
		}
		row.FailureClass = FailureClass(row.FailurePercent)
		row.ResponseClass = ResponseClass(e.AvgResponseTime)
		r.Endpoints = append(r.Endpoints, row)
	}

	r.HasStats = len(r.Endpoints) > 0
	if r.HasStats {
		r.Summary = summarize(r.Endpoints, len(r.Workers))
	}
	r.Recommendations = recommend(r)
	return r
}

func (r *Report) decode(data Data, section string, v interface{}) {
	raw, ok := data[section]
	if !ok {
		r.SectionErrors[section] = "section missing"
		return
	}

	var errBody struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
		r.SectionErrors[section] = errBody.Error
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		r.SectionErrors[section] = err.Error()
	}
}

func summarize(rows []EndpointRow, workers int) Summary {
	s := Summary{ActiveWorkers: workers}

	var avgSum float64
	var avgCount int
	for _, row := range rows {
		s.TotalRequests += row.NumRequests
		s.TotalFailures += row.NumFailures
		if row.AvgResponseTime != 0 {
			avgSum += row.AvgResponseTime
			avgCount++
		}
		if row.MaxResponseTime > s.MaxResponseTime {
			s.MaxResponseTime = row.MaxResponseTime
		}
	}
	if s.TotalRequests > 0 {
		s.FailureRate = float64(s.TotalFailures) / float64(s.TotalRequests) * 100
	}
	if avgCount > 0 {
		s.AvgResponseTime = avgSum / float64(avgCount)
	}
	s.FailureClass = FailureClass(s.FailureRate)
	s.ResponseClass = ResponseClass(s.AvgResponseTime)
	return s
}

func recommend(r Report) []string {
	var out []string
	if r.HasStats {
		s := r.Summary
		if s.FailureRate > 5 {
			out = append(out, "High failure rate detected. Investigate the errors and exceptions listed above.")
		}
		if s.AvgResponseTime > 500 {
			out = append(out, "Average response time is high. Consider optimizing database queries, adding caching, or scaling the application.")
		}

		var slow []string
		for _, row := range r.Endpoints {
			if row.AvgResponseTime > 500 {
				slow = append(slow, row.Name)
			}
		}
		if len(slow) > 0 {
			out = append(out, fmt.Sprintf("Slow endpoints detected: %s. These endpoints need optimization.", strings.Join(slow, ", ")))
		}

		if s.ActiveWorkers < 2 && s.TotalRequests > 1000 {
			out = append(out, "For higher load testing, consider running in distributed mode with more worker nodes.")
		}
	}
	if len(out) == 0 {
		out = append(out, defaultRecommendation)
	}
	return out
}

// Render writes the HTML report
func Render(w io.Writer, r Report) error {
	if err := page.Execute(w, r); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// Write renders r into path, creating parent directories
func Write(path string, r Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := Render(f, r); err != nil {
		return err
	}
	return f.Close()
}
