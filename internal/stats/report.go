package stats

import "time"

// EntryReport is the JSON row served by GET /stats/requests
type EntryReport struct {
	Method                  string  `json:"method"`
	Name                    string  `json:"name"`
	SafeName                string  `json:"safe_name"`
	NumRequests             int64   `json:"num_requests"`
	NumFailures             int64   `json:"num_failures"`
	AvgResponseTime         float64 `json:"avg_response_time"`
	MinResponseTime         float64 `json:"min_response_time"`
	MaxResponseTime         float64 `json:"max_response_time"`
	CurrentRPS              float64 `json:"current_rps"`
	CurrentFailPerSec       float64 `json:"current_fail_per_sec"`
	MedianResponseTime      float64 `json:"median_response_time"`
	NinetiethResponseTime   float64 `json:"ninetieth_response_time"`
	NinetyFifthResponseTime float64 `json:"response_time_percentile_0.95"`
	NinetyNinthResponseTime float64 `json:"ninety_ninth_response_time"`
	AvgContentLength        float64 `json:"avg_content_length"`
}

// WorkerReport describes a connected worker in the stats payload
type WorkerReport struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	UserCount int    `json:"user_count"`
}

// RequestsReport is the full payload of GET /stats/requests
type RequestsReport struct {
	Stats           []EntryReport  `json:"stats"`
	Errors          []Failure      `json:"errors"`
	TotalRPS        float64        `json:"total_rps"`
	TotalFailPerSec float64        `json:"total_fail_per_sec"`
	FailRatio       float64        `json:"fail_ratio"`
	State           string         `json:"state"`
	UserCount       int            `json:"user_count"`
	Workers         []WorkerReport `json:"workers,omitempty"`
}

func reportOf(e *Entry, now time.Time) EntryReport {
	return EntryReport{
		Method:                  e.Method,
		Name:                    e.Name,
		SafeName:                e.Name,
		NumRequests:             e.NumRequests,
		NumFailures:             e.NumFailures,
		AvgResponseTime:         e.AvgResponseTime(),
		MinResponseTime:         e.Min(),
		MaxResponseTime:         e.MaxResponseTime,
		CurrentRPS:              e.CurrentRPS(now),
		CurrentFailPerSec:       e.CurrentFailPerSec(now),
		MedianResponseTime:      e.Median(),
		NinetiethResponseTime:   e.Percentile(0.90),
		NinetyFifthResponseTime: e.Percentile(0.95),
		NinetyNinthResponseTime: e.Percentile(0.99),
		AvgContentLength:        e.AvgContentLength(),
	}
}

// Report builds the /stats/requests payload. The aggregated row is last.
func (r *Registry) Report(state string, userCount int) RequestsReport {
	now := r.now()
	entries := r.Entries()
	total := r.Total()

	rows := make([]EntryReport, 0, len(entries)+1)
	for _, e := range entries {
		rows = append(rows, reportOf(e, now))
	}
	rows = append(rows, reportOf(total, now))

	failures := r.Failures()
	if failures == nil {
		failures = []Failure{}
	}

	return RequestsReport{
		Stats:           rows,
		Errors:          failures,
		TotalRPS:        total.CurrentRPS(now),
		TotalFailPerSec: total.CurrentFailPerSec(now),
		FailRatio:       total.FailRatio(),
		State:           state,
		UserCount:       userCount,
	}
}

// Summary is the condensed result of a run, persisted in history
type Summary struct {
	NumRequests int64
	NumFailures int64
	FailRatio   float64
	AvgMs       float64
	MinMs       float64
	MaxMs       float64
	MedianMs    float64
	P95Ms       float64
	P99Ms       float64
	TotalRPS    float64
}

// Summarize condenses an entry into a Summary
func Summarize(e *Entry) Summary {
	return Summary{
		NumRequests: e.NumRequests,
		NumFailures: e.NumFailures,
		FailRatio:   e.FailRatio(),
		AvgMs:       e.AvgResponseTime(),
		MinMs:       e.Min(),
		MaxMs:       e.MaxResponseTime,
		MedianMs:    e.Median(),
		P95Ms:       e.Percentile(0.95),
		P99Ms:       e.Percentile(0.99),
		TotalRPS:    e.TotalRPS(),
	}
}
