package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds each request to the master
	DefaultTimeout = 5 * time.Second
	// cacheWindow is how long a healthy master result is reused
	cacheWindow = time.Second
)

// MasterStatus is the result of a master check
type MasterStatus struct {
	Healthy      bool    `json:"healthy"`
	Cached       bool    `json:"cached"`
	Endpoint     string  `json:"endpoint,omitempty"`
	ResponseTime float64 `json:"response_time,omitempty"` // seconds
	State        string  `json:"state,omitempty"`
	UserCount    int     `json:"user_count,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// WorkerInfo is one worker as reported by the master
type WorkerInfo struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	UserCount int    `json:"user_count"`
}

// WorkerStatus is the result of a worker check
type WorkerStatus struct {
	Healthy   bool         `json:"healthy"`
	Checked   bool         `json:"checked"`
	Connected int          `json:"connected"`
	Expected  int          `json:"expected"`
	WorkerIDs []string     `json:"worker_ids"`
	Workers   []WorkerInfo `json:"workers,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Environment echoes the checker configuration
type Environment struct {
	MasterURL string  `json:"master_url"`
	Timeout   float64 `json:"timeout"` // seconds
}

// Report is the combined health status
type Report struct {
	Master      MasterStatus `json:"master"`
	Workers     WorkerStatus `json:"workers"`
	Environment Environment  `json:"environment"`
	Overall     bool         `json:"overall"`
}

// Checker polls the master web API
type Checker struct {
	MasterURL       string
	Timeout         time.Duration
	ExpectedWorkers int
	Client          *http.Client

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

// NewChecker returns a checker for the master at masterURL
func NewChecker(masterURL string, timeout time.Duration, expectedWorkers int) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		MasterURL:       strings.TrimRight(masterURL, "/"),
		Timeout:         timeout,
		ExpectedWorkers: expectedWorkers,
		Client:          &http.Client{Timeout: timeout},
		now:             time.Now,
	}
}

// CheckMaster verifies the master answers /stats/requests. A healthy result
// is cached for one second.
func (c *Checker) CheckMaster(ctx context.Context) MasterStatus {
	c.mu.Lock()
	now := c.now()
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < cacheWindow {
		c.mu.Unlock()
		return MasterStatus{Healthy: true, Cached: true}
	}
	c.mu.Unlock()

	endpoint := c.MasterURL + "/stats/requests"
	var body struct {
		State     string `json:"state"`
		UserCount int    `json:"user_count"`
	}
	start := time.Now()
	err := c.getJSON(ctx, endpoint, &body)
	status := MasterStatus{
		Endpoint:     endpoint,
		ResponseTime: time.Since(start).Seconds(),
	}
	if err != nil {
		logrus.WithError(err).WithField("endpoint", endpoint).Warn("Health check request failed")
		status.Error = err.Error()
		return status
	}

	status.Healthy = true
	status.State = body.State
	status.UserCount = body.UserCount

	c.mu.Lock()
	c.lastCheck = now
	c.mu.Unlock()
	return status
}

// CheckWorkers verifies at least ExpectedWorkers are connected
func (c *Checker) CheckWorkers(ctx context.Context) WorkerStatus {
	status := WorkerStatus{
		Checked:   true,
		Expected:  c.ExpectedWorkers,
		WorkerIDs: []string{},
	}

	var body struct {
		Workers []WorkerInfo `json:"workers"`
	}
	if err := c.getJSON(ctx, c.MasterURL+"/workers", &body); err != nil {
		logrus.WithError(err).Warn("Worker check failed")
		status.Error = err.Error()
		return status
	}

	status.Workers = body.Workers
	status.Connected = len(body.Workers)
	for _, w := range body.Workers {
		status.WorkerIDs = append(status.WorkerIDs, w.ID)
	}
	status.Healthy = status.Connected >= c.ExpectedWorkers
	return status
}

// FullCheck checks the master then, if it is up, the workers
func (c *Checker) FullCheck(ctx context.Context) Report {
	report := Report{
		Master: c.CheckMaster(ctx),
		Workers: WorkerStatus{
			Expected:  c.ExpectedWorkers,
			WorkerIDs: []string{},
		},
		Environment: Environment{
			MasterURL: c.MasterURL,
			Timeout:   c.Timeout.Seconds(),
		},
	}
	if report.Master.Healthy {
		report.Workers = c.CheckWorkers(ctx)
	}
	report.Overall = report.Master.Healthy && report.Workers.Healthy
	return report
}

// Healthy is the short form used by container probes
func (c *Checker) Healthy(ctx context.Context) bool {
	return c.FullCheck(ctx).Overall
}

func (c *Checker) getJSON(ctx context.Context, url string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error connecting to master: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("master returned status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
