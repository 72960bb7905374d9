package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Endpoints holds the API paths exercised by the load scenarios
type Endpoints struct {
	Health string `json:"health" yaml:"health"`
	Login  string `json:"login" yaml:"login"`
	Users  string `json:"users" yaml:"users"`
	Items  string `json:"items" yaml:"items"`
}

// TaskWeights controls how often each FastAPI user task is picked.
// Higher numbers mean the task runs more often.
type TaskWeights struct {
	HealthCheck int `json:"health_check" yaml:"health_check"`
	ReadUsers   int `json:"read_users" yaml:"read_users"`
	ReadItems   int `json:"read_items" yaml:"read_items"`
	CreateItem  int `json:"create_item" yaml:"create_item"`
	UpdateItem  int `json:"update_item" yaml:"update_item"`
	DeleteItem  int `json:"delete_item" yaml:"delete_item"`
	Login       int `json:"login" yaml:"login"`
}

// TestUser is the account used by authenticated scenarios
type TestUser struct {
	Email    string `json:"email" yaml:"email"`
	Password string `json:"password" yaml:"password"`
	FullName string `json:"full_name" yaml:"full_name"`
}

// Settings is the complete load test configuration
type Settings struct {
	BaseURL         string      `json:"base_url" yaml:"base_url"`
	TestUser        TestUser    `json:"test_user" yaml:"test_user"`
	WaitTimeMin     float64     `json:"wait_time_min" yaml:"wait_time_min"` // seconds
	WaitTimeMax     float64     `json:"wait_time_max" yaml:"wait_time_max"` // seconds
	MasterHost      string      `json:"master_host" yaml:"master_host"`
	MasterPort      int         `json:"master_port" yaml:"master_port"`           // web/REST port
	MasterBindPort  int         `json:"master_bind_port" yaml:"master_bind_port"` // worker port
	Users           int         `json:"users" yaml:"users"`
	SpawnRate       float64     `json:"spawn_rate" yaml:"spawn_rate"`
	RunTime         string      `json:"run_time" yaml:"run_time"`
	ExpectWorkers   int         `json:"expect_workers" yaml:"expect_workers"`
	HealthTimeout   float64     `json:"health_timeout" yaml:"health_timeout"` // seconds
	Endpoints       Endpoints   `json:"endpoints" yaml:"endpoints"`
	TaskWeights     TaskWeights `json:"task_weights" yaml:"task_weights"`
	TokenPoolSize   int         `json:"token_pool_size" yaml:"token_pool_size"`
	IPPoolSize      int         `json:"ip_pool_size" yaml:"ip_pool_size"`
	SpoofIP         bool        `json:"spoof_ip" yaml:"spoof_ip"`
	MockDatabaseDSN string      `json:"mock_database_dsn" yaml:"mock_database_dsn"`
	JWTSecret       string      `json:"jwt_secret" yaml:"jwt_secret"`
}

// Default returns settings populated with the stock values
func Default() *Settings {
	return &Settings{
		BaseURL: "http://localhost:8000",
		TestUser: TestUser{
			Email:    "test@example.com",
			Password: "password123",
			FullName: "Load Test User",
		},
		WaitTimeMin:    1,
		WaitTimeMax:    3,
		MasterHost:     "localhost",
		MasterPort:     8089,
		MasterBindPort: 5557,
		Users:          20,
		SpawnRate:      5,
		RunTime:        "1m",
		ExpectWorkers:  1,
		HealthTimeout:  5,
		Endpoints: Endpoints{
			Health: "/api/v1/health",
			Login:  "/api/v1/login/access-token",
			Users:  "/api/v1/users/",
			Items:  "/api/v1/items/",
		},
		TaskWeights: TaskWeights{
			HealthCheck: 10,
			ReadUsers:   3,
			ReadItems:   5,
			CreateItem:  2,
			UpdateItem:  1,
			DeleteItem:  1,
			Login:       5,
		},
		TokenPoolSize: 8,
		IPPoolSize:    50,
		JWTSecret:     "swarm-mock-secret",
	}
}

// Load reads settings from path on top of the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return s, nil
}

func (s *Settings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, s); err != nil {
			return fmt.Errorf("failed to parse YAML settings: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), s); err != nil {
			return fmt.Errorf("failed to parse JSON settings: %w", err)
		}
	default:
		return fmt.Errorf("unsupported settings file format: %s (use .yaml, .yml, .json or .jsonc)", ext)
	}

	return nil
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides settings from environment variables
func (s *Settings) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q is not an integer", key, v)
		}
		*dst = n
		return nil
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q is not a number", key, v)
		}
		*dst = f
		return nil
	}

	str("BASE_URL", &s.BaseURL)
	str("TEST_USER_EMAIL", &s.TestUser.Email)
	str("TEST_USER_PASSWORD", &s.TestUser.Password)
	str("SWARM_MASTER_HOST", &s.MasterHost)
	str("SWARM_RUN_TIME", &s.RunTime)
	str("SWARM_MOCK_DATABASE_DSN", &s.MockDatabaseDSN)

	for _, f := range []func() error{
		func() error { return float("SWARM_WAIT_TIME_MIN", &s.WaitTimeMin) },
		func() error { return float("SWARM_WAIT_TIME_MAX", &s.WaitTimeMax) },
		func() error { return integer("SWARM_MASTER_PORT", &s.MasterPort) },
		func() error { return integer("SWARM_USERS", &s.Users) },
		func() error { return float("SWARM_SPAWN_RATE", &s.SpawnRate) },
		func() error { return integer("SWARM_EXPECT_WORKERS", &s.ExpectWorkers) },
		func() error { return float("SWARM_HEALTH_TIMEOUT", &s.HealthTimeout) },
	} {
		if err := f(); err != nil {
			return err
		}
	}

	return nil
}

// Validate validates the settings
func (s *Settings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if s.Users <= 0 {
		return fmt.Errorf("users must be greater than 0")
	}
	if s.SpawnRate <= 0 {
		return fmt.Errorf("spawn rate must be greater than 0")
	}
	if s.WaitTimeMin < 0 || s.WaitTimeMax < 0 {
		return fmt.Errorf("wait times cannot be negative")
	}
	if s.WaitTimeMin > s.WaitTimeMax {
		return fmt.Errorf("wait time min (%.2f) cannot exceed max (%.2f)", s.WaitTimeMin, s.WaitTimeMax)
	}
	if s.MasterPort <= 0 || s.MasterPort > 65535 {
		return fmt.Errorf("master port %d out of range", s.MasterPort)
	}
	if s.ExpectWorkers < 0 {
		return fmt.Errorf("expect workers cannot be negative")
	}
	if s.RunTime != "" {
		if _, err := ParseRunTime(s.RunTime); err != nil {
			return err
		}
	}
	return nil
}

// MasterURL returns the master web API base URL
func (s *Settings) MasterURL() string {
	return fmt.Sprintf("http://%s:%d", s.MasterHost, s.MasterPort)
}

// GetHealthTimeout returns the health timeout as time.Duration
func (s *Settings) GetHealthTimeout() time.Duration {
	if s.HealthTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.HealthTimeout * float64(time.Second))
}

// GetWaitRange returns the think-time bounds as durations
func (s *Settings) GetWaitRange() (time.Duration, time.Duration) {
	return time.Duration(s.WaitTimeMin * float64(time.Second)), time.Duration(s.WaitTimeMax * float64(time.Second))
}

// ParseRunTime parses run time values such as "90", "90s", "1m", "1h30m" or "2h5m10s".
// A bare number is seconds. An empty string means unlimited (0).
func ParseRunTime(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("run time cannot be negative: %s", value)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(strings.ToLower(value))
	if err != nil {
		return 0, fmt.Errorf("invalid run time %q (e.g. 300s, 20m, 3h, 1h30m)", value)
	}
	if d < 0 {
		return 0, fmt.Errorf("run time cannot be negative: %s", value)
	}
	return d, nil
}
