package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault_MatchesStockValues(t *testing.T) {
	s := Default()

	assert.Equal(t, "http://localhost:8000", s.BaseURL)
	assert.Equal(t, "test@example.com", s.TestUser.Email)
	assert.Equal(t, 20, s.Users)
	assert.Equal(t, 5.0, s.SpawnRate)
	assert.Equal(t, 10, s.TaskWeights.HealthCheck)
	assert.Equal(t, 5, s.TaskWeights.Login)
	assert.Equal(t, "/api/v1/login/access-token", s.Endpoints.Login)
	assert.Equal(t, "http://localhost:8089", s.MasterURL())
	require.NoError(t, s.Validate())
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: http://api.internal:9000
users: 7
task_weights:
  health_check: 1
`), FilePermissions))

	t.Setenv("BASE_URL", "")
	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://api.internal:9000", s.BaseURL)
	assert.Equal(t, 7, s.Users)
	assert.Equal(t, 1, s.TaskWeights.HealthCheck)
	// untouched keys keep their defaults
	assert.Equal(t, 5, s.TaskWeights.ReadItems)
}

func TestLoad_JSONCWithComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // gentle profile for free-tier servers
  "users": 3,
  "spawn_rate": 1, /* one per second */
  "run_time": "15m",
}`), FilePermissions))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Users)
	assert.Equal(t, 1.0, s.SpawnRate)
	assert.Equal(t, "15m", s.RunTime)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.toml")
	require.NoError(t, os.WriteFile(path, []byte("users = 1"), FilePermissions))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported settings file format")
}

func TestApplyEnv(t *testing.T) {
	s := Default()
	err := s.ApplyEnv(envMap(map[string]string{
		"BASE_URL":             "http://target:8000",
		"SWARM_USERS":          "40",
		"SWARM_SPAWN_RATE":     "2.5",
		"SWARM_MASTER_PORT":    "9089",
		"SWARM_EXPECT_WORKERS": "3",
		"TEST_USER_PASSWORD":   "s3cret",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://target:8000", s.BaseURL)
	assert.Equal(t, 40, s.Users)
	assert.Equal(t, 2.5, s.SpawnRate)
	assert.Equal(t, 9089, s.MasterPort)
	assert.Equal(t, 3, s.ExpectWorkers)
	assert.Equal(t, "s3cret", s.TestUser.Password)
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	s := Default()
	err := s.ApplyEnv(envMap(map[string]string{"SWARM_USERS": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWARM_USERS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"no base url", func(s *Settings) { s.BaseURL = "" }},
		{"zero users", func(s *Settings) { s.Users = 0 }},
		{"zero spawn rate", func(s *Settings) { s.SpawnRate = 0 }},
		{"inverted wait", func(s *Settings) { s.WaitTimeMin, s.WaitTimeMax = 5, 1 }},
		{"bad port", func(s *Settings) { s.MasterPort = 70000 }},
		{"bad run time", func(s *Settings) { s.RunTime = "soon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}

	require.NoError(t, Default().ApplyEnv(noEnv))
}

func TestParseRunTime(t *testing.T) {
	tests := map[string]time.Duration{
		"":       0,
		"90":     90 * time.Second,
		"90s":    90 * time.Second,
		"1m":     time.Minute,
		"1h30m":  90 * time.Minute,
		"2H5M":   2*time.Hour + 5*time.Minute,
		"1h0m1s": time.Hour + time.Second,
	}
	for in, want := range tests {
		got, err := ParseRunTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRunTime("-5")
	assert.Error(t, err)
	_, err = ParseRunTime("later")
	assert.Error(t, err)
}

func TestInitializeAt(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".swarm")
	require.NoError(t, InitializeAt(root))

	assert.DirExists(t, root)
	assert.DirExists(t, ReportsDir)
	assert.Equal(t, filepath.Join(root, "swarm.db"), DatabasePath)
}
