package seed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/mockapi"
	"github.com/studiowebux/swarm/internal/mockdb"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newSeeder(t *testing.T, store mockdb.Store) (*Seeder, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(mockapi.New(store, mockapi.Options{JWTSecret: "seed-test"}))
	t.Cleanup(server.Close)

	settings := config.Default()
	settings.BaseURL = server.URL
	s := New(settings)
	s.Client = server.Client()
	return s, server
}

func checkNames(checks []Check) []string {
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.Name
	}
	return names
}

func TestRun_ExistingSuperuser(t *testing.T) {
	settings := config.Default()
	store := mockdb.NewSeededMemoryStore(settings.TestUser.Email, settings.TestUser.Password, settings.TestUser.FullName)
	s, _ := newSeeder(t, store)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Healthy)
	assert.True(t, result.UserExisted)
	assert.False(t, result.UserCreated)
	assert.True(t, result.Authenticated)
	assert.True(t, result.Superuser)
	assert.NotEmpty(t, result.ItemID)
	assert.Empty(t, result.Failed())
	assert.Equal(t, []string{
		"Health", "Login", "Current user", "Users list", "Items list",
		"Create item", "Read item", "Update item", "Delete item",
	}, checkNames(result.Checks))

	for _, c := range result.Checks {
		assert.Equal(t, http.StatusOK, c.Status, c.Message)
	}

	_, err = store.GetItem(context.Background(), result.ItemID)
	assert.ErrorIs(t, err, mockdb.ErrNotFound)
}

func TestRun_CreatesRegularUser(t *testing.T) {
	store := mockdb.NewMemoryStore()
	s, _ := newSeeder(t, store)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.UserCreated)
	assert.False(t, result.Superuser)

	u, err := store.GetUserByEmail(context.Background(), s.User.Email)
	require.NoError(t, err)
	assert.False(t, u.IsSuperuser)

	// a 403 still means the endpoint is there
	for _, c := range result.Checks {
		if c.Name == "Users list" {
			assert.Equal(t, http.StatusForbidden, c.Status)
			assert.True(t, c.OK)
		}
	}
	assert.Empty(t, result.Failed())
}

func TestRun_LoadTestingSkipsRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	settings := config.Default()
	settings.BaseURL = server.URL
	s := New(settings)
	s.LoadTesting = true

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.LoadTesting)
	assert.Empty(t, result.Checks)
}

func TestRun_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	settings := config.Default()
	settings.BaseURL = server.URL
	server.Close()

	_, err := New(settings).Run(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRun_SignupRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/users/signup" {
			http.Error(w, `{"detail":"signups disabled"}`, http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	settings := config.Default()
	settings.BaseURL = server.URL

	result, err := New(settings).Run(context.Background())
	assert.ErrorIs(t, err, ErrSignupFailed)
	assert.Contains(t, err.Error(), "403")
	assert.True(t, result.Healthy)
}

func TestToCheck(t *testing.T) {
	s := &Seeder{BaseURL: "http://api"}
	p := probe{name: "Health", method: http.MethodGet, path: "/health"}

	c := s.toCheck(p, http.StatusUnauthorized, nil)
	assert.True(t, c.OK)
	assert.Equal(t, "GET http://api/health: 401", c.Message)

	c = s.toCheck(p, http.StatusBadGateway, nil)
	assert.False(t, c.OK)

	c = s.toCheck(p, 0, assert.AnError)
	assert.False(t, c.OK)
	assert.Contains(t, c.Message, "Error checking GET http://api/health")
}
