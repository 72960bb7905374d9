package mockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/studiowebux/swarm/internal/auth"
	"github.com/studiowebux/swarm/internal/mockdb"
)

const (
	testEmail    = "test@example.com"
	testPassword = "password123"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, opts Options) (*Server, *mockdb.MemoryStore) {
	t.Helper()
	store := mockdb.NewSeededMemoryStore(testEmail, testPassword, "Load Test User")
	if opts.JWTSecret == "" {
		opts.JWTSecret = "test-secret"
	}
	return New(store, opts), store
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case url.Values:
		req = httptest.NewRequest(method, path, strings.NewReader(b.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, strings.NewReader(string(raw)))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/login/access-token", "",
		url.Values{"username": {email}, "password": {password}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bearer", body.TokenType)
	return body.AccessToken
}

func TestLogin(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	token := login(t, s, testEmail, testPassword)
	claims, err := s.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, testEmail, claims.Email)
	assert.True(t, claims.Superuser)

	rec := do(t, s, http.MethodPost, "/api/v1/login/access-token", "",
		url.Values{"username": {testEmail}, "password": {"wrong"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/login/access-token", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogin_RateLimitedPerForwardedIP(t *testing.T) {
	s, _ := newTestServer(t, Options{LoginRate: rate.Every(time.Hour), LoginBurst: 2})
	form := url.Values{"username": {testEmail}, "password": {testPassword}}

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodPost, "/api/v1/login/access-token", "", form,
			map[string]string{"X-Forwarded-For": "10.0.0.1"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, http.MethodPost, "/api/v1/login/access-token", "", form,
		map[string]string{"X-Forwarded-For": "10.0.0.1, 192.168.1.1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// a different spoofed client has its own bucket
	rec = do(t, s, http.MethodPost, "/api/v1/login/access-token", "", form,
		map[string]string{"X-Forwarded-For": "10.0.0.2"})
	assert.Equal(t, http.StatusOK, rec.Code)

	s.Limiter().Reset()
	rec = do(t, s, http.MethodPost, "/api/v1/login/access-token", "", form,
		map[string]string{"X-Forwarded-For": "10.0.0.1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, s.Limiter().Prune(time.Hour))
}

func TestSignupAndUsers(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	signup := map[string]string{"email": "new@example.com", "password": "longenough", "full_name": "New"}
	rec := do(t, s, http.MethodPost, "/api/v1/users/signup", "", signup, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	rec = do(t, s, http.MethodPost, "/api/v1/users/signup", "", signup, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")

	userToken := login(t, s, "new@example.com", "longenough")
	rec = do(t, s, http.MethodGet, "/api/v1/users/", userToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/users/me", userToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me mockdb.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.False(t, me.IsSuperuser)

	adminToken := login(t, s, testEmail, testPassword)
	rec = do(t, s, http.MethodGet, "/api/v1/users/", adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data  []mockdb.User `json:"data"`
		Count int64         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(2), list.Count)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/v1/users/me", "", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/v1/users/me", "garbage", nil, nil).Code)
}

func TestItems_Ownership(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	do(t, s, http.MethodPost, "/api/v1/users/signup", "",
		map[string]string{"email": "owner@example.com", "password": "password1"}, nil)
	do(t, s, http.MethodPost, "/api/v1/users/signup", "",
		map[string]string{"email": "other@example.com", "password": "password2"}, nil)
	owner := login(t, s, "owner@example.com", "password1")
	other := login(t, s, "other@example.com", "password2")
	admin := login(t, s, testEmail, testPassword)

	rec := do(t, s, http.MethodPost, "/api/v1/items/", owner, map[string]string{"title": "Load Test Item", "description": "d"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var item mockdb.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	path := "/api/v1/items/" + item.ID

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, path, owner, nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, path, other, nil, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, path, admin, nil, nil).Code)

	var page struct {
		Data  []mockdb.Item `json:"data"`
		Count int64         `json:"count"`
	}
	rec = do(t, s, http.MethodGet, "/api/v1/items/", other, nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Zero(t, page.Count)
	assert.NotNil(t, page.Data)

	rec = do(t, s, http.MethodPut, path, owner, map[string]string{"title": "Updated"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Updated")
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodPut, path, owner, map[string]string{}, nil).Code)

	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodDelete, path, other, nil, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, path, owner, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, path, owner, nil, nil).Code)
}

func TestMCPEndpoints(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/v1/mcp/status", "", nil, nil)
	assert.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = do(t, s, http.MethodGet, "/api/v1/mcp/discovery", "", nil, nil)
	assert.Contains(t, rec.Body.String(), `"tools"`)
	assert.Contains(t, rec.Body.String(), "config://app-version")

	rec = do(t, s, http.MethodPost, "/api/v1/tools/call", "",
		map[string]interface{}{"name": "add", "arguments": map[string]int{"a": 40, "b": 2}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result []struct {
		Info struct {
			Sum float64 `json:"sum"`
		} `json:"info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result, 1)
	assert.Equal(t, 42.0, result[0].Info.Sum)

	rec = do(t, s, http.MethodPost, "/api/v1/tools/call", "", map[string]interface{}{"name": "rm"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/resources/config://app-version", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"`+Version+`"`, rec.Body.String())

	for _, path := range []string{"/api/v1/debug/clear-rate-limits", "/api/v1/admin/users", "/api/v1/users/signup"} {
		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, path, "", nil, nil).Code, path)
	}
}

func TestPasswordLoginAgainstMockAPI(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	server := httptest.NewServer(s)
	defer server.Close()

	result, err := auth.PasswordLogin(context.Background(), server.Client(),
		server.URL+"/api/v1/login/access-token", testEmail, testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	result, err = auth.PasswordLogin(context.Background(), server.Client(),
		server.URL+"/api/v1/login/access-token", testEmail, "nope")
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
}
