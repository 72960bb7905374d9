package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.1.0", "0.1.0", 0},
		{"0.1.1", "0.1.0", 1},
		{"0.0.9", "0.1.0", -1},
		{"1.0", "0.9.28", 1},
		{"0.10.0", "0.9.0", 1},
		{"v1.2.3", "1.2.3", 0},
		{"0.2.0-dev", "0.1.0", 1},
		{"0.1.0-rc1", "0.1.0", 0},
		{"0.1.1+build5", "0.1.0", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func releaseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "swarm/0.1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCheck_NewerRelease(t *testing.T) {
	server := releaseServer(t, http.StatusOK, `{"tag_name":"v0.2.0","html_url":"https://example.com/r/0.2.0"}`)
	c := &Checker{URL: server.URL, Client: server.Client()}

	update, err := c.Check(context.Background(), "v0.1.0")
	require.NoError(t, err)
	assert.True(t, update.Available)
	assert.Equal(t, "0.2.0", update.Latest)
	assert.Equal(t, "https://example.com/r/0.2.0", update.URL)
}

func TestCheck_UpToDate(t *testing.T) {
	server := releaseServer(t, http.StatusOK, `{"tag_name":"v0.1.0"}`)
	c := &Checker{URL: server.URL, Client: server.Client()}

	update, err := c.Check(context.Background(), "0.1.0")
	require.NoError(t, err)
	assert.False(t, update.Available)
}

func TestCheck_BadStatus(t *testing.T) {
	server := releaseServer(t, http.StatusForbidden, `rate limited`)
	c := &Checker{URL: server.URL, Client: server.Client()}

	_, err := c.Check(context.Background(), "0.1.0")
	assert.ErrorContains(t, err, "unexpected status code: 403")
}
