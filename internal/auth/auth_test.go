package auth

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestTokenPool_GetEmpty(t *testing.T) {
	pool := NewTokenPool(0, testRand())
	_, err := pool.Get()
	assert.ErrorIs(t, err, ErrNoToken)
	_, ok := pool.Usage()
	assert.False(t, ok)
}

func TestTokenPool_AddIgnoresDuplicates(t *testing.T) {
	pool := NewTokenPool(3, testRand())
	assert.True(t, pool.Add("a"))
	assert.False(t, pool.Add("a"))
	assert.Equal(t, 1, pool.Len())
}

func TestTokenPool_EvictsMostUsed(t *testing.T) {
	pool := NewTokenPool(2, testRand())
	pool.Add("a")
	pool.Add("b")

	// only "a" and "b" exist; bump "b" explicitly
	pool.uses["b"] = 5
	pool.uses["a"] = 1

	pool.Add("c")
	require.Equal(t, 2, pool.Len())
	_, hasB := pool.uses["b"]
	assert.False(t, hasB, "most used token should be evicted")
	_, hasC := pool.uses["c"]
	assert.True(t, hasC)
}

func TestTokenPool_EvictionTieEarliest(t *testing.T) {
	pool := NewTokenPool(2, testRand())
	pool.Add("a")
	pool.Add("b")
	pool.Add("c")

	assert.Equal(t, []string{"b", "c"}, pool.tokens)
}

func TestTokenPool_FavoursLeastUsed(t *testing.T) {
	pool := NewTokenPool(8, testRand())
	pool.Add("hot")
	pool.Add("cold")
	pool.uses["hot"] = 99

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		token, err := pool.Get()
		require.NoError(t, err)
		counts[token]++
	}
	assert.Greater(t, counts["cold"], counts["hot"])

	stats, ok := pool.Usage()
	require.True(t, ok)
	assert.Equal(t, 200+99, stats.Max+stats.Min)
}

func TestTokenPool_Remove(t *testing.T) {
	pool := NewTokenPool(4, testRand())
	pool.Add("a")
	pool.Add("b")
	pool.Remove("a")
	pool.Remove("missing")

	assert.Equal(t, 1, pool.Len())
	token, err := pool.Get()
	require.NoError(t, err)
	assert.Equal(t, "b", token)
}

type fakeTime struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeTime) Now() time.Time { return f.now }

func (f *fakeTime) Sleep(_ context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestThrottle(ft *fakeTime) *Throttle {
	th := NewThrottle(testRand())
	th.now = ft.Now
	th.sleep = ft.Sleep
	return th
}

func TestThrottle_SpacesLogins(t *testing.T) {
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	th := newTestThrottle(ft)

	waited, err := th.Acquire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, waited)

	ft.now = ft.now.Add(500 * time.Millisecond)
	waited, err = th.Acquire(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, waited, 1500*time.Millisecond)
	assert.Less(t, waited, 2500*time.Millisecond)

	ft.now = ft.now.Add(3 * time.Second)
	waited, err = th.Acquire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, waited)

	attempts, _, _ := th.Counters()
	assert.Equal(t, 3, attempts)
}

func TestThrottle_SkipWhenFrequent(t *testing.T) {
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	th := newTestThrottle(ft)
	th.attempts = HighAttemptThreshold + 1
	th.last = ft.now

	assert.True(t, th.ShouldSkipLoginTask(0.1))
	assert.False(t, th.ShouldSkipLoginTask(0.9))

	ft.now = ft.now.Add(AttemptResetAfter + time.Second)
	assert.False(t, th.ShouldSkipLoginTask(0.1))
	attempts, _, _ := th.Counters()
	assert.Zero(t, attempts)
}

func TestThrottle_CancelledWait(t *testing.T) {
	th := NewThrottle(testRand())
	_, err := th.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = th.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIPPool_Ranges(t *testing.T) {
	pool := NewIPPool(0, testRand())
	require.Equal(t, DefaultIPPoolSize, pool.Size())

	user := pool.UserPool(0)
	ips := user.IPs()
	require.Len(t, ips, DefaultUserIPPoolSize)

	seen := map[string]bool{}
	for _, ip := range ips {
		assert.True(t, InSpoofRanges(ip), "ip %s outside spoof ranges", ip)
		seen[ip] = true
	}
	assert.False(t, InSpoofRanges("8.8.8.8"))
	assert.False(t, InSpoofRanges("not-an-ip"))

	first := user.Next()
	assert.Contains(t, ips, first)
	assert.Equal(t, first, user.Current())

	user.Random()
	user.Random()
	assert.Equal(t, 2, pool.Rotations())
}

func TestIPPool_UserPoolCappedAtPoolSize(t *testing.T) {
	pool := NewIPPool(3, testRand())
	assert.Len(t, pool.UserPool(10).IPs(), 3)
}

func TestSpoofHeaders(t *testing.T) {
	headers := SpoofHeaders("10.1.2.3")
	assert.Len(t, headers, 5)
	for _, name := range []string{"X-Forwarded-For", "X-Real-IP", "X-Client-IP", "X-Originating-IP", "CF-Connecting-IP"} {
		assert.Equal(t, "10.1.2.3", headers[name])
	}
}

func TestRateLimitBackoff(t *testing.T) {
	rng := testRand()
	for i := 0; i < 20; i++ {
		first := RateLimitBackoff(1, rng)
		assert.GreaterOrEqual(t, first, 3*time.Second)
		assert.Less(t, first, 5*time.Second)

		later := RateLimitBackoff(9, rng)
		assert.GreaterOrEqual(t, later, MaxRateLimitBackoff)
		assert.Less(t, later, MaxRateLimitBackoff+3*time.Second)
	}
	second := RateLimitBackoff(2, rng)
	assert.GreaterOrEqual(t, second, 6*time.Second)
	assert.Less(t, second, 9*time.Second)
}

func tokenServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "test@example.com", r.PostForm.Get("username"))
		assert.Equal(t, "password123", r.PostForm.Get("password"))

		status := http.StatusOK
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"access_token":"tok-` + string(rune('0'+n)) + `","token_type":"bearer"}`))
			return
		}
		w.Write([]byte(`{"detail":"nope"}`))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestPasswordLogin(t *testing.T) {
	server, _ := tokenServer(t)

	result, err := PasswordLogin(context.Background(), server.Client(), server.URL, "test@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", result.Token)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestPasswordLogin_RateLimited(t *testing.T) {
	server, _ := tokenServer(t, http.StatusTooManyRequests)

	result, err := PasswordLogin(context.Background(), server.Client(), server.URL, "test@example.com", "password123")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
}

func TestPasswordLogin_BadStatus(t *testing.T) {
	server, _ := tokenServer(t, http.StatusBadRequest)

	result, err := PasswordLogin(context.Background(), server.Client(), server.URL, "test@example.com", "password123")
	require.Error(t, err)
	assert.EqualError(t, err, "login failed with status code: 400")
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
}

type reported struct {
	status  int
	failure string
}

func newTestAuthenticator(url string, client *http.Client, ft *fakeTime) (*Authenticator, *[]reported) {
	var reports []reported
	a := NewAuthenticator(url, "test@example.com", "password123", NewTokenPool(8, testRand()), newTestThrottle(ft))
	a.Client = client
	a.rng = testRand()
	a.sleep = ft.Sleep
	a.Report = func(status int, _ time.Duration, failure string) {
		reports = append(reports, reported{status, failure})
	}
	return a, &reports
}

func TestAuthenticator_LoginAddsToPool(t *testing.T) {
	server, _ := tokenServer(t)
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	a, reports := newTestAuthenticator(server.URL, server.Client(), ft)

	token, err := a.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, a.Pool.Len())
	assert.Equal(t, []reported{{http.StatusOK, ""}}, *reports)

	_, successes, failures := a.Throttle.Counters()
	assert.Equal(t, 1, successes)
	assert.Zero(t, failures)
}

func TestAuthenticator_RetriesAfterRateLimit(t *testing.T) {
	server, calls := tokenServer(t, http.StatusTooManyRequests)
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	a, reports := newTestAuthenticator(server.URL, server.Client(), ft)

	token, err := a.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	// the 429 is reported but not as a failure
	assert.Equal(t, []reported{{http.StatusTooManyRequests, ""}, {http.StatusOK, ""}}, *reports)
	require.Len(t, ft.sleeps, 1)
	assert.GreaterOrEqual(t, ft.sleeps[0], 3*time.Second)
	assert.Less(t, ft.sleeps[0], 5*time.Second)
}

func TestAuthenticator_FallsBackToPool(t *testing.T) {
	server, calls := tokenServer(t, http.StatusInternalServerError, http.StatusInternalServerError)
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	a, reports := newTestAuthenticator(server.URL, server.Client(), ft)
	a.Pool.Add("pooled")

	token, err := a.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pooled", token)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	require.Len(t, *reports, 2)
	assert.Equal(t, "Login failed with status code: 500", (*reports)[0].failure)
	assert.Equal(t, []time.Duration{DefaultRetryDelay}, ft.sleeps)

	_, _, failures := a.Throttle.Counters()
	assert.Zero(t, failures, "a pooled token is not a login failure")
}

func TestAuthenticator_FailsWithEmptyPool(t *testing.T) {
	server, _ := tokenServer(t, http.StatusUnauthorized, http.StatusUnauthorized)
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	a, _ := newTestAuthenticator(server.URL, server.Client(), ft)

	_, err := a.Login(context.Background())
	assert.True(t, errors.Is(err, ErrLoginFailed))

	_, _, failures := a.Throttle.Counters()
	assert.Equal(t, 1, failures)
}

func TestAuthenticator_TokenPrefersOwnThenPool(t *testing.T) {
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	a, _ := newTestAuthenticator("http://unused", nil, ft)
	a.login = func(context.Context, *http.Client, string, string, string) (LoginResult, error) {
		return LoginResult{Token: "fresh", StatusCode: http.StatusOK}, nil
	}

	token, err := a.Token(context.Background(), "mine")
	require.NoError(t, err)
	assert.Equal(t, "mine", token)

	token, err = a.Token(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token, "empty pool triggers a login")

	token, err = a.Token(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token, "second caller borrows from the pool")
	attempts, _, _ := a.Throttle.Counters()
	assert.Equal(t, 1, attempts)
}

func TestAuthenticator_ShouldSkipLogin(t *testing.T) {
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	a, _ := newTestAuthenticator("http://unused", nil, ft)

	assert.False(t, a.ShouldSkipLogin(true), "pool too small to skip")

	a.Pool.Add("a")
	a.Pool.Add("b")
	a.Pool.Add("c")
	skipped := 0
	for i := 0; i < 100; i++ {
		if a.ShouldSkipLogin(true) {
			skipped++
		}
	}
	assert.Greater(t, skipped, 60)
	assert.False(t, a.ShouldSkipLogin(false))
}
