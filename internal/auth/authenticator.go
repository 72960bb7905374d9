package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultMaxLoginRetries is the number of login attempts per Login call
	DefaultMaxLoginRetries = 2
	// DefaultRetryDelay is the wait after a non rate-limited failure
	DefaultRetryDelay = 5 * time.Second
	// MaxRateLimitBackoff caps the base backoff after repeated 429s
	MaxRateLimitBackoff = 15 * time.Second
)

// ReportFunc receives one record per login attempt. failure is empty for
// successful and rate-limited attempts.
type ReportFunc func(status int, elapsed time.Duration, failure string)

// Authenticator logs simulated users in while sharing tokens through a pool
// and keeping the login rate under the server's limit
type Authenticator struct {
	LoginURL   string
	Email      string
	Password   string
	Client     *http.Client
	Pool       *TokenPool
	Throttle   *Throttle
	MaxRetries int
	RetryDelay time.Duration
	Report     ReportFunc

	urlMu sync.RWMutex

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
	login func(ctx context.Context, client *http.Client, loginURL, username, password string) (LoginResult, error)
}

// NewAuthenticator wires a pool and throttle shared by every user of a run
func NewAuthenticator(loginURL, email, password string, pool *TokenPool, throttle *Throttle) *Authenticator {
	return &Authenticator{
		LoginURL:   loginURL,
		Email:      email,
		Password:   password,
		Pool:       pool,
		Throttle:   throttle,
		MaxRetries: DefaultMaxLoginRetries,
		RetryDelay: DefaultRetryDelay,
		rng:        rand.New(rand.NewSource(rand.Int63())),
		sleep:      sleepContext,
		login:      PasswordLogin,
	}
}

// SetLoginURL points later logins at a new URL
func (a *Authenticator) SetLoginURL(url string) {
	a.urlMu.Lock()
	a.LoginURL = url
	a.urlMu.Unlock()
}

// failureMessage is the text recorded in the Login stats entry
func failureMessage(result LoginResult, err error) string {
	if result.StatusCode != 0 {
		return fmt.Sprintf("Login failed with status code: %d", result.StatusCode)
	}
	return err.Error()
}

func (a *Authenticator) loginURL() string {
	a.urlMu.RLock()
	defer a.urlMu.RUnlock()
	return a.LoginURL
}

// RateLimitBackoff returns the wait after the given 1-based 429 attempt
func RateLimitBackoff(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return 3*time.Second + time.Duration(rng.Float64()*float64(2*time.Second))
	}
	base := time.Duration(math.Min(float64(MaxRateLimitBackoff), float64(time.Duration(3*attempt)*time.Second)))
	return base + time.Duration(rng.Float64()*float64(3*time.Second))
}

// Login fetches a fresh token. On success it is added to the pool. When every
// attempt fails a pooled token is returned instead, if any.
func (a *Authenticator) Login(ctx context.Context) (string, error) {
	if a.Throttle != nil {
		if _, err := a.Throttle.Acquire(ctx); err != nil {
			return "", err
		}
	}

	retries := a.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxLoginRetries
	}

	for attempt := 1; attempt <= retries; attempt++ {
		result, err := a.login(ctx, a.Client, a.loginURL(), a.Email, a.Password)
		switch {
		case err == nil:
			a.report(result.StatusCode, result.Duration, "")
			if a.Pool != nil {
				a.Pool.Add(result.Token)
			}
			if a.Throttle != nil {
				a.Throttle.RecordSuccess()
			}
			return result.Token, nil

		case errors.Is(err, ErrRateLimited):
			// 429 is expected under load and not counted as a failure
			a.report(result.StatusCode, result.Duration, "")
			if attempt < retries {
				if err := a.sleep(ctx, RateLimitBackoff(attempt, a.rng)); err != nil {
					return "", err
				}
			}

		default:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			a.report(result.StatusCode, result.Duration, failureMessage(result, err))
			if attempt < retries {
				if err := a.sleep(ctx, a.RetryDelay); err != nil {
					return "", err
				}
			}
		}
	}

	if a.Pool != nil {
		if token, err := a.Pool.Get(); err == nil {
			return token, nil
		}
	}
	if a.Throttle != nil {
		a.Throttle.RecordFailure()
	}
	return "", ErrLoginFailed
}

// Token returns the token a user should send. A user keeps its own token,
// otherwise borrows one from the pool and only logs in when the pool is empty.
func (a *Authenticator) Token(ctx context.Context, own string) (string, error) {
	if own != "" {
		return own, nil
	}
	if a.Pool != nil {
		if token, err := a.Pool.Get(); err == nil {
			return token, nil
		}
	}
	return a.Login(ctx)
}

// ShouldSkipLogin decides whether an explicit login task may be skipped:
// usually when the user already holds a token and the pool is healthy, and
// often when logins have been frequent recently.
func (a *Authenticator) ShouldSkipLogin(hasToken bool) bool {
	if hasToken && a.Pool != nil && a.Pool.Len() >= 3 && a.rng.Float64() < 0.8 {
		return true
	}
	if a.Throttle != nil && a.Throttle.ShouldSkipLoginTask(a.rng.Float64()) {
		return true
	}
	return false
}

func (a *Authenticator) report(status int, elapsed time.Duration, failure string) {
	if a.Report != nil {
		a.Report(status, elapsed, failure)
	}
}
