package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrRateLimited is returned when the login endpoint answers 429
	ErrRateLimited = errors.New("login rate limited")
	// ErrLoginFailed is returned when every login attempt failed and the pool is empty
	ErrLoginFailed = errors.New("all login attempts failed")
)

// LoginResult describes one call to the token endpoint
type LoginResult struct {
	Token      string
	StatusCode int // 0 when no HTTP response was received
	Duration   time.Duration
}

// PasswordLogin performs an OAuth2 resource owner password grant against
// loginURL. FastAPI's OAuth2PasswordRequestForm expects exactly this form body.
func PasswordLogin(ctx context.Context, client *http.Client, loginURL, username, password string) (LoginResult, error) {
	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  loginURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}

	start := time.Now()
	tok, err := conf.PasswordCredentialsToken(ctx, username, password)
	result := LoginResult{Duration: time.Since(start)}

	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			result.StatusCode = rerr.Response.StatusCode
			if result.StatusCode == http.StatusTooManyRequests {
				return result, ErrRateLimited
			}
			return result, fmt.Errorf("login failed with status code: %d", result.StatusCode)
		}
		return result, fmt.Errorf("login request failed: %w", err)
	}

	result.StatusCode = http.StatusOK
	result.Token = tok.AccessToken
	return result, nil
}
