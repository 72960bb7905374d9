package scenario

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

func init() {
	Register(Scenario{
		Name:        "basic",
		Description: "health check and sample endpoint, no authentication",
		Classes: []UserClass{
			{Name: "BasicUser", Weight: 1, New: NewBasicUser},
		},
	})
}

// BasicUser hits the health endpoint and a sample API endpoint
type BasicUser struct {
	env    *Env
	client *Client
	wait   func() time.Duration
}

// NewBasicUser creates a BasicUser
func NewBasicUser(env *Env, id int) User {
	min, max := env.Settings.GetWaitRange()
	return &BasicUser{
		env:    env,
		client: env.NewClient(),
		wait:   WaitBetween(min, max, env.Rand()),
	}
}

func (u *BasicUser) OnStart(context.Context) error { return nil }

func (u *BasicUser) OnStop(context.Context) {}

func (u *BasicUser) Wait() time.Duration { return u.wait() }

func (u *BasicUser) Tasks() []Task {
	return []Task{
		{Name: "health_check", Weight: 2, Fn: u.get("/health", "Health check")},
		{Name: "sample_api", Weight: 1, Fn: u.get("/api/sample", "Sample API")},
	}
}

func (u *BasicUser) get(path, label string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		resp := u.client.Do(ctx, Request{Method: http.MethodGet, Path: path}, func(r *Response) string {
			if r.StatusCode != http.StatusOK {
				return fmt.Sprintf("%s failed: %d %s", label, r.StatusCode, truncate(r.Body, 200))
			}
			return ""
		})
		if resp.Err == nil && resp.StatusCode == http.StatusOK {
			u.env.Logger.Debugf("%s success.", label)
		}
		return nil
	}
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n]) + "..."
	}
	return string(body)
}
