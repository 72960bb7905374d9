package scenario

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// MCP endpoints that read-only clients may reach
var mcpAllowedEndpoints = []string{
	"/api/v1/items",
	"/api/v1/health",
	"/api/v1/notes",
}

// MCP endpoints that must not be exposed to tool clients
var mcpBlockedEndpoints = []string{
	"/api/v1/login/access-token",
	"/api/v1/users/signup",
	"/api/v1/users/me",
	"/api/v1/debug/clear-rate-limits",
	"/api/v1/admin/users",
}

func init() {
	Register(Scenario{
		Name:        "mcp",
		Description: "Model Context Protocol server endpoints and tools",
		Classes: []UserClass{
			{Name: "MCPServerUser", Weight: 1, New: mcpUserFactory(time.Second, 3*time.Second)},
		},
	})
	Register(Scenario{
		Name:        "mcp-mixed",
		Description: "MCP light (3) and heavy (1) users mixed by weight",
		Classes: []UserClass{
			{Name: "MCPLightLoad", Weight: 3, New: mcpUserFactory(2*time.Second, 5*time.Second)},
			{Name: "MCPHeavyLoad", Weight: 1, New: mcpUserFactory(500*time.Millisecond, 1500*time.Millisecond)},
		},
	})
}

// MCPUser simulates an LLM agent talking to the MCP server
type MCPUser struct {
	env     *Env
	client  *Client
	wait    func() time.Duration
	randInt func(n int) int
}

func mcpUserFactory(min, max time.Duration) func(env *Env, id int) User {
	return func(env *Env, id int) User {
		rng := env.Rand()
		client := env.NewClient()
		client.Headers = map[string]string{
			"Content-Type": "application/json",
			"User-Agent":   "MCP-LoadTest/1.0",
			"Accept":       "application/json",
		}
		return &MCPUser{
			env:     env,
			client:  client,
			wait:    WaitBetween(min, max, rng),
			randInt: rng.Intn,
		}
	}
}

func (u *MCPUser) OnStart(ctx context.Context) error {
	resp := u.client.Do(ctx, Request{Method: http.MethodGet, Path: "/api/v1/health"}, nil)
	switch {
	case resp.Err != nil:
		u.env.Logger.WithError(resp.Err).Error("Failed to connect to MCP server")
	case resp.StatusCode == http.StatusOK:
		u.env.Logger.Debug("MCP Server health check passed")
	default:
		u.env.Logger.Warnf("MCP Server health check failed: %d", resp.StatusCode)
	}
	return nil
}

func (u *MCPUser) OnStop(context.Context) {}

func (u *MCPUser) Wait() time.Duration { return u.wait() }

func (u *MCPUser) Tasks() []Task {
	return []Task{
		{Name: "mcp_status", Weight: 3, Fn: u.status},
		{Name: "mcp_health", Weight: 2, Fn: u.health},
		{Name: "mcp_discovery", Weight: 2, Fn: u.discovery},
		{Name: "mcp_tool_add", Weight: 1, Fn: u.toolAdd},
		{Name: "mcp_resource_version", Weight: 1, Fn: u.resourceVersion},
		{Name: "allowed_endpoints", Weight: 1, Fn: u.allowedEndpoints},
		{Name: "blocked_endpoints", Weight: 1, Fn: u.blockedEndpoints},
	}
}

func (u *MCPUser) status(ctx context.Context) error {
	u.client.Do(ctx, Request{Method: http.MethodGet, Path: "/api/v1/mcp/status"}, func(r *Response) string {
		if r.StatusCode != http.StatusOK {
			return fmt.Sprintf("Status endpoint failed: %d", r.StatusCode)
		}
		var data map[string]interface{}
		if err := r.JSON(&data); err != nil {
			return "Invalid JSON response"
		}
		if _, ok := data["status"]; !ok {
			return "Missing status in response"
		}
		return ""
	})
	return nil
}

func (u *MCPUser) health(ctx context.Context) error {
	u.client.Do(ctx, Request{Method: http.MethodGet, Path: "/api/v1/mcp/health"}, func(r *Response) string {
		if r.StatusCode != http.StatusOK {
			return fmt.Sprintf("Health endpoint failed: %d", r.StatusCode)
		}
		return ""
	})
	return nil
}

func (u *MCPUser) discovery(ctx context.Context) error {
	u.client.Do(ctx, Request{Method: http.MethodGet, Path: "/api/v1/mcp/discovery"}, func(r *Response) string {
		if r.StatusCode != http.StatusOK {
			return fmt.Sprintf("Discovery endpoint failed: %d", r.StatusCode)
		}
		var data interface{}
		if err := r.JSON(&data); err != nil {
			return "Invalid JSON in discovery response"
		}
		obj, ok := data.(map[string]interface{})
		if !ok {
			return "Invalid discovery response format"
		}
		_, hasTools := obj["tools"]
		_, hasResources := obj["resources"]
		if !hasTools && !hasResources {
			return "Invalid discovery response format"
		}
		return ""
	})
	return nil
}

func (u *MCPUser) toolAdd(ctx context.Context) error {
	a := u.randInt(100) + 1
	b := u.randInt(100) + 1
	payload := map[string]interface{}{
		"name":      "add",
		"arguments": map[string]int{"a": a, "b": b},
	}

	u.client.Do(ctx, Request{Method: http.MethodPost, Path: "/api/v1/tools/call", JSON: payload}, func(r *Response) string {
		if r.StatusCode != http.StatusOK {
			return fmt.Sprintf("Add tool failed: %d", r.StatusCode)
		}
		sum, err := r.Search("[0].info.sum")
		if err != nil {
			return "Invalid JSON in tool response"
		}
		if sum == nil {
			return "Invalid tool response format"
		}
		if n, ok := sum.(float64); !ok || int(n) != a+b {
			return fmt.Sprintf("Incorrect sum: expected %d", a+b)
		}
		return ""
	})
	return nil
}

func (u *MCPUser) resourceVersion(ctx context.Context) error {
	u.client.Do(ctx, Request{Method: http.MethodGet, Path: "/api/v1/resources/config://app-version"}, func(r *Response) string {
		if r.StatusCode != http.StatusOK {
			return fmt.Sprintf("Version resource failed: %d", r.StatusCode)
		}
		var version interface{}
		if err := r.JSON(&version); err != nil {
			return "Invalid JSON in resource response"
		}
		if s, ok := version.(string); !ok || s == "" {
			return "Invalid version resource response"
		}
		return ""
	})
	return nil
}

func (u *MCPUser) allowedEndpoints(ctx context.Context) error {
	for _, endpoint := range mcpAllowedEndpoints {
		endpoint := endpoint
		u.client.Do(ctx, Request{Method: http.MethodGet, Path: endpoint}, func(r *Response) string {
			switch r.StatusCode {
			case http.StatusOK, http.StatusNotFound, http.StatusUnauthorized:
				return ""
			}
			return fmt.Sprintf("Unexpected status %d for %s", r.StatusCode, endpoint)
		})
	}
	return nil
}

func (u *MCPUser) blockedEndpoints(ctx context.Context) error {
	for _, endpoint := range mcpBlockedEndpoints {
		endpoint := endpoint
		u.client.Do(ctx, Request{Method: http.MethodGet, Path: endpoint}, func(r *Response) string {
			switch r.StatusCode {
			case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
				return ""
			}
			return fmt.Sprintf("Sensitive endpoint %s not properly blocked: %d", endpoint, r.StatusCode)
		})
	}
	return nil
}
