package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"

	"github.com/studiowebux/swarm/internal/stats"
)

// Request describes one HTTP call made by a simulated user
type Request struct {
	Method  string
	Path    string
	Name    string // stats entry name; defaults to Path
	JSON    interface{}
	Form    url.Values
	Headers map[string]string
}

// Response is the result of a request. Err is set when no HTTP response arrived.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	Err        error
}

// JSON decodes the body into v
func (r *Response) JSON(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Search evaluates a JMESPath expression against the JSON body
func (r *Response) Search(expression string) (interface{}, error) {
	var data interface{}
	if err := r.JSON(&data); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return jmespath.Search(expression, data)
}

// CheckFunc decides whether a response counts as a success. It returns the
// failure message to record, or "" for a success.
type CheckFunc func(resp *Response) string

// ExpectStatus accepts any of the given status codes
func ExpectStatus(codes ...int) CheckFunc {
	return func(resp *Response) string {
		for _, c := range codes {
			if resp.StatusCode == c {
				return ""
			}
		}
		return fmt.Sprintf("Unexpected status code: %d", resp.StatusCode)
	}
}

// Client sends requests for a simulated user and records them in a stats registry
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Stats   *stats.Registry
	Headers map[string]string
}

// NewClient creates a client for host
func NewClient(host string, httpClient *http.Client, registry *stats.Registry) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL: strings.TrimRight(host, "/"),
		HTTP:    httpClient,
		Stats:   registry,
		Headers: map[string]string{},
	}
}

// Do sends req and records it. check decides success; when nil any status
// below 400 is a success. Transport errors are always failures.
func (c *Client) Do(ctx context.Context, req Request, check CheckFunc) *Response {
	name := req.Name
	if name == "" {
		name = req.Path
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp := c.send(ctx, method, req)
	ms := float64(resp.Elapsed) / float64(time.Millisecond)

	// requests interrupted by a stopping run are not recorded
	if c.Stats == nil || (resp.Err != nil && ctx.Err() != nil) {
		return resp
	}

	c.Stats.Log(method, name, ms, int64(len(resp.Body)))
	if resp.Err != nil {
		c.Stats.LogError(method, name, resp.Err.Error())
		return resp
	}

	if check == nil {
		check = defaultCheck
	}
	if failure := check(resp); failure != "" {
		c.Stats.LogError(method, name, failure)
	}
	return resp
}

func defaultCheck(resp *Response) string {
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return ""
}

func (c *Client) send(ctx context.Context, method string, req Request) *Response {
	resp := &Response{}

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			resp.Err = fmt.Errorf("failed to encode body: %w", err)
			return resp
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+req.Path, body)
	if err != nil {
		resp.Err = fmt.Errorf("failed to create request: %w", err)
		return resp
	}
	for k, v := range c.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		resp.Elapsed = time.Since(start)
		resp.Err = err
		return resp
	}
	defer httpResp.Body.Close()

	resp.Body, err = io.ReadAll(httpResp.Body)
	resp.Elapsed = time.Since(start)
	resp.StatusCode = httpResp.StatusCode
	resp.Header = httpResp.Header
	if err != nil {
		resp.Err = fmt.Errorf("failed to read response: %w", err)
	}
	return resp
}
