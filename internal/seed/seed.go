// Package seed prepares a target application for a load test: it makes sure
// the test account exists, logs in with it and verifies that every endpoint
// the scenarios hit is reachable.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/swarm/internal/auth"
	"github.com/studiowebux/swarm/internal/config"
)

var (
	// ErrUnreachable is returned when the health endpoint cannot be contacted
	ErrUnreachable = errors.New("server unreachable")
	// ErrSignupFailed is returned when the test account could not be created
	ErrSignupFailed = errors.New("failed to create test user")
	// ErrCreateItemFailed is returned when the item round trip cannot start
	ErrCreateItemFailed = errors.New("create item failed")
)

// Check is the outcome of probing one endpoint. Any answer below 500 counts
// as available.
type Check struct {
	Name    string `json:"name"`
	Method  string `json:"method"`
	Path    string `json:"path"`
	OK      bool   `json:"ok"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Result summarises a seed run
type Result struct {
	LoadTesting   bool    `json:"load_testing"`
	Healthy       bool    `json:"healthy"`
	UserCreated   bool    `json:"user_created"`
	UserExisted   bool    `json:"user_existed"`
	Authenticated bool    `json:"authenticated"`
	Superuser     bool    `json:"superuser"`
	ItemID        string  `json:"item_id,omitempty"`
	Checks        []Check `json:"checks"`
}

// Failed returns the checks that did not pass
func (r *Result) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.OK {
			failed = append(failed, c)
		}
	}
	return failed
}

// Seeder talks to the application under test
type Seeder struct {
	BaseURL     string
	Endpoints   config.Endpoints
	User        config.TestUser
	Client      *http.Client
	LoadTesting bool // the target runs on a pre-seeded mock store
}

// New returns a seeder for settings
func New(settings *config.Settings) *Seeder {
	return &Seeder{
		BaseURL:   strings.TrimRight(settings.BaseURL, "/"),
		Endpoints: settings.Endpoints,
		User:      settings.TestUser,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Run creates the test user if needed and verifies the endpoints
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	if s.LoadTesting {
		logrus.WithField("email", s.User.Email).Info("Load testing mode, using the pre-configured test user")
		return &Result{LoadTesting: true}, nil
	}

	result := &Result{}

	status, body, err := s.do(ctx, http.MethodGet, s.Endpoints.Health, "", nil, "")
	if err != nil {
		return result, fmt.Errorf("%w at %s: %v", ErrUnreachable, s.BaseURL, err)
	}
	result.Healthy = status == http.StatusOK
	if !result.Healthy {
		logrus.WithField("status", status).Warnf("Health check failed: %s", body)
	}

	if err := s.signup(ctx, result); err != nil {
		return result, err
	}

	token := s.login(ctx, result)
	if token != "" {
		s.checkSuperuser(ctx, token, result)
	}

	result.Checks = s.verify(ctx, token)

	crud, err := s.itemRoundTrip(ctx, token, result)
	result.Checks = append(result.Checks, crud...)
	if err != nil {
		return result, err
	}

	logrus.WithFields(logrus.Fields{
		"checks": len(result.Checks),
		"failed": len(result.Failed()),
	}).Info("Endpoint verification complete")
	return result, nil
}

func (s *Seeder) signupPath() string {
	return strings.TrimRight(s.Endpoints.Users, "/") + "/signup"
}

func (s *Seeder) signup(ctx context.Context, result *Result) error {
	payload, err := json.Marshal(map[string]string{
		"email":     s.User.Email,
		"password":  s.User.Password,
		"full_name": s.User.FullName,
	})
	if err != nil {
		return err
	}

	status, body, err := s.do(ctx, http.MethodPost, s.signupPath(), "", payload, "application/json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignupFailed, err)
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		result.UserCreated = true
		logrus.WithField("email", s.User.Email).Info("Created test user")
	case status == http.StatusBadRequest && strings.Contains(string(body), "already exists"):
		result.UserExisted = true
		logrus.WithField("email", s.User.Email).Info("Test user already exists")
	default:
		return fmt.Errorf("%w: status code %d: %s", ErrSignupFailed, status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *Seeder) login(ctx context.Context, result *Result) string {
	login, err := auth.PasswordLogin(ctx, s.Client, s.BaseURL+s.Endpoints.Login, s.User.Email, s.User.Password)
	if err != nil {
		logrus.WithError(err).Warn("Failed to authenticate, continuing with endpoint verification")
		return ""
	}
	result.Authenticated = true
	return login.Token
}

func (s *Seeder) checkSuperuser(ctx context.Context, token string, result *Result) {
	status, body, err := s.do(ctx, http.MethodGet, s.mePath(), token, nil, "")
	if err != nil || status != http.StatusOK {
		logrus.WithField("status", status).Warn("Failed to check superuser status")
		return
	}

	var me struct {
		IsSuperuser bool `json:"is_superuser"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		logrus.WithError(err).Warn("Unexpected /users/me response")
		return
	}
	result.Superuser = me.IsSuperuser
	if !me.IsSuperuser {
		logrus.Warn("The test user does not have superuser privileges; the users list will answer 403. " +
			"If privileges were just granted, log in again to get a fresh token.")
	}
}

func (s *Seeder) mePath() string {
	return strings.TrimRight(s.Endpoints.Users, "/") + "/me"
}

type probe struct {
	name        string
	method      string
	path        string
	auth        bool
	body        []byte
	contentType string
}

// verify probes the read-only endpoints concurrently
func (s *Seeder) verify(ctx context.Context, token string) []Check {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {s.User.Email},
		"password":   {s.User.Password},
	}
	probes := []probe{
		{name: "Health", method: http.MethodGet, path: s.Endpoints.Health},
		{name: "Login", method: http.MethodPost, path: s.Endpoints.Login,
			body: []byte(form.Encode()), contentType: "application/x-www-form-urlencoded"},
		{name: "Current user", method: http.MethodGet, path: s.mePath(), auth: true},
		{name: "Users list", method: http.MethodGet, path: s.Endpoints.Users, auth: true},
		{name: "Items list", method: http.MethodGet, path: s.Endpoints.Items, auth: true},
	}

	checks := make([]Check, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			bearer := ""
			if p.auth {
				bearer = token
			}
			checks[i] = s.check(gctx, p, bearer)
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range checks {
		if c.Name == "Users list" && (c.Status == http.StatusUnauthorized || c.Status == http.StatusForbidden) {
			logrus.Warn("The users list requires superuser privileges")
		}
	}
	return checks
}

// itemRoundTrip creates an item then reads, updates and deletes it
func (s *Seeder) itemRoundTrip(ctx context.Context, token string, result *Result) ([]Check, error) {
	itemsPath := strings.TrimRight(s.Endpoints.Items, "/") + "/"
	payload, _ := json.Marshal(map[string]string{
		"title":       "Test Item for Load Testing",
		"description": "This is a test item created to verify the items endpoint",
	})

	status, body, err := s.do(ctx, http.MethodPost, itemsPath, token, payload, "application/json")
	create := s.toCheck(probe{name: "Create item", method: http.MethodPost, path: itemsPath}, status, err)
	if err != nil || status < 200 || status >= 300 {
		create.OK = false
		return []Check{create}, fmt.Errorf("%w: %s", ErrCreateItemFailed, create.Message)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		create.OK = false
		return []Check{create}, fmt.Errorf("%w: response has no item id", ErrCreateItemFailed)
	}
	result.ItemID = created.ID
	logrus.WithField("id", created.ID).Info("Created test item")

	itemPath := itemsPath + url.PathEscape(created.ID)
	update, _ := json.Marshal(map[string]string{
		"title":       "Test Item for Load Testing Updated",
		"description": "This is a test item created to verify the items endpoint Updated",
	})
	checks := []Check{create}
	for _, p := range []probe{
		{name: "Read item", method: http.MethodGet, path: itemPath},
		{name: "Update item", method: http.MethodPut, path: itemPath, body: update, contentType: "application/json"},
		{name: "Delete item", method: http.MethodDelete, path: itemPath},
	} {
		checks = append(checks, s.check(ctx, p, token))
	}
	return checks, nil
}

func (s *Seeder) check(ctx context.Context, p probe, token string) Check {
	status, _, err := s.do(ctx, p.method, p.path, token, p.body, p.contentType)
	c := s.toCheck(p, status, err)
	entry := logrus.WithFields(logrus.Fields{"endpoint": p.name, "status": status})
	if c.OK {
		entry.Debug(c.Message)
	} else {
		entry.Warn(c.Message)
	}
	return c
}

func (s *Seeder) toCheck(p probe, status int, err error) Check {
	target := s.BaseURL + p.path
	c := Check{Name: p.name, Method: p.method, Path: p.path, Status: status}
	if err != nil {
		c.Message = fmt.Sprintf("Error checking %s %s: %v", p.method, target, err)
		return c
	}
	c.OK = status < http.StatusInternalServerError
	c.Message = fmt.Sprintf("%s %s: %d", p.method, target, status)
	return c
}

func (s *Seeder) do(ctx context.Context, method, path, token string, body []byte, contentType string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
