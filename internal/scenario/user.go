package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"
	"github.com/sirupsen/logrus"

	"github.com/studiowebux/swarm/internal/auth"
	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/stats"
)

// ErrUnknownScenario is returned by Lookup for names that are not registered
var ErrUnknownScenario = errors.New("unknown scenario")

// Task is one weighted action of a simulated user
type Task struct {
	Name   string
	Weight int
	Fn     func(ctx context.Context) error
}

// User is a simulated client. A runner calls OnStart once, then repeatedly
// picks a task and waits, and calls OnStop when the user is retired.
type User interface {
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context)
	Tasks() []Task
	Wait() time.Duration
}

// Env is shared by every user of a run
type Env struct {
	Settings *config.Settings
	Stats    *stats.Registry
	HTTP     *http.Client
	Auth     *auth.Authenticator
	IPs      *auth.IPPool
	SpoofIP  bool
	Logger   *logrus.Entry

	seedMu sync.Mutex
	seed   *rand.Rand

	hostMu sync.RWMutex
	host   string
}

// NewEnv builds the shared state for a run against host. The authenticator
// and IP pool are sized from settings.
func NewEnv(host string, settings *config.Settings, registry *stats.Registry) *Env {
	if settings == nil {
		settings = config.Default()
	}
	if host == "" {
		host = settings.BaseURL
	}
	host = strings.TrimRight(host, "/")

	httpClient := &http.Client{Timeout: 30 * time.Second}
	seed := rand.New(rand.NewSource(time.Now().UnixNano()))

	authenticator := auth.NewAuthenticator(
		host+settings.Endpoints.Login,
		settings.TestUser.Email,
		settings.TestUser.Password,
		auth.NewTokenPool(settings.TokenPoolSize, rand.New(rand.NewSource(seed.Int63()))),
		auth.NewThrottle(rand.New(rand.NewSource(seed.Int63()))),
	)
	authenticator.Client = httpClient
	authenticator.Report = func(status int, elapsed time.Duration, failure string) {
		ms := float64(elapsed) / float64(time.Millisecond)
		registry.Log(http.MethodPost, "Login", ms, 0)
		if failure != "" {
			registry.LogError(http.MethodPost, "Login", failure)
		}
	}

	return &Env{
		host:     host,
		Settings: settings,
		Stats:    registry,
		HTTP:     httpClient,
		Auth:     authenticator,
		IPs:      auth.NewIPPool(settings.IPPoolSize, rand.New(rand.NewSource(seed.Int63()))),
		SpoofIP:  settings.SpoofIP,
		Logger:   logrus.WithField("host", host),
		seed:     seed,
	}
}

// Rand returns an independent random source for one user
func (e *Env) Rand() *rand.Rand {
	e.seedMu.Lock()
	defer e.seedMu.Unlock()
	if e.seed == nil {
		e.seed = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return rand.New(rand.NewSource(e.seed.Int63()))
}

// Host returns the target base URL
func (e *Env) Host() string {
	e.hostMu.RLock()
	defer e.hostMu.RUnlock()
	return e.host
}

// SetHost retargets the run. Users created afterwards use the new host.
func (e *Env) SetHost(host string) {
	host = strings.TrimRight(host, "/")
	if host == "" {
		return
	}
	if e.Auth != nil {
		e.Auth.SetLoginURL(host + e.Settings.Endpoints.Login)
	}
	e.hostMu.Lock()
	e.host = host
	e.hostMu.Unlock()
}

// NewClient returns a stats-recording client for one user
func (e *Env) NewClient() *Client {
	return NewClient(e.Host(), e.HTTP, e.Stats)
}

// UserClass creates users of one kind. Weight sets its share of spawned users.
type UserClass struct {
	Name   string
	Weight int
	New    func(env *Env, id int) User
}

// Scenario is a named set of user classes, optionally with a default load shape
type Scenario struct {
	Name        string
	Description string
	Classes     []UserClass
	Shape       string
}

var (
	registryMu sync.RWMutex
	scenarios  = map[string]Scenario{}
)

// Register adds a scenario; later registrations replace earlier ones
func Register(s Scenario) {
	registryMu.Lock()
	defer registryMu.Unlock()
	scenarios[s.Name] = s
}

// Names returns registered scenario names in sorted order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the scenario registered under name
func Lookup(name string) (Scenario, error) {
	registryMu.RLock()
	s, ok := scenarios[name]
	registryMu.RUnlock()
	if ok {
		return s, nil
	}

	if suggestion := Suggest(name, Names()); suggestion != "" {
		return Scenario{}, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownScenario, name, suggestion)
	}
	return Scenario{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownScenario, name, strings.Join(Names(), ", "))
}

// Suggest returns the closest fuzzy match for input among candidates, or ""
func Suggest(input string, candidates []string) string {
	if input == "" {
		return ""
	}
	matches := fuzzy.Find(input, candidates)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

// WaitBetween returns a uniform wait function in [min, max]
func WaitBetween(min, max time.Duration, rng *rand.Rand) func() time.Duration {
	return func() time.Duration {
		if max <= min {
			return min
		}
		return min + time.Duration(rng.Int63n(int64(max-min)+1))
	}
}

// PickTask chooses a task by weight. Tasks with weight <= 0 are never picked.
func PickTask(tasks []Task, rng *rand.Rand) (Task, bool) {
	total := 0
	for _, t := range tasks {
		if t.Weight > 0 {
			total += t.Weight
		}
	}
	if total == 0 {
		return Task{}, false
	}

	n := rng.Intn(total)
	for _, t := range tasks {
		if t.Weight <= 0 {
			continue
		}
		if n < t.Weight {
			return t, true
		}
		n -= t.Weight
	}
	return Task{}, false
}
