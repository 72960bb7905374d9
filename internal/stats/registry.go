package stats

import (
	"sort"
	"sync"
	"time"
)

// Observer receives every logged request and failure.
// Used to feed external collectors such as Prometheus.
type Observer interface {
	ObserveRequest(method, name string, responseTimeMs float64, contentLength int64)
	ObserveFailure(method, name, message string)
}

// Failure is an aggregated error for a (method, name, error) triple
type Failure struct {
	Method      string `json:"method"`
	Name        string `json:"name"`
	Error       string `json:"error"`
	Occurrences int64  `json:"occurrences"`
}

// Exception is an unexpected error raised inside user code
type Exception struct {
	Count     int64    `json:"count"`
	Msg       string   `json:"msg"`
	Traceback string   `json:"traceback"`
	Nodes     []string `json:"nodes"`
}

type entryKey struct {
	method string
	name   string
}

// Registry collects request statistics. All methods are thread-safe.
type Registry struct {
	mu         sync.Mutex
	entries    map[entryKey]*Entry
	total      *Entry
	failures   map[string]*Failure
	exceptions map[string]*Exception
	observers  []Observer
	now        func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock creates an empty registry using now as its clock
func NewRegistryWithClock(now func() time.Time) *Registry {
	r := &Registry{now: now}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.entries = make(map[entryKey]*Entry)
	r.total = newEntry("", AggregatedName, time.Time{})
	r.failures = make(map[string]*Failure)
	r.exceptions = make(map[string]*Exception)
}

// AddObserver registers an observer for future requests
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) entry(method, name string, now time.Time) *Entry {
	key := entryKey{method: method, name: name}
	e, ok := r.entries[key]
	if !ok {
		e = newEntry(method, name, now)
		r.entries[key] = e
	}
	if r.total.StartTime.IsZero() {
		r.total.StartTime = now
	}
	return e
}

// Log records a completed request. It is called for successes and failures alike.
func (r *Registry) Log(method, name string, responseTimeMs float64, contentLength int64) {
	r.mu.Lock()
	now := r.now()
	r.entry(method, name, now).logRequest(now, responseTimeMs, contentLength)
	r.total.logRequest(now, responseTimeMs, contentLength)
	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o.ObserveRequest(method, name, responseTimeMs, contentLength)
	}
}

// LogError records a failed request
func (r *Registry) LogError(method, name, message string) {
	r.mu.Lock()
	now := r.now()
	r.entry(method, name, now).logFailure(now)
	r.total.logFailure(now)

	key := method + "." + name + "." + message
	f, ok := r.failures[key]
	if !ok {
		f = &Failure{Method: method, Name: name, Error: message}
		r.failures[key] = f
	}
	f.Occurrences++
	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o.ObserveFailure(method, name, message)
	}
}

// LogException records an unexpected error from user code on the given node
func (r *Registry) LogException(node, msg, traceback string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := msg + "\n" + traceback
	ex, ok := r.exceptions[key]
	if !ok {
		ex = &Exception{Msg: msg, Traceback: traceback}
		r.exceptions[key] = ex
	}
	ex.Count++
	if node != "" && !contains(ex.Nodes, node) {
		ex.Nodes = append(ex.Nodes, node)
	}
}

// Reset clears all collected statistics
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Total returns a copy of the aggregated entry
func (r *Registry) Total() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total.clone()
}

// Entries returns copies of all entries sorted by name then method
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e.clone())
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Method < entries[j].Method
	})
	return entries
}

// Failures returns aggregated failures sorted by occurrences (desc)
func (r *Registry) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()

	failures := make([]Failure, 0, len(r.failures))
	for _, f := range r.failures {
		failures = append(failures, *f)
	}
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Occurrences != failures[j].Occurrences {
			return failures[i].Occurrences > failures[j].Occurrences
		}
		return failures[i].Name < failures[j].Name
	})
	return failures
}

// Exceptions returns recorded exceptions sorted by count (desc)
func (r *Registry) Exceptions() []Exception {
	r.mu.Lock()
	defer r.mu.Unlock()

	exceptions := make([]Exception, 0, len(r.exceptions))
	for _, ex := range r.exceptions {
		c := *ex
		c.Nodes = append([]string(nil), ex.Nodes...)
		exceptions = append(exceptions, c)
	}
	sort.Slice(exceptions, func(i, j int) bool {
		if exceptions[i].Count != exceptions[j].Count {
			return exceptions[i].Count > exceptions[j].Count
		}
		return exceptions[i].Msg < exceptions[j].Msg
	})
	return exceptions
}

// Now returns the registry clock's current time
func (r *Registry) Now() time.Time {
	return r.now()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
