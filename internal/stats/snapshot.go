package stats

import "time"

// EntrySnapshot is the wire form of an Entry, sent from workers to the master
type EntrySnapshot struct {
	Name               string          `json:"name"`
	Method             string          `json:"method"`
	NumRequests        int64           `json:"num_requests"`
	NumFailures        int64           `json:"num_failures"`
	TotalResponseTime  float64         `json:"total_response_time"`
	MinResponseTime    float64         `json:"min_response_time"`
	MaxResponseTime    float64         `json:"max_response_time"`
	TotalContentLength int64           `json:"total_content_length"`
	ResponseTimes      map[int64]int64 `json:"response_times"`
	NumReqsPerSec      map[int64]int64 `json:"num_reqs_per_sec"`
	NumFailPerSec      map[int64]int64 `json:"num_fail_per_sec"`
	StartTime          time.Time       `json:"start_time"`
	LastRequest        time.Time       `json:"last_request_timestamp"`
}

// Snapshot is a serializable copy of a registry
type Snapshot struct {
	Entries    []EntrySnapshot `json:"stats"`
	Total      EntrySnapshot   `json:"stats_total"`
	Failures   []Failure       `json:"errors"`
	Exceptions []Exception     `json:"exceptions"`
}

func snapshotOf(e *Entry) EntrySnapshot {
	c := e.clone()
	return EntrySnapshot{
		Name:               c.Name,
		Method:             c.Method,
		NumRequests:        c.NumRequests,
		NumFailures:        c.NumFailures,
		TotalResponseTime:  c.TotalResponseTime,
		MinResponseTime:    c.MinResponseTime,
		MaxResponseTime:    c.MaxResponseTime,
		TotalContentLength: c.TotalContentLength,
		ResponseTimes:      c.ResponseTimes,
		NumReqsPerSec:      c.NumReqsPerSec,
		NumFailPerSec:      c.NumFailPerSec,
		StartTime:          c.StartTime,
		LastRequest:        c.LastRequest,
	}
}

func (s EntrySnapshot) entry() *Entry {
	e := newEntry(s.Method, s.Name, s.StartTime)
	e.NumRequests = s.NumRequests
	e.NumFailures = s.NumFailures
	e.TotalResponseTime = s.TotalResponseTime
	e.MinResponseTime = s.MinResponseTime
	e.MaxResponseTime = s.MaxResponseTime
	e.TotalContentLength = s.TotalContentLength
	e.LastRequest = s.LastRequest
	for k, v := range s.ResponseTimes {
		e.ResponseTimes[k] = v
	}
	for k, v := range s.NumReqsPerSec {
		e.NumReqsPerSec[k] = v
	}
	for k, v := range s.NumFailPerSec {
		e.NumFailPerSec[k] = v
	}
	return e
}

// Drain returns everything collected since the previous Drain and clears
// the registry. Workers send these deltas to the master.
func (r *Registry) Drain() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{Total: snapshotOf(r.total)}
	for _, e := range r.entries {
		snap.Entries = append(snap.Entries, snapshotOf(e))
	}
	for _, f := range r.failures {
		snap.Failures = append(snap.Failures, *f)
	}
	for _, ex := range r.exceptions {
		snap.Exceptions = append(snap.Exceptions, *ex)
	}

	r.reset()
	return snap
}

// Merge adds a snapshot (usually a worker delta) into the registry.
// Observers are not notified; merged data was already observed on its node.
func (r *Registry) Merge(snap Snapshot, node string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, es := range snap.Entries {
		incoming := es.entry()
		key := entryKey{method: es.Method, name: es.Name}
		e, ok := r.entries[key]
		if !ok {
			e = newEntry(es.Method, es.Name, es.StartTime)
			r.entries[key] = e
		}
		e.extend(incoming)
	}
	r.total.extend(snap.Total.entry())

	for _, f := range snap.Failures {
		key := f.Method + "." + f.Name + "." + f.Error
		existing, ok := r.failures[key]
		if !ok {
			copied := f
			copied.Occurrences = 0
			existing = &copied
			r.failures[key] = existing
		}
		existing.Occurrences += f.Occurrences
	}

	for _, ex := range snap.Exceptions {
		key := ex.Msg + "\n" + ex.Traceback
		existing, ok := r.exceptions[key]
		if !ok {
			existing = &Exception{Msg: ex.Msg, Traceback: ex.Traceback}
			r.exceptions[key] = existing
		}
		existing.Count += ex.Count
		if node != "" && !contains(existing.Nodes, node) {
			existing.Nodes = append(existing.Nodes, node)
		}
	}
}
