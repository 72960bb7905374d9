package stats

import (
	"math"
	"sort"
	"time"
)

// AggregatedName is the name of the row holding totals across all entries
const AggregatedName = "Aggregated"

// currentWindow is the number of seconds used for current_rps
const currentWindow = 10

// Entry holds statistics for a single (method, name) pair
type Entry struct {
	Name               string
	Method             string
	NumRequests        int64
	NumFailures        int64
	TotalResponseTime  float64 // ms
	MinResponseTime    float64 // ms, valid when NumRequests > 0
	MaxResponseTime    float64 // ms
	TotalContentLength int64
	ResponseTimes      map[int64]int64 // rounded ms -> count
	NumReqsPerSec      map[int64]int64 // unix second -> count
	NumFailPerSec      map[int64]int64 // unix second -> count
	StartTime          time.Time
	LastRequest        time.Time
}

func newEntry(method, name string, start time.Time) *Entry {
	return &Entry{
		Name:          name,
		Method:        method,
		ResponseTimes: make(map[int64]int64),
		NumReqsPerSec: make(map[int64]int64),
		NumFailPerSec: make(map[int64]int64),
		StartTime:     start,
	}
}

func (e *Entry) logRequest(now time.Time, responseTimeMs float64, contentLength int64) {
	if e.NumRequests == 0 || responseTimeMs < e.MinResponseTime {
		e.MinResponseTime = responseTimeMs
	}
	if responseTimeMs > e.MaxResponseTime {
		e.MaxResponseTime = responseTimeMs
	}

	e.NumRequests++
	e.TotalResponseTime += responseTimeMs
	e.TotalContentLength += contentLength
	e.ResponseTimes[roundResponseTime(responseTimeMs)]++
	e.NumReqsPerSec[now.Unix()]++
	e.LastRequest = now
}

func (e *Entry) logFailure(now time.Time) {
	e.NumFailures++
	e.NumFailPerSec[now.Unix()]++
}

// extend adds the counters of other into e
func (e *Entry) extend(other *Entry) {
	if other.NumRequests > 0 {
		if e.NumRequests == 0 || other.MinResponseTime < e.MinResponseTime {
			e.MinResponseTime = other.MinResponseTime
		}
		if other.MaxResponseTime > e.MaxResponseTime {
			e.MaxResponseTime = other.MaxResponseTime
		}
	}
	if e.StartTime.IsZero() || (!other.StartTime.IsZero() && other.StartTime.Before(e.StartTime)) {
		e.StartTime = other.StartTime
	}
	if other.LastRequest.After(e.LastRequest) {
		e.LastRequest = other.LastRequest
	}

	e.NumRequests += other.NumRequests
	e.NumFailures += other.NumFailures
	e.TotalResponseTime += other.TotalResponseTime
	e.TotalContentLength += other.TotalContentLength

	for k, v := range other.ResponseTimes {
		e.ResponseTimes[k] += v
	}
	for k, v := range other.NumReqsPerSec {
		e.NumReqsPerSec[k] += v
	}
	for k, v := range other.NumFailPerSec {
		e.NumFailPerSec[k] += v
	}
}

func (e *Entry) clone() *Entry {
	c := newEntry(e.Method, e.Name, e.StartTime)
	c.extend(e)
	c.StartTime = e.StartTime
	return c
}

// AvgResponseTime returns the mean response time in milliseconds
func (e *Entry) AvgResponseTime() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	return e.TotalResponseTime / float64(e.NumRequests)
}

// Min returns the minimum response time, or 0 if no results
func (e *Entry) Min() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	return e.MinResponseTime
}

// AvgContentLength returns the mean response body size in bytes
func (e *Entry) AvgContentLength() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	return float64(e.TotalContentLength) / float64(e.NumRequests)
}

// FailRatio returns failures / requests, or 0 when there were no requests
func (e *Entry) FailRatio() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	return float64(e.NumFailures) / float64(e.NumRequests)
}

// Median returns the median response time from the rounded buckets
func (e *Entry) Median() float64 {
	if e.NumRequests == 0 {
		return 0
	}

	keys := sortedKeys(e.ResponseTimes)
	pos := (e.NumRequests - 1) / 2
	median := int64(0)
	for _, k := range keys {
		if pos < e.ResponseTimes[k] {
			median = k
			break
		}
		pos -= e.ResponseTimes[k]
	}

	// rounding may push the bucket above the real maximum
	if float64(median) > e.MaxResponseTime {
		return e.MaxResponseTime
	}
	return float64(median)
}

// Percentile returns the response time below which the given fraction
// (0..1) of requests fall. Returns 0 when there are no requests.
func (e *Entry) Percentile(p float64) float64 {
	if e.NumRequests == 0 {
		return 0
	}

	keys := sortedKeys(e.ResponseTimes)
	threshold := int64(float64(e.NumRequests) * p)
	processed := int64(0)
	for i := len(keys) - 1; i >= 0; i-- {
		processed += e.ResponseTimes[keys[i]]
		if e.NumRequests-processed <= threshold {
			return float64(keys[i])
		}
	}
	return 0
}

// CurrentRPS returns the average requests per second over the recent window
func (e *Entry) CurrentRPS(now time.Time) float64 {
	return windowAverage(e.NumReqsPerSec, e.StartTime, now)
}

// CurrentFailPerSec returns the average failures per second over the recent window
func (e *Entry) CurrentFailPerSec(now time.Time) float64 {
	return windowAverage(e.NumFailPerSec, e.StartTime, now)
}

// TotalRPS returns the average requests per second since the first request
func (e *Entry) TotalRPS() float64 {
	if e.NumRequests == 0 || e.StartTime.IsZero() {
		return 0
	}
	elapsed := e.LastRequest.Sub(e.StartTime).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(e.NumRequests) / elapsed
}

func windowAverage(perSec map[int64]int64, start, now time.Time) float64 {
	if len(perSec) == 0 {
		return 0
	}

	window := int64(currentWindow)
	if !start.IsZero() {
		if since := now.Unix() - start.Unix(); since < window {
			window = since
		}
	}
	if window < 1 {
		window = 1
	}

	end := now.Unix()
	var total int64
	for sec := end - window; sec < end; sec++ {
		total += perSec[sec]
	}
	return float64(total) / float64(window)
}

// roundResponseTime buckets response times: exact below 100 ms,
// then to 2 significant digits
func roundResponseTime(ms float64) int64 {
	switch {
	case ms < 100:
		return int64(math.Round(ms))
	case ms < 1000:
		return int64(math.Round(ms/10) * 10)
	case ms < 10000:
		return int64(math.Round(ms/100) * 100)
	default:
		return int64(math.Round(ms/1000) * 1000)
	}
}

func sortedKeys(m map[int64]int64) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}
