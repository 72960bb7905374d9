package auth

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	// MinLoginInterval is the minimum spacing between login attempts across all users
	MinLoginInterval = 2 * time.Second
	// MaxLoginJitter is added on top of the remaining interval when a caller must wait
	MaxLoginJitter = time.Second
	// AttemptResetAfter resets the attempt counter after this long without logins
	AttemptResetAfter = 120 * time.Second
	// HighAttemptThreshold marks the login rate as high
	HighAttemptThreshold = 10
)

// Throttle spaces out logins from all simulated users and keeps login counters
type Throttle struct {
	mu        sync.Mutex
	last      time.Time
	attempts  int
	successes int
	failures  int
	rng       *rand.Rand
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewThrottle creates a throttle using the wall clock
func NewThrottle(rng *rand.Rand) *Throttle {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Throttle{
		rng:   rng,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Acquire blocks until a login may start, then counts the attempt.
// Returns how long the caller waited.
func (t *Throttle) Acquire(ctx context.Context) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var waited time.Duration
	since := t.now().Sub(t.last)
	if !t.last.IsZero() && since < MinLoginInterval {
		waited = MinLoginInterval - since + time.Duration(t.rng.Float64()*float64(MaxLoginJitter))
		if err := t.sleep(ctx, waited); err != nil {
			return 0, err
		}
	}

	t.last = t.now()
	t.attempts++
	return waited, nil
}

// ShouldSkipLoginTask reports whether an explicit login task should be
// skipped because logins are already frequent. roll is a uniform [0,1) draw.
func (t *Throttle) ShouldSkipLoginTask(roll float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attempts <= HighAttemptThreshold {
		return false
	}
	if t.now().Sub(t.last) > AttemptResetAfter {
		t.attempts = 0
		return false
	}
	return roll < 0.6
}

// RecordSuccess counts a successful login
func (t *Throttle) RecordSuccess() {
	t.mu.Lock()
	t.successes++
	t.mu.Unlock()
}

// RecordFailure counts a login that gave up with no pooled token to fall back on
func (t *Throttle) RecordFailure() {
	t.mu.Lock()
	t.failures++
	t.mu.Unlock()
}

// Counters returns attempts, successes and failures
func (t *Throttle) Counters() (attempts, successes, failures int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts, t.successes, t.failures
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
