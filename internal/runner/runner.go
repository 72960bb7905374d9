package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/swarm/internal/scenario"
)

// State is the lifecycle state of a runner. Values match the strings the
// stats API reports.
type State string

const (
	StateReady    State = "ready"
	StateSpawning State = "spawning"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

var (
	// ErrNoUserClasses is returned when a scenario has nothing to spawn
	ErrNoUserClasses = errors.New("no user classes with positive weight")
	// ErrInvalidSpawnRate is returned for spawn rates <= 0
	ErrInvalidSpawnRate = errors.New("spawn rate must be positive")
)

type userHandle struct {
	id     int
	class  string
	cancel context.CancelFunc
}

// Runner spawns simulated users and keeps them running until stopped
type Runner struct {
	env     *scenario.Env
	classes []scenario.UserClass
	slots   []int
	nodeID  string
	metrics *Metrics
	log     *logrus.Entry

	mu          sync.Mutex
	state       State
	stopping    bool
	users       []*userHandle
	nextID      int
	target      int
	runCtx      context.Context
	runCancel   context.CancelFunc
	spawnCancel context.CancelFunc
	group       *errgroup.Group
	startedAt   time.Time

	hookMu    sync.Mutex
	onStart   []func()
	onStop    []func()
	onSpawned []func(userCount int)

	shapeInterval time.Duration
}

// New creates a runner for the given user classes
func New(env *scenario.Env, classes []scenario.UserClass) (*Runner, error) {
	var slots []int
	for i, c := range classes {
		for w := 0; w < c.Weight; w++ {
			slots = append(slots, i)
		}
	}
	if len(slots) == 0 {
		return nil, ErrNoUserClasses
	}

	return &Runner{
		env:           env,
		classes:       classes,
		slots:         slots,
		state:         StateReady,
		log:           logrus.WithField("component", "runner"),
		shapeInterval: time.Second,
	}, nil
}

// SetNodeID tags exceptions recorded by this runner
func (r *Runner) SetNodeID(id string) {
	r.nodeID = id
	r.log = r.log.WithField("node", id)
}

// AttachMetrics feeds Prometheus collectors from this runner's stats
func (r *Runner) AttachMetrics(m *Metrics) {
	r.metrics = m
	r.env.Stats.AddObserver(m)
}

// Env returns the shared environment
func (r *Runner) Env() *scenario.Env {
	return r.env
}

// OnTestStart registers a hook fired when a run starts from ready or stopped
func (r *Runner) OnTestStart(fn func()) {
	r.hookMu.Lock()
	r.onStart = append(r.onStart, fn)
	r.hookMu.Unlock()
}

// OnTestStop registers a hook fired after all users have stopped
func (r *Runner) OnTestStop(fn func()) {
	r.hookMu.Lock()
	r.onStop = append(r.onStop, fn)
	r.hookMu.Unlock()
}

// OnSpawningComplete registers a hook fired when the target user count is reached
func (r *Runner) OnSpawningComplete(fn func(userCount int)) {
	r.hookMu.Lock()
	r.onSpawned = append(r.onSpawned, fn)
	r.hookMu.Unlock()
}

// State returns the current state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// UserCount returns the number of running users
func (r *Runner) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// ClassCounts returns running users per class name
func (r *Runner) ClassCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, u := range r.users {
		counts[u.class]++
	}
	return counts
}

// Start ramps the user count to userCount at spawnRate users per second.
// It returns immediately; calling it again while running retargets the ramp.
func (r *Runner) Start(ctx context.Context, userCount int, spawnRate float64) error {
	if spawnRate <= 0 {
		return ErrInvalidSpawnRate
	}
	if userCount < 0 {
		return fmt.Errorf("user count must not be negative: %d", userCount)
	}

	r.mu.Lock()
	fresh := r.state == StateReady || r.state == StateStopped
	if fresh {
		r.runCtx, r.runCancel = context.WithCancel(ctx)
		r.group = new(errgroup.Group)
		r.startedAt = time.Now()
	}
	if r.spawnCancel != nil {
		r.spawnCancel()
	}
	spawnCtx, cancel := context.WithCancel(r.runCtx)
	r.spawnCancel = cancel
	r.target = userCount
	r.state = StateSpawning
	r.mu.Unlock()

	if fresh {
		r.log.WithFields(logrus.Fields{"users": userCount, "spawn_rate": spawnRate}).Info("Starting load test")
		r.fire(&r.onStart)
	}

	go r.spawn(spawnCtx, userCount, spawnRate)
	return nil
}

func (r *Runner) spawn(ctx context.Context, target int, rate float64) {
	interval := time.Duration(float64(time.Second) / rate)

	for {
		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		current := len(r.users)
		if current == target {
			r.state = StateRunning
			r.mu.Unlock()

			r.log.WithField("users", target).Info("All users spawned")
			r.hookMu.Lock()
			hooks := append([]func(int){}, r.onSpawned...)
			r.hookMu.Unlock()
			for _, fn := range hooks {
				fn(target)
			}
			return
		}

		if current < target {
			r.addUserLocked()
		} else {
			last := r.users[current-1]
			r.users = r.users[:current-1]
			last.cancel()
		}
		n := len(r.users)
		r.mu.Unlock()

		if r.metrics != nil {
			r.metrics.SetUsers(n)
		}
		if n == target {
			continue
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) addUserLocked() {
	id := r.nextID
	r.nextID++
	class := r.classes[r.slots[id%len(r.slots)]]

	ctx, cancel := context.WithCancel(r.runCtx)
	r.users = append(r.users, &userHandle{id: id, class: class.Name, cancel: cancel})

	user := class.New(r.env, id)
	r.group.Go(func() error {
		r.runUser(ctx, user, id, class.Name)
		return nil
	})
}

func (r *Runner) runUser(ctx context.Context, user scenario.User, id int, class string) {
	log := r.log.WithFields(logrus.Fields{"user": id, "class": class})
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("User panicked: %v", rec)
			r.env.Stats.LogException(r.nodeID, fmt.Sprint(rec), string(debug.Stack()))
		}
	}()

	if err := user.OnStart(ctx); err != nil && ctx.Err() == nil {
		r.env.Stats.LogException(r.nodeID, err.Error(), "on_start")
	}

	rng := r.env.Rand()
	tasks := user.Tasks()
	for ctx.Err() == nil {
		if task, ok := scenario.PickTask(tasks, rng); ok {
			if err := task.Fn(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).WithField("task", task.Name).Warn("Task error")
				r.env.Stats.LogException(r.nodeID, err.Error(), "task "+task.Name)
			}
		}

		timer := time.NewTimer(user.Wait())
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	user.OnStop(context.Background())
}

// Stop stops every user and waits for them to return. Concurrent calls
// return at once; only the first fires the stop hooks.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.state == StateReady || r.state == StateStopped || r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	if r.spawnCancel != nil {
		r.spawnCancel()
	}
	r.runCancel()
	group := r.group
	r.users = nil
	r.target = 0
	r.mu.Unlock()

	group.Wait()

	r.mu.Lock()
	r.state = StateStopped
	r.stopping = false
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetUsers(0)
	}
	r.log.Info("Load test stopped")
	r.fire(&r.onStop)
}

func (r *Runner) fire(hooks *[]func()) {
	r.hookMu.Lock()
	list := append([]func(){}, (*hooks)...)
	r.hookMu.Unlock()
	for _, fn := range list {
		fn()
	}
}

// Options configures a blocking Run
type Options struct {
	Users     int
	SpawnRate float64
	RunTime   time.Duration // 0 runs until ctx is done
	Shape     Shape         // overrides Users and SpawnRate when set
}

// Run starts the test and blocks until the run time elapses, the shape
// ends, or ctx is cancelled. Users are stopped before it returns.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	var timeout <-chan time.Time
	if opts.RunTime > 0 {
		timer := time.NewTimer(opts.RunTime)
		defer timer.Stop()
		timeout = timer.C
	}

	if opts.Shape != nil {
		return r.runShape(ctx, opts.Shape, timeout)
	}

	if err := r.Start(ctx, opts.Users, opts.SpawnRate); err != nil {
		return err
	}
	defer r.Stop()

	select {
	case <-ctx.Done():
	case <-timeout:
		r.log.WithField("run_time", opts.RunTime).Info("Time limit reached, stopping")
	}
	return nil
}

func (r *Runner) runShape(ctx context.Context, shape Shape, timeout <-chan time.Time) error {
	defer r.Stop()

	start := time.Now()
	lastUsers := -1
	ticker := time.NewTicker(r.shapeInterval)
	defer ticker.Stop()

	for {
		users, rate, ok := shape.Tick(time.Since(start))
		if !ok {
			r.log.Info("Load shape finished, stopping")
			return nil
		}
		if users != lastUsers {
			r.log.WithFields(logrus.Fields{"users": users, "spawn_rate": rate}).Info("Shape stage change")
			if err := r.Start(ctx, users, rate); err != nil {
				return err
			}
			lastUsers = users
		}

		select {
		case <-ctx.Done():
			return nil
		case <-timeout:
			r.log.Info("Time limit reached, stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Elapsed returns how long the current run has been going
func (r *Runner) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		return 0
	}
	return time.Since(r.startedAt)
}
