package distributed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/studiowebux/swarm/internal/stats"
)

const (
	// DefaultHeartbeatTimeout drops workers that have been silent this long
	DefaultHeartbeatTimeout = 60 * time.Second
	// WorkerPath is where workers connect on the master's bind port
	WorkerPath = "/ws"
)

// Node states as reported by the API
const (
	StateReady    = "ready"
	StateSpawning = "spawning"
	StateRunning  = "running"
	StateStopped  = "stopped"
	StateMissing  = "missing"
)

// ErrNoWorkers is returned when a swarm is requested with no workers connected
var ErrNoWorkers = errors.New("no workers connected")

type workerNode struct {
	id        string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	state     string
	userCount int
	lastSeen  time.Time
}

func (n *workerNode) send(msg Message) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	n.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return n.conn.WriteJSON(msg)
}

// MasterConfig configures a master node
type MasterConfig struct {
	Host             string // target host passed to workers
	HeartbeatTimeout time.Duration
}

// Master coordinates workers: it splits users between them, merges their
// stats and serves the aggregated view
type Master struct {
	cfg      MasterConfig
	stats    *stats.Registry
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu        sync.Mutex
	workers   map[string]*workerNode
	state     string
	target    int
	spawnRate float64
	host      string
	joined    chan struct{}
	now       func() time.Time
}

// NewMaster creates a master with an empty stats registry
func NewMaster(cfg MasterConfig) *Master {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Master{
		cfg:      cfg,
		stats:    stats.NewRegistry(),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		log:      logrus.WithField("component", "master"),
		workers:  make(map[string]*workerNode),
		state:    StateReady,
		host:     cfg.Host,
		joined:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Stats returns the merged registry
func (m *Master) Stats() *stats.Registry { return m.stats }

// State returns ready, spawning, running or stopped
func (m *Master) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Host returns the target host of the current test
func (m *Master) Host() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

// UserCount sums users reported by workers
func (m *Master) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, w := range m.workers {
		total += w.userCount
	}
	return total
}

// Workers lists connected workers sorted by id
func (m *Master) Workers() []stats.WorkerReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]stats.WorkerReport, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, stats.WorkerReport{ID: w.id, State: w.state, UserCount: w.userCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WorkerCount returns the number of connected workers
func (m *Master) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// WorkerHandler accepts worker websocket connections
func (m *Master) WorkerHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WorkerPath, m.handleWorker)
	return mux
}

func (m *Master) handleWorker(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("Worker upgrade failed")
		return
	}
	defer conn.Close()

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != MsgClientReady || hello.NodeID == "" {
		m.log.Warn("Worker did not announce itself, closing")
		return
	}

	node := &workerNode{id: hello.NodeID, conn: conn, state: StateReady, lastSeen: m.now()}
	m.register(node)
	defer m.unregister(node)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.WithError(err).WithField("worker_id", node.id).Warn("Worker connection lost")
			}
			return
		}
		m.handleMessage(node, msg)
	}
}

func (m *Master) register(node *workerNode) {
	m.mu.Lock()
	if old, ok := m.workers[node.id]; ok {
		old.conn.Close()
	}
	m.workers[node.id] = node
	count := len(m.workers)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"worker_id": node.id, "workers": count}).Info("Worker connected")
	select {
	case m.joined <- struct{}{}:
	default:
	}
	m.rebalance()
}

func (m *Master) unregister(node *workerNode) {
	m.mu.Lock()
	removed := false
	if current, ok := m.workers[node.id]; ok && current == node {
		delete(m.workers, node.id)
		removed = true
	}
	count := len(m.workers)
	m.mu.Unlock()
	if !removed {
		return
	}
	m.log.WithFields(logrus.Fields{"worker_id": node.id, "workers": count}).Info("Worker disconnected")
	m.rebalance()
}

// rebalance re-splits the running test over the workers now connected
func (m *Master) rebalance() {
	m.mu.Lock()
	active := m.state == StateSpawning || m.state == StateRunning
	target, rate, count := m.target, m.spawnRate, len(m.workers)
	m.mu.Unlock()
	if !active || count == 0 {
		return
	}
	m.log.WithFields(logrus.Fields{"users": target, "workers": count}).Info("Rebalancing users")
	if err := m.Swarm(target, rate, ""); err != nil {
		m.log.WithError(err).Warn("Rebalance failed")
	}
}

func (m *Master) handleMessage(node *workerNode, msg Message) {
	m.mu.Lock()
	node.lastSeen = m.now()
	m.mu.Unlock()

	switch msg.Type {
	case MsgHeartbeat:
		var hb HeartbeatData
		if err := msg.Decode(&hb); err != nil {
			m.log.WithError(err).Debug("Bad heartbeat")
			return
		}
		m.mu.Lock()
		node.state = hb.State
		node.userCount = hb.UserCount
		if m.state == StateSpawning && m.allInStateLocked(StateRunning) {
			m.state = StateRunning
		}
		m.mu.Unlock()

	case MsgStats:
		var data StatsData
		if err := msg.Decode(&data); err != nil {
			m.log.WithError(err).Warn("Bad stats report")
			return
		}
		m.stats.Merge(data.Stats, node.id)
		m.mu.Lock()
		node.userCount = data.UserCount
		m.mu.Unlock()

	case MsgSpawningComplete:
		var data SpawnData
		_ = msg.Decode(&data)
		m.mu.Lock()
		node.state = StateRunning
		node.userCount = data.UserCount
		if m.state == StateSpawning && m.allInStateLocked(StateRunning) {
			m.state = StateRunning
			m.log.WithField("users", m.target).Info("All workers finished spawning")
		}
		m.mu.Unlock()

	case MsgStopped:
		m.mu.Lock()
		node.state = StateStopped
		node.userCount = 0
		m.mu.Unlock()

	case MsgException:
		var data ExceptionData
		if err := msg.Decode(&data); err == nil {
			m.stats.LogException(node.id, data.Msg, data.Traceback)
		}

	case MsgQuit:
		node.conn.Close()

	default:
		m.log.WithField("type", msg.Type).Debug("Ignoring unknown message")
	}
}

func (m *Master) allInStateLocked(state string) bool {
	for _, w := range m.workers {
		if w.state != state {
			return false
		}
	}
	return true
}

// Swarm splits userCount between connected workers. Stats are cleared when
// a new test starts from ready or stopped. An empty host keeps the current one.
func (m *Master) Swarm(userCount int, spawnRate float64, host string) error {
	if spawnRate <= 0 {
		return fmt.Errorf("spawn rate must be positive")
	}

	m.mu.Lock()
	if len(m.workers) == 0 {
		m.mu.Unlock()
		return ErrNoWorkers
	}
	if m.state != StateSpawning && m.state != StateRunning {
		m.stats.Reset()
	}
	if host != "" {
		m.host = host
	}
	m.target = userCount
	m.spawnRate = spawnRate
	m.state = StateSpawning

	nodes := m.sortedWorkersLocked()
	split := SplitUsers(userCount, len(nodes))
	rate := spawnRate / float64(len(nodes))
	targetHost := m.host
	for _, n := range nodes {
		n.state = StateSpawning
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"users": userCount, "spawn_rate": spawnRate, "workers": len(nodes)}).Info("Swarming")

	var errs []error
	for i, n := range nodes {
		msg, err := NewMessage(MsgSpawn, n.id, SpawnData{UserCount: split[i], SpawnRate: rate, Host: targetHost})
		if err != nil {
			return err
		}
		if err := n.send(msg); err != nil {
			errs = append(errs, fmt.Errorf("worker %s: %w", n.id, err))
		}
	}
	return errors.Join(errs...)
}

// Stop tells every worker to stop its users
func (m *Master) Stop() {
	m.mu.Lock()
	nodes := m.sortedWorkersLocked()
	if m.state == StateSpawning || m.state == StateRunning {
		m.state = StateStopped
	}
	m.mu.Unlock()

	m.broadcast(nodes, MsgStop)
	m.log.Info("Stop sent to workers")
}

// Quit tells every worker to exit
func (m *Master) Quit() {
	m.mu.Lock()
	nodes := m.sortedWorkersLocked()
	m.state = StateStopped
	m.mu.Unlock()

	m.broadcast(nodes, MsgQuit)
}

func (m *Master) broadcast(nodes []*workerNode, t MessageType) {
	for _, n := range nodes {
		msg, _ := NewMessage(t, n.id, nil)
		if err := n.send(msg); err != nil {
			m.log.WithError(err).WithField("worker_id", n.id).Warn("Failed to send message")
		}
	}
}

func (m *Master) sortedWorkersLocked() []*workerNode {
	nodes := make([]*workerNode, 0, len(m.workers))
	for _, w := range m.workers {
		nodes = append(nodes, w)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })
	return nodes
}

// ReapMissing drops workers whose last message is older than the heartbeat
// timeout and returns their ids
func (m *Master) ReapMissing() []string {
	m.mu.Lock()
	var dropped []string
	cutoff := m.now().Add(-m.cfg.HeartbeatTimeout)
	for id, w := range m.workers {
		if w.lastSeen.Before(cutoff) {
			w.state = StateMissing
			w.conn.Close()
			delete(m.workers, id)
			dropped = append(dropped, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(dropped)
	for _, id := range dropped {
		m.log.WithField("worker_id", id).Warn("Worker missed heartbeats, dropped")
	}
	if len(dropped) > 0 {
		m.rebalance()
	}
	return dropped
}

// StartReaper runs ReapMissing every second until ctx ends
func (m *Master) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ReapMissing()
			}
		}
	}()
}

// WaitForWorkers blocks until at least n workers are connected
func (m *Master) WaitForWorkers(ctx context.Context, n int) error {
	for {
		count := m.WorkerCount()
		if count >= n {
			return nil
		}
		m.log.WithFields(logrus.Fields{"connected": count, "expected": n}).Info("Waiting for workers")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.joined:
		case <-time.After(time.Second):
		}
	}
}

// HeadlessOptions configures RunHeadless
type HeadlessOptions struct {
	Users         int
	SpawnRate     float64
	RunTime       time.Duration
	ExpectWorkers int
}

// RunHeadless waits for workers, starts the swarm, and stops it after the run
// time or when ctx ends
func (m *Master) RunHeadless(ctx context.Context, opts HeadlessOptions) error {
	if opts.ExpectWorkers < 1 {
		opts.ExpectWorkers = 1
	}
	if err := m.WaitForWorkers(ctx, opts.ExpectWorkers); err != nil {
		return err
	}
	if err := m.Swarm(opts.Users, opts.SpawnRate, ""); err != nil {
		return err
	}
	defer m.Stop()

	var timeout <-chan time.Time
	if opts.RunTime > 0 {
		timer := time.NewTimer(opts.RunTime)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
		m.log.WithField("run_time", opts.RunTime).Info("Time limit reached, stopping")
	}
	return nil
}
