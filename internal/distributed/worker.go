package distributed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/studiowebux/swarm/internal/runner"
	"github.com/studiowebux/swarm/internal/stats"
)

const (
	// DefaultStatsInterval is how often a worker reports stats to the master
	DefaultStatsInterval = 3 * time.Second
	// DefaultHeartbeatInterval is how often a worker sends heartbeats
	DefaultHeartbeatInterval = time.Second
	maxReconnectDelay        = 30 * time.Second
)

var errQuit = errors.New("quit requested by master")

// WorkerConfig configures a worker node
type WorkerConfig struct {
	MasterHost        string
	MasterPort        int
	NodeID            string
	StatsInterval     time.Duration
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
}

// MasterURL returns the websocket URL of the master
func (c WorkerConfig) MasterURL() string {
	return "ws://" + net.JoinHostPort(c.MasterHost, strconv.Itoa(c.MasterPort)) + WorkerPath
}

// NodeID builds a worker id from the hostname and a random suffix
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Worker runs users on behalf of a master
type Worker struct {
	cfg    WorkerConfig
	runner *runner.Runner
	totals *stats.Registry
	log    *logrus.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWorker wires r to report to the master described by cfg
func NewWorker(cfg WorkerConfig, r *runner.Runner) *Worker {
	if cfg.NodeID == "" {
		cfg.NodeID = NodeID()
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}

	w := &Worker{
		cfg:    cfg,
		runner: r,
		totals: stats.NewRegistry(),
		log:    logrus.WithFields(logrus.Fields{"component": "worker", "worker_id": cfg.NodeID}),
	}
	r.SetNodeID(cfg.NodeID)
	r.OnTestStart(w.totals.Reset)
	// flush before later stop hooks read Totals
	r.OnTestStop(w.flushStats)
	r.OnSpawningComplete(func(userCount int) {
		if err := w.send(MsgSpawningComplete, SpawnData{UserCount: userCount}); err != nil {
			w.log.WithError(err).Warn("Failed to report spawning complete")
		}
	})
	return w
}

// Totals holds everything this worker has sent since the test started
func (w *Worker) Totals() *stats.Registry { return w.totals }

// ID returns the worker's node id
func (w *Worker) ID() string { return w.cfg.NodeID }

// Run connects to the master and serves it until ctx ends or the master
// sends quit. Lost connections are retried with backoff.
func (w *Worker) Run(ctx context.Context) error {
	defer w.runner.Stop()

	delay := w.cfg.ReconnectDelay
	for {
		err := w.session(ctx)
		if errors.Is(err, errQuit) {
			w.log.Info("Master requested quit")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		w.log.WithError(err).WithField("retry_in", delay).Warn("Master connection failed")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (w *Worker) session(ctx context.Context) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.cfg.MasterURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.cfg.MasterURL(), err)
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	if err := w.send(MsgClientReady, nil); err != nil {
		return err
	}
	w.log.WithField("master", w.cfg.MasterURL()).Info("Connected to master")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.reportLoop(sessionCtx)

	// unblock ReadJSON when ctx ends
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read from master: %w", err)
		}
		if err := w.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MsgSpawn:
		var data SpawnData
		if err := msg.Decode(&data); err != nil {
			w.log.WithError(err).Warn("Bad spawn message")
			return nil
		}
		if data.Host != "" && data.Host != w.runner.Env().Host() {
			w.runner.Env().SetHost(data.Host)
			w.log.WithField("host", data.Host).Info("Target host changed")
		}
		w.log.WithFields(logrus.Fields{"users": data.UserCount, "spawn_rate": data.SpawnRate}).Info("Spawn requested")
		if err := w.runner.Start(ctx, data.UserCount, data.SpawnRate); err != nil {
			w.sendException(err)
		}

	case MsgStop:
		w.runner.Stop()
		w.flushStats()
		if err := w.send(MsgStopped, nil); err != nil {
			return err
		}

	case MsgQuit:
		w.runner.Stop()
		w.flushStats()
		return errQuit
	}
	return nil
}

func (w *Worker) reportLoop(ctx context.Context) {
	heartbeat := time.NewTicker(w.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	report := time.NewTicker(w.cfg.StatsInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			data := HeartbeatData{State: string(w.runner.State()), UserCount: w.runner.UserCount()}
			if err := w.send(MsgHeartbeat, data); err != nil {
				w.log.WithError(err).Debug("Heartbeat failed")
			}
		case <-report.C:
			w.flushStats()
		}
	}
}

func (w *Worker) flushStats() {
	data := StatsData{
		Stats:     w.runner.Env().Stats.Drain(),
		UserCount: w.runner.UserCount(),
	}
	if err := w.send(MsgStats, data); err != nil {
		// keep the delta for the next report
		w.runner.Env().Stats.Merge(data.Stats, "")
		w.log.WithError(err).Warn("Failed to send stats")
		return
	}
	w.totals.Merge(data.Stats, "")
}

func (w *Worker) sendException(err error) {
	if sendErr := w.send(MsgException, ExceptionData{Msg: err.Error()}); sendErr != nil {
		w.log.WithError(sendErr).Warn("Failed to report exception")
	}
}

func (w *Worker) send(t MessageType, data interface{}) error {
	msg, err := NewMessage(t, w.cfg.NodeID, data)
	if err != nil {
		return err
	}

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errors.New("not connected to master")
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}
