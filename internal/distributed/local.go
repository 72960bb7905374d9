package distributed

import (
	"context"

	"github.com/studiowebux/swarm/internal/runner"
	"github.com/studiowebux/swarm/internal/stats"
)

// Local exposes a single-process runner through the same API as a master
type Local struct {
	ctx    context.Context
	runner *runner.Runner
}

// NewLocal wraps r. ctx bounds runs started through Swarm.
func NewLocal(ctx context.Context, r *runner.Runner) *Local {
	return &Local{ctx: ctx, runner: r}
}

func (l *Local) Stats() *stats.Registry { return l.runner.Env().Stats }

func (l *Local) State() string { return string(l.runner.State()) }

func (l *Local) UserCount() int { return l.runner.UserCount() }

func (l *Local) Host() string { return l.runner.Env().Host() }

// Workers is always empty in local mode
func (l *Local) Workers() []stats.WorkerReport { return []stats.WorkerReport{} }

// Swarm starts or retargets the local run. An empty host keeps the current one.
func (l *Local) Swarm(userCount int, spawnRate float64, host string) error {
	if host != "" {
		l.runner.Env().SetHost(host)
	}
	if s := l.runner.State(); s == runner.StateReady || s == runner.StateStopped {
		l.Stats().Reset()
	}
	return l.runner.Start(l.ctx, userCount, spawnRate)
}

func (l *Local) Stop() { l.runner.Stop() }
