package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/studiowebux/swarm/internal/scenario"
)

// ErrUnknownShape is returned by LookupShape for unregistered names
var ErrUnknownShape = errors.New("unknown load shape")

// Shape controls user count over time. ok=false ends the run.
type Shape interface {
	Tick(elapsed time.Duration) (users int, spawnRate float64, ok bool)
}

// Stage holds a target until Until has elapsed since the run started
type Stage struct {
	Until     time.Duration
	Users     int
	SpawnRate float64
}

// StepShape walks through stages in order
type StepShape struct {
	Stages []Stage
}

// DefaultStepStages ramps gently to 10 users over 15 minutes
var DefaultStepStages = []Stage{
	{Until: 120 * time.Second, Users: 3, SpawnRate: 1},
	{Until: 300 * time.Second, Users: 5, SpawnRate: 1},
	{Until: 600 * time.Second, Users: 8, SpawnRate: 1},
	{Until: 900 * time.Second, Users: 10, SpawnRate: 1},
}

func (s *StepShape) Tick(elapsed time.Duration) (int, float64, bool) {
	for _, stage := range s.Stages {
		if elapsed < stage.Until {
			return stage.Users, stage.SpawnRate, true
		}
	}
	return 0, 0, false
}

var shapes = map[string]func() Shape{
	"step": func() Shape { return &StepShape{Stages: DefaultStepStages} },
}

// LookupShape returns a new shape by name
func LookupShape(name string) (Shape, error) {
	if factory, ok := shapes[name]; ok {
		return factory(), nil
	}

	names := make([]string, 0, len(shapes))
	for n := range shapes {
		names = append(names, n)
	}
	if suggestion := scenario.Suggest(name, names); suggestion != "" {
		return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownShape, name, suggestion)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownShape, name)
}
