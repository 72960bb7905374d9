package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/swarm/internal/scenario"
)

// Exit codes returned by the launch command
const (
	ExitMissingScenario = 1
	ExitNoRole          = 2
)

var (
	// ErrNoRole is returned when neither or both of master and worker are set
	ErrNoRole = errors.New("must specify exactly one of --master or --worker")
)

// Role is the node type to launch
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
)

// Options describes a master or worker process to launch
type Options struct {
	Master bool
	Worker bool

	Scenario string
	Host     string // target application

	MasterHost string
	MasterPort int // worker bind port of the master

	Users         int
	SpawnRate     float64
	ExpectWorkers int
	Headless      bool
	RunTime       string

	ExtraArgs string // split on whitespace and appended
}

// Role validates the role flags
func (o Options) Role() (Role, error) {
	switch {
	case o.Master && !o.Worker:
		return RoleMaster, nil
	case o.Worker && !o.Master:
		return RoleWorker, nil
	}
	return "", ErrNoRole
}

// BuildMasterArgs returns the argv (without program name) for a master
func BuildMasterArgs(o Options) []string {
	args := []string{
		"master",
		"--scenario", o.Scenario,
		"--host", o.Host,
		"--expect-workers", strconv.Itoa(o.ExpectWorkers),
		"--users", strconv.Itoa(o.Users),
		"--spawn-rate", formatFloat(o.SpawnRate),
	}
	if o.Headless {
		args = append(args, "--headless")
		if o.RunTime != "" {
			args = append(args, "--run-time", o.RunTime)
		}
	}
	return append(args, strings.Fields(o.ExtraArgs)...)
}

// BuildWorkerArgs returns the argv (without program name) for a worker
func BuildWorkerArgs(o Options) []string {
	args := []string{
		"worker",
		"--scenario", o.Scenario,
		"--master-host", o.MasterHost,
		"--master-port", strconv.Itoa(o.MasterPort),
	}
	if o.Host != "" {
		args = append(args, "--host", o.Host)
	}
	return append(args, strings.Fields(o.ExtraArgs)...)
}

// Build validates o and returns the argv for its role
func Build(o Options) ([]string, error) {
	role, err := o.Role()
	if err != nil {
		return nil, err
	}
	if _, err := scenario.Lookup(o.Scenario); err != nil {
		return nil, err
	}
	if role == RoleMaster {
		return BuildMasterArgs(o), nil
	}
	return BuildWorkerArgs(o), nil
}

// ExitCode maps a Build error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoRole):
		return ExitNoRole
	default:
		return ExitMissingScenario
	}
}

// Executable returns the path of the running binary
func Executable() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}

// Run executes program with args, inheriting stdio, and returns its exit code
func Run(ctx context.Context, program string, args []string) (int, error) {
	logrus.WithField("command", program+" "+strings.Join(args, " ")).Info("Running command")

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logrus.WithField("exit_code", exitErr.ExitCode()).Error("Process failed")
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 1, fmt.Errorf("failed to start %s: %w", program, err)
	}
	return 0, nil
}

// LocalWorkers is a set of worker child processes
type LocalWorkers struct {
	cmds []*exec.Cmd
	wg   sync.WaitGroup
}

// StartLocalWorkers launches n worker processes of program. They exit when
// ctx is cancelled or the master sends quit.
func StartLocalWorkers(ctx context.Context, program string, n int, o Options) (*LocalWorkers, error) {
	lw := &LocalWorkers{}
	args := BuildWorkerArgs(o)

	for i := 0; i < n; i++ {
		cmd := exec.CommandContext(ctx, program, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			lw.Wait()
			return nil, fmt.Errorf("failed to start worker %d: %w", i+1, err)
		}
		logrus.WithFields(logrus.Fields{"pid": cmd.Process.Pid, "index": i + 1}).Info("Started local worker")

		lw.cmds = append(lw.cmds, cmd)
		lw.wg.Add(1)
		go func(c *exec.Cmd) {
			defer lw.wg.Done()
			if err := c.Wait(); err != nil && ctx.Err() == nil {
				logrus.WithError(err).WithField("pid", c.Process.Pid).Warn("Local worker exited")
			}
		}(cmd)
	}
	return lw, nil
}

// Len returns the number of started workers
func (lw *LocalWorkers) Len() int { return len(lw.cmds) }

// Wait blocks until every worker has exited
func (lw *LocalWorkers) Wait() {
	lw.wg.Wait()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
