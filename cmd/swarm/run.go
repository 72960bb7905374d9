package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/dashboard"
	"github.com/studiowebux/swarm/internal/distributed"
	"github.com/studiowebux/swarm/internal/history"
	"github.com/studiowebux/swarm/internal/launcher"
	"github.com/studiowebux/swarm/internal/runner"
	"github.com/studiowebux/swarm/internal/scenario"
	"github.com/studiowebux/swarm/internal/stats"
)

// Flags shared by run, master and worker
var (
	flagScenario  string
	flagHost      string
	flagUsers     int
	flagSpawnRate float64
	flagRunTime   string
	flagShape     string
	flagSpoofIP   bool
	flagNoHistory bool
	flagExport    string
)

// run flags
var (
	flagDashboard  bool
	flagRunWebPort int
)

// master flags
var (
	flagHeadless      bool
	flagExpectWorkers int
	flagLocalWorkers  int
	flagBindPort      int
	flagWebPort       int
)

// worker flags
var (
	flagMasterHost string
	flagMasterPort int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test in this process",
	Long: `Run a load test in a single process. The run ends after --run-time, when the
load shape finishes, or on Ctrl+C. Results are saved to the run history.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyLoadFlags(cmd)
		return runLocal()
	},
}

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Start a master that coordinates workers",
	Long: `Start a master node. Workers connect on the bind port; the stats and control
API is served on the web port. With --headless the test starts as soon as
--expect-workers workers are connected and stops after --run-time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyLoadFlags(cmd)
		if cmd.Flags().Changed("expect-workers") {
			settings.ExpectWorkers = flagExpectWorkers
		}
		if cmd.Flags().Changed("bind-port") {
			settings.MasterBindPort = flagBindPort
		}
		if cmd.Flags().Changed("web-port") {
			settings.MasterPort = flagWebPort
		}
		return runMaster()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a worker that runs users for a master",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyLoadFlags(cmd)
		if cmd.Flags().Changed("master-host") {
			settings.MasterHost = flagMasterHost
		}
		if cmd.Flags().Changed("master-port") {
			settings.MasterBindPort = flagMasterPort
		}
		return runWorker()
	},
}

func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagScenario, "scenario", "s", "fastapi", "Scenario to run")
	cmd.Flags().StringVar(&flagHost, "host", "", "Target application base URL (default from settings)")
	cmd.Flags().BoolVar(&flagSpoofIP, "spoof-ip", false, "Send X-Forwarded-For headers from each user's IP pool")
}

func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&flagUsers, "users", "u", 0, "Peak number of concurrent users")
	cmd.Flags().Float64VarP(&flagSpawnRate, "spawn-rate", "r", 0, "Users started per second")
	cmd.Flags().StringVarP(&flagRunTime, "run-time", "t", "", "Stop after this long (e.g. 300s, 20m, 1h30m)")
	cmd.Flags().BoolVar(&flagNoHistory, "no-history", false, "Do not save the run to history")
	cmd.Flags().StringVar(&flagExport, "export", "", "Also write the run as JSON to this file")
}

func init() {
	addScenarioFlags(runCmd)
	addLoadFlags(runCmd)
	runCmd.Flags().StringVar(&flagShape, "shape", "", "Load shape overriding users and spawn rate (e.g. step)")
	runCmd.Flags().BoolVar(&flagDashboard, "dashboard", false, "Show the live terminal dashboard")
	runCmd.Flags().IntVar(&flagRunWebPort, "web-port", 0, "Serve the stats API on this port (0 disables)")

	addScenarioFlags(masterCmd)
	addLoadFlags(masterCmd)
	masterCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Start immediately without waiting for API commands")
	masterCmd.Flags().IntVar(&flagExpectWorkers, "expect-workers", 1, "Workers to wait for before a headless start")
	masterCmd.Flags().IntVar(&flagLocalWorkers, "local-workers", 0, "Start this many workers as child processes")
	masterCmd.Flags().IntVar(&flagBindPort, "bind-port", 5557, "Port workers connect to")
	masterCmd.Flags().IntVar(&flagWebPort, "web-port", 8089, "Port of the stats and control API")

	addScenarioFlags(workerCmd)
	workerCmd.Flags().StringVar(&flagMasterHost, "master-host", "localhost", "Master host")
	workerCmd.Flags().IntVar(&flagMasterPort, "master-port", 5557, "Master bind port")
}

// applyLoadFlags copies explicitly set flags over the loaded settings
func applyLoadFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("users") {
		settings.Users = flagUsers
	}
	if flags.Changed("spawn-rate") {
		settings.SpawnRate = flagSpawnRate
	}
	if flags.Changed("run-time") {
		settings.RunTime = flagRunTime
	}
	if flags.Changed("spoof-ip") {
		settings.SpoofIP = flagSpoofIP
	}
	if flagHost != "" {
		settings.BaseURL = flagHost
	}
}

func newRunner(registry *stats.Registry) (*runner.Runner, scenario.Scenario, error) {
	sc, err := scenario.Lookup(flagScenario)
	if err != nil {
		return nil, sc, err
	}
	env := scenario.NewEnv(settings.BaseURL, settings, registry)
	r, err := runner.New(env, sc.Classes)
	if err != nil {
		return nil, sc, err
	}
	return r, sc, nil
}

func runLocal() error {
	if err := settings.Validate(); err != nil {
		return err
	}
	runTime, err := config.ParseRunTime(settings.RunTime)
	if err != nil {
		return err
	}

	r, sc, err := newRunner(stats.NewRegistry())
	if err != nil {
		return err
	}
	metrics := runner.NewMetrics()
	r.AttachMetrics(metrics)

	opts := runner.Options{Users: settings.Users, SpawnRate: settings.SpawnRate, RunTime: runTime}
	shapeName := flagShape
	if shapeName == "" {
		shapeName = sc.Shape
	}
	if shapeName != "" {
		if opts.Shape, err = runner.LookupShape(shapeName); err != nil {
			return err
		}
	}

	sigCtx, stopSignals := signalContext()
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	env := r.Env()
	runner.StartPoolReporter(ctx, env, runner.PoolReportInterval)
	r.OnTestStop(func() { runner.LogSummary(env) })

	local := distributed.NewLocal(ctx, r)
	if flagRunWebPort > 0 {
		addr := ":" + strconv.Itoa(flagRunWebPort)
		logrus.WithField("addr", addr).Info("Serving stats API")
		go func() {
			if err := distributed.Serve(ctx, addr, distributed.NewAPI(local, metrics.Registry())); err != nil {
				logrus.WithError(err).Error("Stats API stopped")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"scenario":   sc.Name,
		"host":       env.Host(),
		"users":      opts.Users,
		"spawn_rate": opts.SpawnRate,
		"run_time":   runTime,
		"shape":      shapeName,
	}).Info("Starting load test")

	startedAt := time.Now()
	var runErr error
	stoppedByUser := false
	if flagDashboard {
		stoppedByUser, runErr = runWithDashboard(ctx, cancel, r, opts, local, sc.Name)
	} else {
		runErr = r.Run(ctx, opts)
	}

	status := history.StatusCompleted
	switch {
	case runErr != nil:
		status = history.StatusFailed
	case stoppedByUser || sigCtx.Err() != nil:
		status = history.StatusStopped
	}

	meta := history.RunMeta{
		Scenario:  sc.Name,
		Host:      env.Host(),
		Mode:      history.ModeLocal,
		StartedAt: startedAt,
		Status:    status,
		Users:     opts.Users,
		SpawnRate: opts.SpawnRate,
	}
	if err := recordRun(meta, env.Stats); err != nil {
		logrus.WithError(err).Warn("Failed to save run history")
	}
	return runErr
}

// runWithDashboard runs the test behind the live dashboard. Quitting the
// dashboard stops the test.
func runWithDashboard(ctx context.Context, cancel context.CancelFunc, r *runner.Runner, opts runner.Options, src dashboard.Source, name string) (bool, error) {
	logPath := filepath.Join(config.ConfigDir, "swarm.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, config.FilePermissions)
	if err != nil {
		return false, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logrus.SetOutput(logFile)
	defer logrus.SetOutput(os.Stderr)

	dashCtx, dashDone := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx, opts)
		dashDone()
	}()

	stopped, dashErr := dashboard.Run(dashCtx, src, "swarm: "+name, cancel)
	if dashErr != nil {
		cancel()
	}
	runErr := <-errCh
	dashDone()

	if runErr != nil {
		return stopped, runErr
	}
	return stopped, dashErr
}

func recordRun(meta history.RunMeta, registry *stats.Registry) error {
	run := history.NewRun(meta, registry, time.Now())

	if flagExport != "" {
		if err := history.Export(run, flagExport); err != nil {
			return err
		}
		logrus.WithField("path", flagExport).Info("Run exported")
	}
	if flagNoHistory {
		return nil
	}

	mgr, err := history.NewManager(config.DatabasePath)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.SaveRun(run); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"id": run.ID, "status": run.Status}).Info("Run saved to history")
	return nil
}

func runMaster() error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if _, err := scenario.Lookup(flagScenario); err != nil {
		return err
	}
	runTime, err := config.ParseRunTime(settings.RunTime)
	if err != nil {
		return err
	}

	sigCtx, stopSignals := signalContext()
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	master := distributed.NewMaster(distributed.MasterConfig{Host: settings.BaseURL})
	master.StartReaper(ctx)

	bindAddr := ":" + strconv.Itoa(settings.MasterBindPort)
	webAddr := ":" + strconv.Itoa(settings.MasterPort)
	logrus.WithFields(logrus.Fields{"bind": bindAddr, "web": webAddr}).Info("Starting master")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return distributed.Serve(gctx, bindAddr, master.WorkerHandler())
	})
	g.Go(func() error {
		return distributed.Serve(gctx, webAddr, distributed.NewAPI(master, distributed.MasterCollectors(master)))
	})

	var workers *launcher.LocalWorkers
	if flagLocalWorkers > 0 {
		workers, err = launcher.StartLocalWorkers(ctx, launcher.Executable(), flagLocalWorkers, launcher.Options{
			Scenario:   flagScenario,
			Host:       settings.BaseURL,
			MasterHost: "127.0.0.1",
			MasterPort: settings.MasterBindPort,
		})
		if err != nil {
			return err
		}
	}

	if flagHeadless {
		g.Go(func() error {
			defer cancel()
			startedAt := time.Now()
			err := master.RunHeadless(gctx, distributed.HeadlessOptions{
				Users:         settings.Users,
				SpawnRate:     settings.SpawnRate,
				RunTime:       runTime,
				ExpectWorkers: settings.ExpectWorkers,
			})
			if errors.Is(err, context.Canceled) {
				// interrupted while waiting for workers
				return nil
			}

			// workers flush their last stats on stop
			time.Sleep(time.Second)
			status := history.StatusCompleted
			if err != nil {
				status = history.StatusFailed
			} else if sigCtx.Err() != nil {
				status = history.StatusStopped
			}
			meta := history.RunMeta{
				Scenario:  flagScenario,
				Host:      master.Host(),
				Mode:      history.ModeDistributed,
				StartedAt: startedAt,
				Status:    status,
				Users:     settings.Users,
				SpawnRate: settings.SpawnRate,
				Workers:   master.WorkerCount(),
			}
			if saveErr := recordRun(meta, master.Stats()); saveErr != nil {
				logrus.WithError(saveErr).Warn("Failed to save run history")
			}
			master.Quit()
			return err
		})
	}

	err = g.Wait()
	if workers != nil {
		workers.Wait()
	}
	return err
}

func runWorker() error {
	r, sc, err := newRunner(stats.NewRegistry())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	env := r.Env()
	runner.StartPoolReporter(ctx, env, runner.PoolReportInterval)

	w := distributed.NewWorker(distributed.WorkerConfig{
		MasterHost: settings.MasterHost,
		MasterPort: settings.MasterBindPort,
	}, r)
	r.OnTestStop(func() { runner.LogSummaryOf(env, w.Totals()) })
	logrus.WithFields(logrus.Fields{
		"scenario": sc.Name,
		"master":   distributed.WorkerConfig{MasterHost: settings.MasterHost, MasterPort: settings.MasterBindPort}.MasterURL(),
		"id":       w.ID(),
	}).Info("Starting worker")
	return w.Run(ctx)
}
