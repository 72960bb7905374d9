package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiowebux/swarm/internal/launcher"
)

var launchOpts launcher.Options

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a master or worker process with settings defaults",
	Long: `Launch a master or a worker as a child process, filling in the target host,
master address and load parameters from the settings. The child's exit code
is returned.

Exit codes:
  1  unknown scenario
  2  neither or both of --master and --worker given

Examples:
  swarm launch --master --headless --run-time 5m
  swarm launch --worker --master-host 10.0.0.5
  swarm launch --master --extra-args "--local-workers 2"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := launchOpts
		flags := cmd.Flags()
		if opts.Host == "" {
			opts.Host = settings.BaseURL
		}
		if !flags.Changed("master-host") {
			opts.MasterHost = settings.MasterHost
		}
		if !flags.Changed("master-port") {
			opts.MasterPort = settings.MasterBindPort
		}
		if !flags.Changed("users") {
			opts.Users = settings.Users
		}
		if !flags.Changed("spawn-rate") {
			opts.SpawnRate = settings.SpawnRate
		}
		if !flags.Changed("expect-workers") {
			opts.ExpectWorkers = settings.ExpectWorkers
		}
		if !flags.Changed("run-time") {
			opts.RunTime = settings.RunTime
		}

		argv, err := launcher.Build(opts)
		if err != nil {
			if errors.Is(err, launcher.ErrNoRole) {
				fmt.Fprintln(os.Stderr, "Usage: swarm launch --master|--worker [flags]")
			}
			return &exitError{code: launcher.ExitCode(err), err: err}
		}

		ctx, stop := signalContext()
		defer stop()

		code, err := launcher.Run(ctx, launcher.Executable(), argv)
		if err != nil {
			return err
		}
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func init() {
	f := launchCmd.Flags()
	f.BoolVar(&launchOpts.Master, "master", false, "Launch a master")
	f.BoolVar(&launchOpts.Worker, "worker", false, "Launch a worker")
	f.StringVarP(&launchOpts.Scenario, "scenario", "s", "fastapi", "Scenario to run")
	f.StringVar(&launchOpts.Host, "host", "", "Target application base URL (default from settings)")
	f.StringVar(&launchOpts.MasterHost, "master-host", "", "Master host for workers (default from settings)")
	f.IntVar(&launchOpts.MasterPort, "master-port", 0, "Master bind port for workers (default from settings)")
	f.IntVarP(&launchOpts.Users, "users", "u", 0, "Peak number of users (default from settings)")
	f.Float64VarP(&launchOpts.SpawnRate, "spawn-rate", "r", 0, "Users started per second (default from settings)")
	f.IntVar(&launchOpts.ExpectWorkers, "expect-workers", 0, "Workers to wait for (default from settings)")
	f.BoolVar(&launchOpts.Headless, "headless", false, "Run the master headless")
	f.StringVarP(&launchOpts.RunTime, "run-time", "t", "", "Run time for a headless master (default from settings)")
	f.StringVar(&launchOpts.ExtraArgs, "extra-args", "", "Additional arguments passed through to the process")
}
