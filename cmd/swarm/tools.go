package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/health"
	"github.com/studiowebux/swarm/internal/mockapi"
	"github.com/studiowebux/swarm/internal/mockdb"
	"github.com/studiowebux/swarm/internal/report"
	"github.com/studiowebux/swarm/internal/seed"
	"github.com/studiowebux/swarm/internal/termui"
	"github.com/studiowebux/swarm/internal/version"
)

var (
	flagMasterURL string
	flagJSON      bool
	flagExpected  int

	flagReportOutput string
	flagReportRaw    bool

	flagLoadTesting bool

	flagMockAddr        string
	flagMockDSN         string
	flagMockNoRateLimit bool

	flagCheckUpdate bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the master and its workers",
	Long:  `Check that the master web API answers and that enough workers are connected. Exits 1 when unhealthy.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		expected := settings.ExpectWorkers
		if cmd.Flags().Changed("expect-workers") {
			expected = flagExpected
		}

		ctx, stop := signalContext()
		defer stop()

		checker := health.NewChecker(masterURL(), settings.GetHealthTimeout(), expected)
		rep := checker.FullCheck(ctx)

		if flagJSON {
			data, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return err
			}
			if err := termui.WriteJSON(os.Stdout, string(data), termui.IsTerminal(os.Stdout)); err != nil {
				return err
			}
		} else {
			for _, line := range termui.HealthLines(rep) {
				fmt.Println(line)
			}
		}

		if !rep.Overall {
			return &exitError{code: 1}
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write an HTML report from the master's current stats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		client := &http.Client{Timeout: settings.GetHealthTimeout()}
		data := report.Fetch(ctx, client, masterURL())

		if flagReportRaw {
			return termui.WriteJSON(os.Stdout, data.MarshalIndent(), termui.IsTerminal(os.Stdout))
		}

		now := time.Now()
		rep := report.Build(data, now)
		for section, msg := range rep.SectionErrors {
			logrus.WithFields(logrus.Fields{"section": section, "error": msg}).Warn("Report section unavailable")
		}

		path := flagReportOutput
		if path == "" {
			path = filepath.Join(config.ReportsDir, "swarm-report-"+now.Format("20060102-150405")+".html")
		}
		path, err := config.ExpandPath(path)
		if err != nil {
			return err
		}
		if err := report.Write(path, rep); err != nil {
			return err
		}

		fmt.Println(termui.StyleSuccess.Render("Report written to " + path))
		for _, rec := range rep.Recommendations {
			fmt.Println("  - " + rec)
		}
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the test user and verify the endpoints used by the scenarios",
	Long: `Create the configured test user through the signup endpoint (an existing user
is fine), log in with it and check that every endpoint the scenarios call is
reachable. Any answer below 500 counts as reachable.

Use --load-testing (or LOAD_TESTING=true) when the target runs on a mock store
that already contains the test user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHost != "" {
			settings.BaseURL = flagHost
		}

		s := seed.New(settings)
		s.LoadTesting = flagLoadTesting || strings.EqualFold(os.Getenv("LOAD_TESTING"), "true")

		ctx, stop := signalContext()
		defer stop()

		result, err := s.Run(ctx)
		if result != nil {
			for _, line := range termui.SeedLines(result) {
				fmt.Println(line)
			}
		}
		if err != nil {
			return err
		}

		if failed := result.Failed(); len(failed) > 0 {
			fmt.Println(termui.StyleWarning.Render(fmt.Sprintf(
				"%d endpoint(s) failed. Address the issues before running load tests.", len(failed))))
		}
		return nil
	},
}

var mockapiCmd = &cobra.Command{
	Use:   "mockapi",
	Short: "Serve a mock of the target application",
	Long: `Serve a stand-in for the FastAPI application with the same routes the
scenarios use. Data lives in memory with the test user pre-created, or in
PostgreSQL when --dsn is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		dsn := flagMockDSN
		if dsn == "" {
			dsn = settings.MockDatabaseDSN
		}
		user := settings.TestUser

		var store mockdb.Store
		if dsn != "" {
			gs, err := mockdb.OpenGormStore(dsn)
			if err != nil {
				return err
			}
			if err := gs.EnsureUser(ctx, mockdb.NewUser(user.Email, user.Password, user.FullName, true)); err != nil {
				gs.Close()
				return err
			}
			store = gs
			logrus.Info("Using PostgreSQL store")
		} else {
			store = mockdb.NewSeededMemoryStore(user.Email, user.Password, user.FullName)
			logrus.Info("Using in-memory store")
		}
		defer store.Close()

		opts := mockapi.DefaultOptions(settings.JWTSecret)
		if flagMockNoRateLimit {
			opts.LoginRate = 0
		}
		logrus.WithField("email", user.Email).Info("Test user ready")
		return mockapi.New(store, opts).Run(ctx, flagMockAddr)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("swarm %s\n", version.Version)
		if !flagCheckUpdate {
			return nil
		}

		update, err := version.NewChecker().Check(cmd.Context(), version.Version)
		if err != nil {
			return fmt.Errorf("update check failed: %w", err)
		}
		if update.Available {
			fmt.Println(termui.StyleWarning.Render(fmt.Sprintf("A newer version is available: %s (%s)", update.Latest, update.URL)))
		} else {
			fmt.Println(termui.StyleSuccess.Render("You are up to date"))
		}
		return nil
	},
}

func masterURL() string {
	if flagMasterURL != "" {
		return strings.TrimRight(flagMasterURL, "/")
	}
	return settings.MasterURL()
}

func init() {
	healthCmd.Flags().StringVar(&flagMasterURL, "master-url", "", "Master web API URL (default from settings)")
	healthCmd.Flags().BoolVar(&flagJSON, "json", false, "Print the report as JSON")
	healthCmd.Flags().IntVar(&flagExpected, "expect-workers", 1, "Workers required for a healthy result")

	reportCmd.Flags().StringVar(&flagMasterURL, "master-url", "", "Master web API URL (default from settings)")
	reportCmd.Flags().StringVarP(&flagReportOutput, "output", "o", "", "Report file (default in ~/.swarm/reports)")
	reportCmd.Flags().BoolVar(&flagReportRaw, "raw", false, "Print the fetched JSON instead of writing a report")

	seedCmd.Flags().StringVar(&flagHost, "host", "", "Target application base URL (default from settings)")
	seedCmd.Flags().BoolVar(&flagLoadTesting, "load-testing", false, "Target runs on a pre-seeded mock store")

	mockapiCmd.Flags().StringVar(&flagMockAddr, "addr", ":8000", "Listen address")
	mockapiCmd.Flags().StringVar(&flagMockDSN, "dsn", "", "PostgreSQL DSN (default in-memory)")
	mockapiCmd.Flags().BoolVar(&flagMockNoRateLimit, "no-rate-limit", false, "Disable the per-IP login rate limit")

	versionCmd.Flags().BoolVar(&flagCheckUpdate, "check", false, "Check for a newer release")
}
