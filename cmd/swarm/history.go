package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/history"
	"github.com/studiowebux/swarm/internal/termui"
)

var (
	flagHistoryLimit  int
	flagHistoryFilter string
	flagHistoryExport string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previous runs",
	Long: `List previous runs, newest first.

Examples:
  swarm history                  # Last 20 runs
  swarm history --filter mcp     # Fuzzy match on scenario, host or status
  swarm history show 12          # Details of run 12
  swarm history delete 12`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := history.NewManager(config.DatabasePath)
		if err != nil {
			return err
		}
		defer mgr.Close()

		runs, err := mgr.ListRuns(flagHistoryLimit)
		if err != nil {
			return err
		}
		fmt.Println(termui.HistoryTable(termui.FilterRuns(runs, flagHistoryFilter)))
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run with its endpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}

		mgr, err := history.NewManager(config.DatabasePath)
		if err != nil {
			return err
		}
		defer mgr.Close()

		run, err := mgr.GetRun(id)
		if err != nil {
			return err
		}

		if flagHistoryExport != "" {
			path, err := config.ExpandPath(flagHistoryExport)
			if err != nil {
				return err
			}
			if err := history.Export(run, path); err != nil {
				return err
			}
			fmt.Println(termui.StyleSuccess.Render("Run exported to " + path))
			return nil
		}

		fmt.Println(termui.RunDetail(run))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}

		mgr, err := history.NewManager(config.DatabasePath)
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.DeleteRun(id); err != nil {
			return err
		}
		fmt.Printf("Deleted run %d\n", id)
		return nil
	},
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "Number of runs to list")
	historyCmd.Flags().StringVarP(&flagHistoryFilter, "filter", "f", "", "Fuzzy filter on scenario, host or status")
	historyShowCmd.Flags().StringVarP(&flagHistoryExport, "export", "o", "", "Write the run as JSON to this file instead")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}
