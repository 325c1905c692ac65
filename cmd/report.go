package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/report"
	"github.com/covbench/covbench/internal/result"
	"github.com/covbench/covbench/internal/stats"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Re-render the report for a stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			runDir := filepath.Join(cfg.Results.Dir, "latest")
			if len(args) > 0 {
				runDir = args[0]
			}
			resolved, err := filepath.EvalSymlinks(runDir)
			if err != nil {
				return fmt.Errorf("resolving run dir: %w", err)
			}
			byCell, err := result.Collect(resolved)
			if err != nil {
				return err
			}
			if len(byCell) == 0 {
				return fmt.Errorf("no run records found in %s", resolved)
			}
			statistics := map[string]stats.CellStatistic{}
			for key, records := range byCell {
				// Cells with zero successes still carry attempts
				// into the footer totals.
				stat, _ := stats.Aggregate(records)
				statistics[key] = stat
			}
			rep, err := report.Build(cfg, statistics)
			if err != nil {
				return err
			}
			return rep.Render(os.Stdout, flagFormat)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
