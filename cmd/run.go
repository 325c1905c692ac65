package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/result"
	"github.com/covbench/covbench/internal/runner"
)

var (
	flagProject     string
	flagInterpreter string
	flagCoverage    string
	flagRuns        int
	flagParallel    int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the configured experiment",
		RunE:  runExperiment,
	}
	cmd.Flags().StringVar(&flagProject, "project", "", "filter to a single project")
	cmd.Flags().StringVar(&flagInterpreter, "interpreter", "", "filter to a single interpreter version")
	cmd.Flags().StringVar(&flagCoverage, "coverage", "", "filter to a single coverage tool label")
	cmd.Flags().IntVar(&flagRuns, "runs", 0, "override repetition count")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max concurrent environment provisions")
	return cmd
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flagRuns > 0 {
		cfg.Runs = flagRuns
	}
	if err := applyFilters(cfg); err != nil {
		return err
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)

	outcome, err := runner.RunExperiment(context.Background(), cfg, runDir, runner.Options{
		Parallel: flagParallel,
	})
	if err != nil {
		return err
	}

	fmt.Println("\n--- Results ---")
	if err := outcome.Report.Render(os.Stdout, "table"); err != nil {
		return err
	}
	return outcome.Err()
}

// applyFilters narrows the configured dimensions from the command line.
// Empty results after filtering are configuration errors like any other
// empty dimension.
func applyFilters(cfg *config.Config) error {
	if flagProject != "" {
		var kept []config.Project
		for _, p := range cfg.Projects {
			if p.Name == flagProject {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("project %q is not configured", flagProject)
		}
		cfg.Projects = kept
	}
	if flagInterpreter != "" {
		var kept []config.Interpreter
		for _, i := range cfg.Interpreters {
			if i.Label() == flagInterpreter {
				kept = append(kept, i)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("interpreter %q is not configured", flagInterpreter)
		}
		cfg.Interpreters = kept
	}
	if flagCoverage != "" {
		var kept []config.CoverageTool
		for _, c := range cfg.Coverage {
			if c.Label == flagCoverage {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("coverage tool %q is not configured", flagCoverage)
		}
		cfg.Coverage = kept
	}
	// Ratio definitions may reference filtered-out column values; drop
	// those rather than failing the whole run.
	columnValues := map[string]bool{}
	for _, v := range cfg.ColumnValues() {
		columnValues[v] = true
	}
	var ratios []config.Ratio
	for _, r := range cfg.Ratios {
		if columnValues[r.Numerator] && columnValues[r.Denominator] {
			ratios = append(ratios, r)
		}
	}
	cfg.Ratios = ratios
	return nil
}
