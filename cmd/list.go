package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/covbench/covbench/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured projects, interpreters, and coverage tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Println("Interpreters:")
			for _, i := range cfg.Interpreters {
				fmt.Printf("  - %s (%s)\n", i.Label(), i.Executable())
			}
			fmt.Println("\nCoverage tools:")
			for _, c := range cfg.Coverage {
				if c.Baseline() {
					fmt.Printf("  - %s (baseline, no instrumentation)\n", c.Label)
					continue
				}
				fmt.Printf("  - %s (%s)\n", c.Label, c.Pip)
			}
			fmt.Println("\nProjects:")
			for _, p := range cfg.Projects {
				fmt.Printf("  - %s (%s)\n", p.Name, p.Repo)
			}
			fmt.Printf("\n%d runs per cell, %s isolation\n", cfg.Runs, cfg.Isolation)
			return nil
		},
	}
}
