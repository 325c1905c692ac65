package cmd

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/matrix"
)

var flagCheckInterpreters bool

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the experiment configuration",
		Long:  "Load and validate the experiment config, report the matrix size, and optionally check that every configured interpreter resolves to an executable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			m, err := matrix.New(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok\n", cfgFile)
			fmt.Printf("matrix: %d projects × %d interpreters × %d coverage tools = %d cells, %d total runs\n",
				len(cfg.Projects), len(cfg.Interpreters), len(cfg.Coverage), len(m.Cells), m.TotalRuns())

			if !flagCheckInterpreters {
				return nil
			}
			if cfg.Isolation == "docker" {
				fmt.Println("docker isolation: interpreters resolve to python:<version> images at run time")
				return nil
			}
			var missing int
			for _, i := range cfg.Interpreters {
				path, err := exec.LookPath(i.Executable())
				if err != nil {
					fmt.Printf("interpreter %s: NOT FOUND (%s)\n", i.Label(), i.Executable())
					missing++
					continue
				}
				fmt.Printf("interpreter %s: %s\n", i.Label(), path)
			}
			if missing > 0 {
				return fmt.Errorf("%d interpreters could not be resolved", missing)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagCheckInterpreters, "check-interpreters", false, "resolve each interpreter executable")
	return cmd
}
