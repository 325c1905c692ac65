// Package matrix expands an experiment configuration into the ordered list
// of benchmark cells, one per project × interpreter × coverage tool.
package matrix

import (
	"fmt"

	"github.com/covbench/covbench/internal/config"
)

// Cell is one point of the experiment matrix. Index is 1-based and stable
// for a given config, so log lines like "cell 3 of 12" are reproducible
// across invocations.
type Cell struct {
	Project     config.Project
	Interpreter config.Interpreter
	Coverage    config.CoverageTool
	Index       int
	Total       int
}

// Key uniquely identifies the cell for statistics and reporting.
func (c Cell) Key() string {
	return c.Project.Name + "/" + c.Interpreter.Label() + "/" + c.Coverage.Label
}

// EnvKey identifies the environment this cell runs in. With perCoverage set,
// instrumented and baseline runs get separate environments; otherwise an
// environment is shared by everything on the same project and interpreter.
func (c Cell) EnvKey(perCoverage bool) string {
	k := c.Project.Name + "/" + c.Interpreter.Label()
	if perCoverage {
		k += "/" + c.Coverage.Label
	}
	return k
}

func (c Cell) String() string {
	return fmt.Sprintf("%s (cell %d of %d)", c.Key(), c.Index, c.Total)
}

// DimensionValue returns the cell's value for a report dimension key.
func (c Cell) DimensionValue(dim string) string {
	switch dim {
	case config.DimProject:
		return c.Project.Name
	case config.DimInterpreter:
		return c.Interpreter.Label()
	case config.DimCoverage:
		return c.Coverage.Label
	}
	return ""
}

// Matrix is the fully expanded, ordered set of cells plus the repetition
// count each cell gets.
type Matrix struct {
	Cells []Cell
	Runs  int
}

// New enumerates the Cartesian product in a fixed order: projects outermost,
// then interpreters, then coverage tools, each in config order.
func New(cfg *config.Config) (*Matrix, error) {
	if len(cfg.Projects) == 0 || len(cfg.Interpreters) == 0 || len(cfg.Coverage) == 0 {
		return nil, fmt.Errorf("empty experiment matrix: %d projects × %d interpreters × %d coverage tools",
			len(cfg.Projects), len(cfg.Interpreters), len(cfg.Coverage))
	}
	total := len(cfg.Projects) * len(cfg.Interpreters) * len(cfg.Coverage)
	cells := make([]Cell, 0, total)
	for _, p := range cfg.Projects {
		for _, in := range cfg.Interpreters {
			for _, cov := range cfg.Coverage {
				cells = append(cells, Cell{
					Project:     p,
					Interpreter: in,
					Coverage:    cov,
					Index:       len(cells) + 1,
					Total:       total,
				})
			}
		}
	}
	return &Matrix{Cells: cells, Runs: cfg.Runs}, nil
}

// TotalRuns is the number of individual test-suite executions the experiment
// will attempt.
func (m *Matrix) TotalRuns() int {
	return len(m.Cells) * m.Runs
}

// EnvKeys returns the distinct environment keys the matrix needs, in first-use
// order, with a representative cell for each.
func (m *Matrix) EnvKeys(perCoverage bool) []Cell {
	seen := map[string]bool{}
	var reps []Cell
	for _, c := range m.Cells {
		k := c.EnvKey(perCoverage)
		if !seen[k] {
			seen[k] = true
			reps = append(reps, c)
		}
	}
	return reps
}
