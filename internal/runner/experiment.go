package runner

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/env"
	"github.com/covbench/covbench/internal/logging"
	"github.com/covbench/covbench/internal/matrix"
	"github.com/covbench/covbench/internal/project"
	"github.com/covbench/covbench/internal/report"
	"github.com/covbench/covbench/internal/result"
	"github.com/covbench/covbench/internal/stats"
)

// AdapterFactory builds the adapter for one configured project. Tests swap
// in fakes here.
type AdapterFactory func(p config.Project) project.Adapter

// Options tune one experiment execution.
type Options struct {
	// Parallel caps concurrent environment provisioning. Runs themselves
	// stay serialized per environment.
	Parallel int
	// EnvDir is where environments live; it defaults to envs/ beside the
	// run directories so environments outlive a single run dir.
	EnvDir string
	// NewAdapter defaults to the standard pytest adapter.
	NewAdapter AdapterFactory
	// Backend defaults to the configured isolation backend.
	Backend env.Backend
}

// Outcome is what an experiment run produced: the report over surviving
// cells and the list of cells that ended with zero successful runs.
type Outcome struct {
	RunDir      string
	Report      *report.Report
	FailedCells []string
}

// RunExperiment drives the whole matrix: provision environments for every
// distinct (project, interpreter) pair, run each cell's repetitions, then
// aggregate and pivot. Provisioning failures poison only their own cells;
// everything else still runs and reports.
func RunExperiment(ctx context.Context, cfg *config.Config, runDir string, opts Options) (*Outcome, error) {
	m, err := matrix.New(cfg)
	if err != nil {
		return nil, err
	}
	if opts.NewAdapter == nil {
		opts.NewAdapter = project.New
	}
	if opts.Backend == nil {
		switch cfg.Isolation {
		case "docker":
			opts.Backend = env.NewDockerBackend()
		default:
			opts.Backend = env.NewVenvBackend()
		}
	}
	if opts.EnvDir == "" {
		opts.EnvDir = filepath.Join(cfg.Results.Dir, "envs")
	}
	// Backends bind-mount environment directories; docker rejects relative
	// mount sources, so resolve before any environment is keyed off it.
	opts.EnvDir, err = filepath.Abs(opts.EnvDir)
	if err != nil {
		return nil, fmt.Errorf("resolving environment dir: %w", err)
	}

	logs, err := logging.NewDir(filepath.Join(runDir, "logs"))
	if err != nil {
		return nil, err
	}
	defer logs.Close()

	registry := env.NewRegistry(opts.Backend, opts.EnvDir, logs)

	adapters := map[string]project.Adapter{}
	for _, p := range cfg.Projects {
		adapters[p.Name] = opts.NewAdapter(p)
	}

	// Provision distinct environments up front, in parallel across pairs.
	// Failures are cached in the registry; dependent cells find them below.
	var jobs []Job
	for _, rep := range m.EnvKeys(cfg.EnvPerCoverage) {
		rep := rep
		jobs = append(jobs, func() error {
			adapter := adapters[rep.Project.Name]
			_, err := registry.Ensure(ctx, rep.EnvKey(cfg.EnvPerCoverage), rep.Project, rep.Interpreter, adapter.Prepare)
			return err
		})
	}
	for _, err := range RunPool(ctx, opts.Parallel, jobs) {
		log.Printf("warning: %v", err)
	}

	byCell := map[string][]*result.RunRecord{}
	for _, cell := range m.Cells {
		adapter := adapters[cell.Project.Name]
		e, err := registry.Ensure(ctx, cell.EnvKey(cfg.EnvPerCoverage), cell.Project, cell.Interpreter, adapter.Prepare)
		if err != nil {
			byCell[cell.Key()] = FailCell(cell, m.Runs, runDir, err)
			continue
		}
		byCell[cell.Key()] = RunCell(ctx, cell, e, adapter, m.Runs, runDir)
	}

	statistics := map[string]stats.CellStatistic{}
	var failed []string
	for _, cell := range m.Cells {
		stat, err := stats.Aggregate(byCell[cell.Key()])
		if err != nil {
			failed = append(failed, cell.Key())
		}
		// Zero-success cells keep their attempt count so the report
		// footer still accounts for every planned run.
		statistics[cell.Key()] = stat
	}
	rep, err := report.Build(cfg, statistics)
	if err != nil {
		return nil, err
	}

	return &Outcome{RunDir: runDir, Report: rep, FailedCells: failed}, nil
}

// Err returns a non-nil error when any cell ended with zero successful
// runs, so the process can exit non-zero after the report is printed.
func (o *Outcome) Err() error {
	if len(o.FailedCells) == 0 {
		return nil
	}
	return fmt.Errorf("%d cells produced no successful runs: %v", len(o.FailedCells), o.FailedCells)
}
