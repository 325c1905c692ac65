// Package runner executes the cells of an experiment matrix and records
// their timing samples.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/covbench/covbench/internal/env"
	"github.com/covbench/covbench/internal/matrix"
	"github.com/covbench/covbench/internal/project"
	"github.com/covbench/covbench/internal/result"
)

// RunCell executes one cell `runs` times inside its environment, persisting
// a record per run. The environment lock is held for the whole cell, so the
// coverage install and every repetition see a consistent dependency set.
// A failed run is recorded and the remaining repetitions continue.
func RunCell(ctx context.Context, cell matrix.Cell, e *env.Environment, adapter project.Adapter, runs int, runDir string) []*result.RunRecord {
	e.Lock()
	defer e.Unlock()

	if err := e.EnsureCoverage(ctx, cell.Coverage); err != nil {
		log.Printf("warning: %s: %v", cell, err)
		return failedRecords(cell, runs, runDir, fmt.Sprintf("coverage install failed: %v", err))
	}

	records := make([]*result.RunRecord, 0, runs)
	for run := 1; run <= runs; run++ {
		log.Printf("%s: run %d of %d", cell, run, runs)
		rec := &result.RunRecord{
			Project:     cell.Project.Name,
			Interpreter: cell.Interpreter.Label(),
			Coverage:    cell.Coverage.Label,
			Run:         run,
		}
		duration, summary, err := adapter.RunTests(ctx, e, cell.Coverage)
		rec.DurationS = duration.Seconds()
		switch {
		case err == nil:
			rec.Success = true
			rec.Summary = summary
		default:
			var terr *project.TestRunError
			if errors.As(err, &terr) {
				rec.ExitCode = terr.ExitCode
				rec.TimedOut = terr.ExitCode == 124
			}
			rec.Error = err.Error()
			log.Printf("warning: %s: run %d failed: %v", cell, run, err)
		}
		persist(runDir, rec)
		records = append(records, rec)
	}
	return records
}

// FailCell records every planned run of a cell as failed, used when the
// cell's environment never became usable.
func FailCell(cell matrix.Cell, runs int, runDir string, cause error) []*result.RunRecord {
	return failedRecords(cell, runs, runDir, fmt.Sprintf("environment unavailable: %v", cause))
}

func failedRecords(cell matrix.Cell, runs int, runDir, msg string) []*result.RunRecord {
	records := make([]*result.RunRecord, 0, runs)
	for run := 1; run <= runs; run++ {
		rec := &result.RunRecord{
			Project:     cell.Project.Name,
			Interpreter: cell.Interpreter.Label(),
			Coverage:    cell.Coverage.Label,
			Run:         run,
			Error:       msg,
		}
		persist(runDir, rec)
		records = append(records, rec)
	}
	return records
}

func persist(runDir string, rec *result.RunRecord) {
	if runDir == "" {
		return
	}
	if err := result.WriteRunRecord(runDir, rec); err != nil {
		log.Printf("warning: writing run record: %v", err)
	}
}
