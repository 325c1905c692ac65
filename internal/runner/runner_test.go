package runner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/env"
	"github.com/covbench/covbench/internal/logging"
	"github.com/covbench/covbench/internal/matrix"
	"github.com/covbench/covbench/internal/project"
	"github.com/covbench/covbench/internal/result"
	"github.com/covbench/covbench/internal/runner"
)

// fakeBackend provisions instantly and answers every exec with success.
type fakeBackend struct {
	mu       sync.Mutex
	failKeys map[string]bool
	dirs     []string
}

func (b *fakeBackend) Provision(ctx context.Context, e *env.Environment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs = append(b.dirs, e.Dir)
	if b.failKeys[e.Key] {
		return context.DeadlineExceeded
	}
	return nil
}

func (b *fakeBackend) Exec(ctx context.Context, e *env.Environment, cmd env.Command) (*env.ExecResult, error) {
	return &env.ExecResult{ExitCode: 0, Duration: time.Millisecond}, nil
}

// fakeAdapter returns scripted durations keyed by project/interpreter and
// can fail specific run indices.
type fakeAdapter struct {
	mu        sync.Mutex
	durations map[string]float64
	failRuns  map[int]bool
	calls     int
}

func (a *fakeAdapter) Prepare(ctx context.Context, e *env.Environment) error {
	return nil
}

func (a *fakeAdapter) RunTests(ctx context.Context, e *env.Environment, cov config.CoverageTool) (time.Duration, *project.CoverageSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failRuns[a.calls] {
		return time.Second, nil, &project.TestRunError{Project: e.Project.Name, ExitCode: 1, Output: []byte("1 failed")}
	}
	seconds := a.durations[e.Project.Name+"/"+e.Interpreter.Label()]
	if seconds == 0 {
		seconds = 1
	}
	var summary *project.CoverageSummary
	if !cov.Baseline() {
		summary = &project.CoverageSummary{Statements: 100, Missed: 5, Percent: 95}
	}
	return time.Duration(seconds * float64(time.Second)), summary, nil
}

func testEnv(t *testing.T, key string) *env.Environment {
	t.Helper()
	logs, err := logging.NewDir(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { logs.Close() })
	reg := env.NewRegistry(&fakeBackend{}, t.TempDir(), logs)
	e, err := reg.Ensure(context.Background(), key, config.Project{Name: "a", Repo: "r"}, config.Interpreter{Version: "3.12"}, nil)
	require.NoError(t, err)
	return e
}

func testCell() matrix.Cell {
	return matrix.Cell{
		Project:     config.Project{Name: "a", Repo: "r"},
		Interpreter: config.Interpreter{Version: "3.12"},
		Coverage:    config.CoverageTool{Label: "753", Pip: "coverage==7.5.3"},
		Index:       1,
		Total:       1,
	}
}

func TestRunCellRecordsEveryRun(t *testing.T) {
	e := testEnv(t, "a/3.12")
	adapter := &fakeAdapter{durations: map[string]float64{"a/3.12": 2.5}}
	runDir := t.TempDir()

	records := runner.RunCell(context.Background(), testCell(), e, adapter, 3, runDir)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Run)
		assert.True(t, rec.Success)
		assert.Equal(t, 2.5, rec.DurationS)
		require.NotNil(t, rec.Summary)
	}

	// Records were persisted as they completed.
	byCell, err := result.Collect(runDir)
	require.NoError(t, err)
	assert.Len(t, byCell["a/3.12/753"], 3)
}

func TestRunCellBaselineHasNoSummary(t *testing.T) {
	e := testEnv(t, "a/3.12")
	adapter := &fakeAdapter{}
	cell := testCell()
	cell.Coverage = config.CoverageTool{Label: "nocov"}

	records := runner.RunCell(context.Background(), cell, e, adapter, 1, "")
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Nil(t, records[0].Summary)
}

func TestRunCellFailedRunDoesNotStopRepetitions(t *testing.T) {
	e := testEnv(t, "a/3.12")
	adapter := &fakeAdapter{failRuns: map[int]bool{2: true}}

	records := runner.RunCell(context.Background(), testCell(), e, adapter, 3, "")
	require.Len(t, records, 3)
	assert.True(t, records[0].Success)
	assert.False(t, records[1].Success)
	assert.Equal(t, 1, records[1].ExitCode)
	assert.Contains(t, records[1].Error, "exited 1")
	assert.True(t, records[2].Success)
}

func TestFailCellMarksAllPlannedRuns(t *testing.T) {
	runDir := t.TempDir()
	records := runner.FailCell(testCell(), 2, runDir, context.DeadlineExceeded)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.False(t, rec.Success)
		assert.Contains(t, rec.Error, "environment unavailable")
	}
}
