// Package project holds the per-project adapter contract: how to get a
// target codebase into an environment and how to run its test suite.
package project

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/env"
)

// CoverageSummary is the parsed tail line of a coverage report. It is nil
// for baseline runs; absent is not the same as zero.
type CoverageSummary struct {
	Statements int     `json:"statements"`
	Missed     int     `json:"missed"`
	Percent    float64 `json:"percent"`
}

// Adapter prepares a project inside an environment and invokes its test
// suite, with or without coverage measurement.
type Adapter interface {
	Prepare(ctx context.Context, e *env.Environment) error
	RunTests(ctx context.Context, e *env.Environment, cov config.CoverageTool) (time.Duration, *CoverageSummary, error)
}

// TestRunError reports a failed test-suite invocation, keeping the captured
// output and exit status.
type TestRunError struct {
	Project  string
	ExitCode int
	Output   []byte
}

func (e *TestRunError) Error() string {
	return fmt.Sprintf("test suite for %s exited %d:\n%s", e.Project, e.ExitCode, tailOf(e.Output))
}

func tailOf(out []byte) []byte {
	const max = 4096
	if len(out) > max {
		return out[len(out)-max:]
	}
	return out
}

// New returns the standard adapter for a configured project: git checkout,
// pip install, pytest.
func New(p config.Project) Adapter {
	return &pytestAdapter{project: p}
}

type pytestAdapter struct {
	project config.Project
}

func (a *pytestAdapter) Prepare(ctx context.Context, e *env.Environment) error {
	done := e.Log.Step("clone %s", a.project.Repo)
	err := clone(ctx, a.project.Repo, a.project.Ref, e.WorkDir())
	done(err)
	if err != nil {
		return err
	}

	done = e.Log.Step("install dependencies: %s", a.project.InstallCmd)
	res, err := e.Exec(ctx, env.Command{
		Argv: strings.Fields(a.project.InstallCmd),
		Dir:  e.WorkDir(),
	})
	if err != nil {
		done(err)
		return err
	}
	if res.ExitCode != 0 {
		err := fmt.Errorf("install exited %d:\n%s", res.ExitCode, tailOf(res.Output))
		done(err)
		return err
	}
	done(nil)
	return nil
}

func (a *pytestAdapter) RunTests(ctx context.Context, e *env.Environment, cov config.CoverageTool) (time.Duration, *CoverageSummary, error) {
	runEnv := cov.Env
	if !cov.Baseline() && len(cov.Options) > 0 {
		name, err := writeRunOptions(e.WorkDir(), cov)
		if err != nil {
			return 0, nil, err
		}
		runEnv = map[string]string{}
		for k, v := range cov.Env {
			runEnv[k] = v
		}
		runEnv["COVERAGE_RCFILE"] = name
	}

	argv := testCommand(a.project, cov)
	done := e.Log.Step("run tests [%s]: %s", cov.Label, strings.Join(argv, " "))
	res, err := e.Exec(ctx, env.Command{
		Argv:    argv,
		Dir:     e.WorkDir(),
		Env:     runEnv,
		Timeout: a.project.Timeout.Std(),
	})
	if err != nil {
		done(err)
		return 0, nil, err
	}
	if res.ExitCode != 0 {
		terr := &TestRunError{Project: a.project.Name, ExitCode: res.ExitCode, Output: res.Output}
		done(terr)
		return res.Duration, nil, terr
	}
	done(nil)

	if cov.Baseline() {
		return res.Duration, nil, nil
	}
	summary, err := a.coverageReport(ctx, e)
	if err != nil {
		return res.Duration, nil, err
	}
	return res.Duration, summary, nil
}

// coverageReport asks the installed tool for its summary table. The report
// step is outside the timed test invocation on purpose.
func (a *pytestAdapter) coverageReport(ctx context.Context, e *env.Environment) (*CoverageSummary, error) {
	res, err := e.Exec(ctx, env.Command{
		Argv: []string{"python", "-m", "coverage", "report"},
		Dir:  e.WorkDir(),
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("coverage report exited %d:\n%s", res.ExitCode, tailOf(res.Output))
	}
	summary, err := ParseSummary(string(res.Output))
	if err != nil {
		return nil, fmt.Errorf("coverage report for %s: %w", a.project.Name, err)
	}
	return summary, nil
}

// writeRunOptions materializes a tool's [run] settings as a coverage config
// file inside the checkout. The name stays clear of the auto-discovered
// .coveragerc so tools without options are unaffected, and the returned
// path is relative because the suite runs with the checkout as its working
// directory under either backend.
func writeRunOptions(dir string, cov config.CoverageTool) (string, error) {
	keys := make([]string, 0, len(cov.Options))
	for k := range cov.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[run]\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, cov.Options[k])
	}
	name := "coverage-" + cov.Label + ".rc"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing coverage options for %s: %w", cov.Label, err)
	}
	return name, nil
}

// testCommand builds the test invocation. With coverage active the suite
// runs under "coverage run"; the configured command is rewritten rather than
// wrapped in a shell.
func testCommand(p config.Project, cov config.CoverageTool) []string {
	argv := strings.Fields(p.TestCmd)
	argv = append(argv, p.TestArgs...)
	if cov.Baseline() {
		return argv
	}
	if len(argv) >= 2 && argv[0] == "python" && argv[1] == "-m" {
		rewritten := []string{"python", "-m", "coverage", "run", "-m"}
		return append(rewritten, argv[2:]...)
	}
	return append([]string{"coverage", "run"}, argv...)
}

var totalLine = regexp.MustCompile(`(?m)^TOTAL\s+(\d+)\s+(\d+).*?([\d.]+)%\s*$`)

// ParseSummary extracts (statements, missed, percent) from the TOTAL line of
// a coverage report.
func ParseSummary(report string) (*CoverageSummary, error) {
	m := totalLine.FindStringSubmatch(report)
	if m == nil {
		return nil, fmt.Errorf("no TOTAL line in coverage output")
	}
	statements, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("parsing statement count %q: %w", m[1], err)
	}
	missed, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("parsing missed count %q: %w", m[2], err)
	}
	percent, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing percentage %q: %w", m[3], err)
	}
	return &CoverageSummary{Statements: statements, Missed: missed, Percent: percent}, nil
}

// clone fetches a shallow checkout of the project repo into dest. The
// checkout happens on the host even under docker isolation; only installs
// and test runs go through the backend.
func clone(ctx context.Context, repo, ref, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clearing checkout dir: %w", err)
	}
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, repo, dest)
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone: %s: %w", out, err)
	}
	return nil
}
