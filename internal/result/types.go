package result

import (
	"time"

	"github.com/covbench/covbench/internal/project"
)

// RunRecord is one execution of a matrix cell. Records are written as each
// run finishes and never mutated afterwards.
type RunRecord struct {
	Project     string                   `json:"project"`
	Interpreter string                   `json:"interpreter"`
	Coverage    string                   `json:"coverage"`
	Run         int                      `json:"run"`
	DurationS   float64                  `json:"duration_s"`
	Success     bool                     `json:"success"`
	ExitCode    int                      `json:"exit_code"`
	TimedOut    bool                     `json:"timed_out,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Summary     *project.CoverageSummary `json:"coverage_summary,omitempty"`
}

// CellKey groups records belonging to the same matrix cell.
func (r *RunRecord) CellKey() string {
	return r.Project + "/" + r.Interpreter + "/" + r.Coverage
}

func (r *RunRecord) Duration() time.Duration {
	return time.Duration(r.DurationS * float64(time.Second))
}
