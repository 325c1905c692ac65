// Package stats collapses the repeated timing samples of a matrix cell into
// its summary statistic.
package stats

import (
	"errors"
	"math"
	"sort"

	"github.com/covbench/covbench/internal/result"
)

// ErrNoSamples means every run of a cell failed; the cell has no numeric
// statistic and reports as "no data".
var ErrNoSamples = errors.New("no successful samples")

// CellStatistic is the aggregate over one cell's run records. Durations are
// seconds. Attempts counts all runs, Successes only the ones that went into
// the numbers.
type CellStatistic struct {
	MedianS   float64
	StdevS    float64
	Successes int
	Attempts  int
}

// Aggregate is a pure function of its sample sequence: failed runs are
// excluded from the numbers but kept in the attempt count.
func Aggregate(samples []*result.RunRecord) (CellStatistic, error) {
	stat := CellStatistic{Attempts: len(samples)}
	var durations []float64
	for _, s := range samples {
		if s.Success {
			durations = append(durations, s.DurationS)
		}
	}
	stat.Successes = len(durations)
	if len(durations) == 0 {
		return stat, ErrNoSamples
	}
	stat.MedianS = Median(durations)
	stat.StdevS = Stdev(durations)
	return stat, nil
}

// Median of the values: sort, take the middle one, or the mean of the two
// middle ones for an even count. An empty slice yields zero.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Stdev is the population standard deviation. A single sample yields zero
// rather than NaN.
func Stdev(values []float64) float64 {
	n := float64(len(values))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	var sqDiff float64
	for _, v := range values {
		sqDiff += (v - mean) * (v - mean)
	}
	return math.Sqrt(sqDiff / n)
}
