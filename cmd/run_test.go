package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covbench/covbench/internal/config"
)

func filterConfig() *config.Config {
	return &config.Config{
		Interpreters: []config.Interpreter{{Version: "3.11"}, {Version: "3.12"}},
		Coverage: []config.CoverageTool{
			{Label: "nocov"},
			{Label: "753", Pip: "coverage==7.5.3"},
		},
		Projects: []config.Project{
			{Name: "pygments", Repo: "r1"},
			{Name: "dulwich", Repo: "r2"},
		},
		Column: config.DimInterpreter,
		Ratios: []config.Ratio{
			{Label: "753%", Numerator: "3.12", Denominator: "3.11"},
		},
	}
}

func resetFilters() {
	flagProject = ""
	flagInterpreter = ""
	flagCoverage = ""
}

func TestApplyFiltersProject(t *testing.T) {
	defer resetFilters()
	flagProject = "pygments"
	cfg := filterConfig()
	require.NoError(t, applyFilters(cfg))
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, "pygments", cfg.Projects[0].Name)
	// Interpreters untouched, ratios still valid.
	assert.Len(t, cfg.Interpreters, 2)
	assert.Len(t, cfg.Ratios, 1)
}

func TestApplyFiltersUnknownProject(t *testing.T) {
	defer resetFilters()
	flagProject = "nope"
	require.Error(t, applyFilters(filterConfig()))
}

func TestApplyFiltersInterpreterDropsStaleRatios(t *testing.T) {
	defer resetFilters()
	flagInterpreter = "3.11"
	cfg := filterConfig()
	require.NoError(t, applyFilters(cfg))
	require.Len(t, cfg.Interpreters, 1)
	// The ratio referenced 3.12, which is gone now.
	assert.Empty(t, cfg.Ratios)
}

func TestApplyFiltersCoverage(t *testing.T) {
	defer resetFilters()
	flagCoverage = "753"
	cfg := filterConfig()
	require.NoError(t, applyFilters(cfg))
	require.Len(t, cfg.Coverage, 1)
	assert.Equal(t, "753", cfg.Coverage[0].Label)
}

func TestApplyFiltersUnknownCoverage(t *testing.T) {
	defer resetFilters()
	flagCoverage = "slipcover"
	require.Error(t, applyFilters(filterConfig()))
}
