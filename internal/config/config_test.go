package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covbench/covbench/internal/config"
)

func TestLoadMinimal(t *testing.T) {
	cfg, err := config.Load("../../testdata/minimal.yaml")
	require.NoError(t, err)

	require.Len(t, cfg.Interpreters, 1)
	assert.Equal(t, "3.12", cfg.Interpreters[0].Label())
	assert.Equal(t, "python3.12", cfg.Interpreters[0].Executable())
	require.Len(t, cfg.Coverage, 1)
	assert.True(t, cfg.Coverage[0].Baseline())

	// Defaults filled by validation.
	assert.Equal(t, 1, cfg.Runs)
	assert.Equal(t, []string{config.DimCoverage, config.DimProject}, cfg.Rows)
	assert.Equal(t, config.DimInterpreter, cfg.Column)
	assert.Equal(t, "venv", cfg.Isolation)
	assert.Equal(t, "results", cfg.Results.Dir)
	assert.Equal(t, "python -m pip install .", cfg.Projects[0].InstallCmd)
	assert.Equal(t, "python -m pytest", cfg.Projects[0].TestCmd)
}

func TestLoadFull(t *testing.T) {
	cfg, err := config.Load("../../testdata/full.yaml")
	require.NoError(t, err)

	require.Len(t, cfg.Interpreters, 2)
	assert.Equal(t, "python3.11", cfg.Interpreters[0].Executable())
	assert.Equal(t, "/usr/local/cpython/v3.12.0/bin/python3", cfg.Interpreters[1].Executable())

	require.Len(t, cfg.Coverage, 4)
	assert.True(t, cfg.Coverage[0].Baseline())
	assert.False(t, cfg.Coverage[1].Baseline())
	assert.Equal(t, "sysmon", cfg.Coverage[2].Env["COVERAGE_CORE"])
	assert.Equal(t, "test_function", cfg.Coverage[3].Options["dynamic_context"])

	require.Len(t, cfg.Projects, 2)
	assert.Equal(t, 30*time.Minute, cfg.Projects[0].Timeout.Std())
	assert.Equal(t, []string{"-x"}, cfg.Projects[0].TestArgs)

	assert.Equal(t, 3, cfg.Runs)
	require.Len(t, cfg.Ratios, 2)
	assert.Equal(t, "753", cfg.Ratios[0].Numerator)
	assert.Equal(t, "nocov", cfg.Ratios[0].Denominator)
	assert.True(t, cfg.EnvPerCoverage)
	assert.Equal(t, "bench-results", cfg.Results.Dir)
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load("nonexistent.yaml")
	require.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	_, err := config.Load("../../testdata/invalid.yaml")
	require.Error(t, err)
}

func validConfig() *config.Config {
	return &config.Config{
		Interpreters: []config.Interpreter{{Version: "3.12"}},
		Coverage:     []config.CoverageTool{{Label: "nocov"}, {Label: "753", Pip: "coverage==7.5.3"}},
		Projects:     []config.Project{{Name: "demo", Repo: "https://example.com/demo.git"}},
	}
}

func TestValidateEmptyDimensions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no interpreters", func(c *config.Config) { c.Interpreters = nil }},
		{"no coverage tools", func(c *config.Config) { c.Coverage = nil }},
		{"no projects", func(c *config.Config) { c.Projects = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			require.Error(t, config.Validate(cfg))
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"negative runs", func(c *config.Config) { c.Runs = -1 }},
		{"duplicate coverage label", func(c *config.Config) {
			c.Coverage = append(c.Coverage, config.CoverageTool{Label: "753", Pip: "coverage==7.6.0"})
		}},
		{"unknown row dimension", func(c *config.Config) { c.Rows = []string{"bogus"} }},
		{"row equals column", func(c *config.Config) {
			c.Rows = []string{config.DimInterpreter, config.DimProject}
			c.Column = config.DimInterpreter
		}},
		{"rows and column miss a dimension", func(c *config.Config) {
			c.Rows = []string{config.DimProject}
			c.Column = config.DimInterpreter
		}},
		{"ratio references unknown column value", func(c *config.Config) {
			c.Ratios = []config.Ratio{{Label: "x", Numerator: "3.13", Denominator: "3.12"}}
		}},
		{"unknown isolation", func(c *config.Config) { c.Isolation = "chroot" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			require.Error(t, config.Validate(cfg))
		})
	}
}

func TestRatioAgainstColumnValues(t *testing.T) {
	cfg := validConfig()
	cfg.Rows = []string{config.DimInterpreter, config.DimProject}
	cfg.Column = config.DimCoverage
	cfg.Ratios = []config.Ratio{{Label: "overhead", Numerator: "753", Denominator: "nocov"}}
	require.NoError(t, config.Validate(cfg))
}

func TestDimensionValues(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, config.Validate(cfg))
	assert.Equal(t, []string{"demo"}, cfg.DimensionValues(config.DimProject))
	assert.Equal(t, []string{"3.12"}, cfg.DimensionValues(config.DimInterpreter))
	assert.Equal(t, []string{"nocov", "753"}, cfg.DimensionValues(config.DimCoverage))
	assert.Equal(t, []string{"3.12"}, cfg.ColumnValues())
}
