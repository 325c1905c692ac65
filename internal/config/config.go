package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Dimension keys usable as report rows and columns.
const (
	DimProject     = "proj"
	DimInterpreter = "pyver"
	DimCoverage    = "cov"
)

type Config struct {
	Interpreters   []Interpreter  `yaml:"interpreters"`
	Coverage       []CoverageTool `yaml:"coverage"`
	Projects       []Project      `yaml:"projects"`
	Runs           int            `yaml:"runs"`
	Rows           []string       `yaml:"rows"`
	Column         string         `yaml:"column"`
	Ratios         []Ratio        `yaml:"ratios"`
	Isolation      string         `yaml:"isolation"`
	EnvPerCoverage bool           `yaml:"env_per_coverage"`
	Results        Results        `yaml:"results"`
}

// Interpreter identifies a Python version to benchmark under. It can be
// given as a bare version string ("3.11") or as a mapping with an explicit
// executable path for ad-hoc builds.
type Interpreter struct {
	Version string `yaml:"version"`
	Path    string `yaml:"path"`
}

func (i *Interpreter) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		i.Version = node.Value
		return nil
	}
	type raw Interpreter
	return node.Decode((*raw)(i))
}

// Label is the value this interpreter shows up as in report dimensions.
func (i Interpreter) Label() string {
	return i.Version
}

// Executable resolves the interpreter command: an explicit path wins,
// otherwise the conventional versioned name on PATH.
func (i Interpreter) Executable() string {
	if i.Path != "" {
		return i.Path
	}
	return "python" + i.Version
}

// CoverageTool names one coverage configuration under test. An empty Pip
// specifier marks the baseline pseudo-tool: no instrumentation at all.
// Options are written into the environment's coverage config as [run]
// settings, so one tool can differ from another only in settings like
// dynamic_context.
type CoverageTool struct {
	Label   string            `yaml:"label"`
	Pip     string            `yaml:"pip"`
	Env     map[string]string `yaml:"env"`
	Options map[string]string `yaml:"options"`
}

// Baseline reports whether this tool represents the no-coverage control.
func (c CoverageTool) Baseline() bool {
	return c.Pip == ""
}

type Project struct {
	Name       string   `yaml:"name"`
	Repo       string   `yaml:"repo"`
	Ref        string   `yaml:"ref"`
	InstallCmd string   `yaml:"install_cmd"`
	TestCmd    string   `yaml:"test_cmd"`
	TestArgs   []string `yaml:"test_args"`
	Timeout    Duration `yaml:"timeout"`
}

// Ratio defines a derived report column: the numerator column's median
// divided by the denominator column's, shown as a percentage.
type Ratio struct {
	Label       string `yaml:"label"`
	Numerator   string `yaml:"numerator"`
	Denominator string `yaml:"denominator"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

// Duration wraps time.Duration so YAML values like "30m" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the experiment description and fills defaults. Anything
// that would make the matrix empty or the report ambiguous is rejected here,
// before any environment is provisioned.
func Validate(cfg *Config) error {
	if len(cfg.Interpreters) == 0 {
		return fmt.Errorf("no interpreters defined")
	}
	for i, in := range cfg.Interpreters {
		if in.Version == "" {
			return fmt.Errorf("interpreter %d: version is required", i)
		}
	}
	if len(cfg.Coverage) == 0 {
		return fmt.Errorf("no coverage tools defined")
	}
	seen := map[string]bool{}
	for i, c := range cfg.Coverage {
		if c.Label == "" {
			return fmt.Errorf("coverage tool %d: label is required", i)
		}
		if seen[c.Label] {
			return fmt.Errorf("coverage tool %q: duplicate label", c.Label)
		}
		seen[c.Label] = true
	}
	if len(cfg.Projects) == 0 {
		return fmt.Errorf("no projects defined")
	}
	for i := range cfg.Projects {
		p := &cfg.Projects[i]
		if p.Name == "" {
			return fmt.Errorf("project %d: name is required", i)
		}
		if p.Repo == "" {
			return fmt.Errorf("project %q: repo is required", p.Name)
		}
		if p.InstallCmd == "" {
			p.InstallCmd = "python -m pip install ."
		}
		if p.TestCmd == "" {
			p.TestCmd = "python -m pytest"
		}
	}
	if cfg.Runs == 0 {
		cfg.Runs = 1
	}
	if cfg.Runs < 1 {
		return fmt.Errorf("runs must be at least 1")
	}
	if len(cfg.Rows) == 0 {
		cfg.Rows = []string{DimCoverage, DimProject}
	}
	if cfg.Column == "" {
		cfg.Column = DimInterpreter
	}
	for _, r := range cfg.Rows {
		if !validDimension(r) {
			return fmt.Errorf("unknown row dimension %q", r)
		}
		if r == cfg.Column {
			return fmt.Errorf("dimension %q used as both row and column", r)
		}
	}
	if !validDimension(cfg.Column) {
		return fmt.Errorf("unknown column dimension %q", cfg.Column)
	}
	covered := map[string]int{cfg.Column: 1}
	for _, r := range cfg.Rows {
		covered[r]++
	}
	for _, d := range []string{DimProject, DimInterpreter, DimCoverage} {
		if covered[d] != 1 {
			return fmt.Errorf("rows and column together must use each of %s, %s, %s exactly once",
				DimProject, DimInterpreter, DimCoverage)
		}
	}
	columnValues := map[string]bool{}
	for _, v := range cfg.ColumnValues() {
		columnValues[v] = true
	}
	for _, r := range cfg.Ratios {
		if r.Label == "" {
			return fmt.Errorf("ratio: label is required")
		}
		if !columnValues[r.Numerator] {
			return fmt.Errorf("ratio %q: numerator %q is not a %s value", r.Label, r.Numerator, cfg.Column)
		}
		if !columnValues[r.Denominator] {
			return fmt.Errorf("ratio %q: denominator %q is not a %s value", r.Label, r.Denominator, cfg.Column)
		}
	}
	switch cfg.Isolation {
	case "":
		cfg.Isolation = "venv"
	case "venv", "docker":
	default:
		return fmt.Errorf("unknown isolation backend %q", cfg.Isolation)
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}

func validDimension(d string) bool {
	switch d {
	case DimProject, DimInterpreter, DimCoverage:
		return true
	}
	return false
}

// ColumnValues lists the configured values of the column dimension, in
// config order.
func (cfg *Config) ColumnValues() []string {
	return cfg.DimensionValues(cfg.Column)
}

// DimensionValues lists the configured values of a dimension, in config
// order. Unknown dimensions yield nil; Validate rejects those up front.
func (cfg *Config) DimensionValues(dim string) []string {
	var vals []string
	switch dim {
	case DimProject:
		for _, p := range cfg.Projects {
			vals = append(vals, p.Name)
		}
	case DimInterpreter:
		for _, i := range cfg.Interpreters {
			vals = append(vals, i.Label())
		}
	case DimCoverage:
		for _, c := range cfg.Coverage {
			vals = append(vals, c.Label)
		}
	}
	return vals
}
