// Package env provisions and caches isolated runtime environments, one per
// project × interpreter pair (optionally per coverage tool as well).
package env

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/logging"
)

// Command is one subprocess to execute inside an environment.
type Command struct {
	Argv    []string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
}

// ExecResult captures the outcome of one Command. A timed-out command is
// reported as exit 124.
type ExecResult struct {
	ExitCode int
	Output   []byte
	Duration time.Duration
	TimedOut bool
}

// Backend knows how to create an environment and execute commands inside it.
type Backend interface {
	Provision(ctx context.Context, e *Environment) error
	Exec(ctx context.Context, e *Environment, cmd Command) (*ExecResult, error)
}

// Environment is a provisioned execution context. It is a mutable,
// exclusively-owned resource: callers must hold its lock across any install
// or run step so no run ever observes a partially installed dependency set.
type Environment struct {
	Key         string
	Project     config.Project
	Interpreter config.Interpreter
	Dir         string
	Log         *logging.ProjectLog

	mu           sync.Mutex
	backend      Backend
	installedCov string
}

func (e *Environment) Lock()   { e.mu.Lock() }
func (e *Environment) Unlock() { e.mu.Unlock() }

// WorkDir is where the project checkout lives inside the environment.
func (e *Environment) WorkDir() string {
	return filepath.Join(e.Dir, "src")
}

// Exec runs a command through the environment's backend. The caller holds
// the environment lock.
func (e *Environment) Exec(ctx context.Context, cmd Command) (*ExecResult, error) {
	return e.backend.Exec(ctx, e, cmd)
}

// EnsureCoverage installs the given coverage tool into the environment,
// skipping the install when the tool is the baseline pseudo-spec or already
// present. The caller holds the environment lock.
func (e *Environment) EnsureCoverage(ctx context.Context, cov config.CoverageTool) error {
	if cov.Baseline() || e.installedCov == cov.Label {
		return nil
	}
	done := e.Log.Step("install coverage %s (%s)", cov.Label, cov.Pip)
	res, err := e.Exec(ctx, Command{
		Argv: []string{"python", "-m", "pip", "install", "--quiet", cov.Pip},
	})
	if err != nil {
		done(err)
		return &ProvisionError{Key: e.Key, Err: err}
	}
	if res.ExitCode != 0 {
		err := fmt.Errorf("pip install %s exited %d", cov.Pip, res.ExitCode)
		done(err)
		return &ProvisionError{Key: e.Key, Output: res.Output, Err: err}
	}
	done(nil)
	e.installedCov = cov.Label
	return nil
}

// ProvisionError wraps an environment or dependency setup failure, keeping
// the installer's output for diagnosis. It poisons only the one environment
// key; independent pairs keep going.
type ProvisionError struct {
	Key    string
	Output []byte
	Err    error
}

func (e *ProvisionError) Error() string {
	if len(e.Output) > 0 {
		return fmt.Sprintf("provisioning %s: %v\n%s", e.Key, e.Err, e.Output)
	}
	return fmt.Sprintf("provisioning %s: %v", e.Key, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// PrepareFunc installs a project's own dependencies into a freshly created
// environment. It is supplied by the project adapter.
type PrepareFunc func(ctx context.Context, e *Environment) error

// Registry owns every environment of an experiment run. It is passed by
// handle into the runner rather than living in package state.
type Registry struct {
	mu         sync.Mutex
	backend    Backend
	baseDir    string
	logs       *logging.Dir
	envs       map[string]*slot
	provisions int
}

type slot struct {
	once sync.Once
	env  *Environment
	err  error
}

func NewRegistry(backend Backend, baseDir string, logs *logging.Dir) *Registry {
	return &Registry{
		backend: backend,
		baseDir: baseDir,
		logs:    logs,
		envs:    map[string]*slot{},
	}
}

// Ensure returns the environment for key, provisioning it on first use.
// Repeated calls are cache hits, including cached failures: a pair that
// failed to provision is not silently retried.
func (r *Registry) Ensure(ctx context.Context, key string, project config.Project, interp config.Interpreter, prepare PrepareFunc) (*Environment, error) {
	r.mu.Lock()
	s, ok := r.envs[key]
	if !ok {
		s = &slot{}
		r.envs[key] = s
	}
	r.mu.Unlock()

	s.once.Do(func() {
		s.env, s.err = r.provision(ctx, key, project, interp, prepare)
	})
	return s.env, s.err
}

func (r *Registry) provision(ctx context.Context, key string, project config.Project, interp config.Interpreter, prepare PrepareFunc) (*Environment, error) {
	r.mu.Lock()
	r.provisions++
	r.mu.Unlock()

	plog, err := r.logs.For(project.Name)
	if err != nil {
		return nil, &ProvisionError{Key: key, Err: err}
	}
	e := &Environment{
		Key:         key,
		Project:     project,
		Interpreter: interp,
		Dir:         filepath.Join(r.baseDir, filepath.FromSlash(key)),
		Log:         plog,
		backend:     r.backend,
	}
	done := plog.Step("provision environment %s", key)
	if err := r.backend.Provision(ctx, e); err != nil {
		done(err)
		return nil, wrapProvision(key, err)
	}
	if prepare != nil {
		if err := prepare(ctx, e); err != nil {
			done(err)
			return nil, wrapProvision(key, err)
		}
	}
	done(nil)
	return e, nil
}

func wrapProvision(key string, err error) error {
	if _, ok := err.(*ProvisionError); ok {
		return err
	}
	return &ProvisionError{Key: key, Err: err}
}

// ProvisionCount reports how many environments were actually built, as
// opposed to served from cache.
func (r *Registry) ProvisionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provisions
}
