package env

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// VenvBackend isolates environments with `python -m venv` directories on the
// host, one per environment key.
type VenvBackend struct{}

func NewVenvBackend() *VenvBackend {
	return &VenvBackend{}
}

func (b *VenvBackend) Provision(ctx context.Context, e *Environment) error {
	python, err := exec.LookPath(e.Interpreter.Executable())
	if err != nil {
		return fmt.Errorf("resolving interpreter %s: %w", e.Interpreter.Executable(), err)
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return fmt.Errorf("creating environment dir: %w", err)
	}
	venvDir := filepath.Join(e.Dir, "venv")
	// An existing venv from an earlier run is rebuilt from scratch so its
	// dependency set matches this experiment's config.
	if err := os.RemoveAll(venvDir); err != nil {
		return fmt.Errorf("clearing stale venv: %w", err)
	}
	cmd := exec.CommandContext(ctx, python, "-m", "venv", venvDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("python -m venv: %s: %w", out, err)
	}
	res, err := b.Exec(ctx, e, Command{
		Argv: []string{"python", "-m", "pip", "install", "--quiet", "--upgrade", "pip"},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("pip upgrade exited %d: %s", res.ExitCode, res.Output)
	}
	return nil
}

func (b *VenvBackend) Exec(ctx context.Context, e *Environment, cmd Command) (*ExecResult, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	binDir := filepath.Join(e.Dir, "venv", "bin")

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	name := cmd.Argv[0]
	// Commands resolve inside the venv first, so "python" and "pip" mean the
	// environment's own interpreter.
	if resolved := filepath.Join(binDir, name); isExecutable(resolved) {
		name = resolved
	}
	c := exec.CommandContext(runCtx, name, cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	if c.Dir == "" {
		c.Dir = e.Dir
	}
	c.Env = append(os.Environ(),
		"PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"VIRTUAL_ENV="+filepath.Join(e.Dir, "venv"),
	)
	for k, v := range cmd.Env {
		c.Env = append(c.Env, k+"="+v)
	}

	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf

	start := time.Now()
	err := c.Run()
	duration := time.Since(start)

	res := &ExecResult{Output: buf.Bytes(), Duration: duration}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = 124
		res.TimedOut = true
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("running %s: %w", cmd.Argv[0], err)
	}
	return res, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}
