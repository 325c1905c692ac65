// Package logging routes per-project output into append-only log files.
// Writes are whole lines under a mutex, so concurrent provisioning of
// different projects never interleaves mid-line.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Dir hands out one ProjectLog per project name, all rooted in a single
// logs directory.
type Dir struct {
	mu   sync.Mutex
	root string
	logs map[string]*ProjectLog
}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	return &Dir{root: root, logs: map[string]*ProjectLog{}}, nil
}

// For returns the log for a project, opening its file on first use.
func (d *Dir) For(project string) (*ProjectLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.logs[project]; ok {
		return l, nil
	}
	path := filepath.Join(d.root, project+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening project log %s: %w", path, err)
	}
	l := &ProjectLog{f: f, project: project}
	d.logs[project] = l
	return l, nil
}

// Close closes every open project log.
func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, l := range d.logs {
		if err := l.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.logs = map[string]*ProjectLog{}
	return firstErr
}

// ProjectLog is an append-only text sink for one project. Each Printf is a
// single atomic line.
type ProjectLog struct {
	mu      sync.Mutex
	f       *os.File
	project string
}

func (l *ProjectLog) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	stamp := time.Now().UTC().Format("2006-01-02 15:04:05")
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.f, "%s %s\n", stamp, line)
}

// Step logs a "begin" line and returns a function that logs the matching
// "end" line with the outcome, for wrapping provisioning and run actions.
func (l *ProjectLog) Step(format string, args ...any) func(err error) {
	action := fmt.Sprintf(format, args...)
	l.Printf("start: %s", action)
	begin := time.Now()
	return func(err error) {
		elapsed := time.Since(begin).Round(time.Millisecond)
		if err != nil {
			l.Printf("fail: %s (%s): %v", action, elapsed, err)
			return
		}
		l.Printf("done: %s (%s)", action, elapsed)
	}
}

func (l *ProjectLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
