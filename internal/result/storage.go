package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func CellDir(runDir, proj, interpreter, coverage string) string {
	return filepath.Join(runDir, "cells", proj, interpreter, coverage)
}

func WriteRunRecord(runDir string, rec *RunRecord) error {
	dir := CellDir(runDir, rec.Project, rec.Interpreter, rec.Coverage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cell dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	name := fmt.Sprintf("run-%d.json", rec.Run)
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func ReadRunRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing run record %s: %w", path, err)
	}
	return &rec, nil
}

// Collect loads every run record under a run directory, grouped by cell key.
// Unreadable files are skipped so a single corrupt record cannot sink the
// whole report.
func Collect(runDir string) (map[string][]*RunRecord, error) {
	byCell := map[string][]*RunRecord{}
	err := filepath.Walk(runDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), "run-") || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}
		rec, err := ReadRunRecord(path)
		if err != nil {
			return nil
		}
		byCell[rec.CellKey()] = append(byCell[rec.CellKey()], rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking run dir %s: %w", runDir, err)
	}
	return byCell, nil
}
