package executor

import (
	"fmt"
	"os"
	"path/filepath"
)

// AttemptDir creates the directory an attempt owns for its lifetime. It
// holds the attempt log and one subdirectory per step.
func AttemptDir(root, attemptID string) (string, error) {
	dir := filepath.Join(root, attemptID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attempt dir: %w", err)
	}
	return dir, nil
}

// StepDir creates a fresh working directory for one step and returns it
// with a cleanup func. The cleanup runs on every exit path so artifacts
// from one step never leak into the next.
func StepDir(attemptDir string, step int) (string, func(), error) {
	dir := filepath.Join(attemptDir, fmt.Sprintf("step-%02d", step))
	if err := os.RemoveAll(dir); err != nil {
		return "", nil, fmt.Errorf("reset step dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create step dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	return dir, cleanup, nil
}
