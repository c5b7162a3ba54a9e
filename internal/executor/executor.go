package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizsolver/internal/domain"
)

const maxLogBytes = 8 * 1024

// Executor runs plans. Direct plans are coerced to their declared answer
// type; script plans run as Python subprocesses inside the step's working
// directory. Expected failures (non-zero exit, timeout, empty output) come
// back as OK=false with diagnostics, never as an error, so the solve loop
// applies one uniform retry policy.
type Executor struct {
	pythonBin string
	timeout   time.Duration
	logger    *zap.Logger
}

func New(pythonBin string, timeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{pythonBin: pythonBin, timeout: timeout, logger: logger}
}

func (e *Executor) Execute(ctx context.Context, plan *domain.Plan, workDir string) *domain.ExecutionResult {
	if plan.Direct() {
		return &domain.ExecutionResult{
			OK:     true,
			Answer: Coerce(plan.Answer, plan.AnswerType),
			Log:    "direct answer",
		}
	}
	return e.runScript(ctx, plan, workDir)
}

func (e *Executor) runScript(ctx context.Context, plan *domain.Plan, workDir string) *domain.ExecutionResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	script := filepath.Join(workDir, "solution.py")
	if err := os.WriteFile(script, []byte(plan.Script), 0o644); err != nil {
		return &domain.ExecutionResult{OK: false, Log: "write script: " + err.Error()}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.pythonBin, script)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.logger.Debug("script finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("failed", err != nil))

	log := truncate(stdout.String()+stderr.String(), maxLogBytes)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ExecutionResult{OK: false, Log: "execution timed out\n" + log}
	}
	if err != nil {
		return &domain.ExecutionResult{OK: false, Log: err.Error() + "\n" + log}
	}

	answer := strings.TrimSpace(stdout.String())
	if answer == "" {
		return &domain.ExecutionResult{OK: false, Log: "script printed nothing\n" + log}
	}
	return &domain.ExecutionResult{
		OK:     true,
		Answer: Coerce(answer, plan.AnswerType),
		Log:    log,
	}
}

// Coerce converts a textual answer to the declared answer type, falling
// back to the raw string when the conversion does not hold.
func Coerce(raw, answerType string) any {
	raw = strings.TrimSpace(raw)
	switch answerType {
	case "number":
		num := strings.ReplaceAll(raw, ",", "")
		if i, err := strconv.ParseInt(num, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			return f
		}
	case "boolean":
		switch strings.ToLower(raw) {
		case "true", "yes", "1":
			return true
		case "false", "no", "0":
			return false
		}
	case "object":
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
