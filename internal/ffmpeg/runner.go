package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Runner executes an external command and captures its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Name, e.ExitCode, tail(e.Stderr, 512))
}

// CommandRunner runs commands with os/exec.
type CommandRunner struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewCommandRunner returns a runner. A zero timeout leaves invocations unbounded.
func NewCommandRunner(logger *zap.Logger, timeout time.Duration) *CommandRunner {
	return &CommandRunner{logger: logger, timeout: timeout}
}

func (r *CommandRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("%w: %s: %v", ErrDependency, name, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.Debug("command failed",
				zap.String("cmd", name),
				zap.Int("exit_code", res.ExitCode),
				zap.Duration("elapsed", time.Since(start)),
			)
			return res, &ExitError{Name: name, ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}

	r.logger.Debug("command finished",
		zap.String("cmd", name),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
