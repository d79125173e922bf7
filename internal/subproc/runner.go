// Package subproc provides safe execution of the external binaries bookvox
// depends on (tesseract, piper, gtts-cli, ffmpeg).
package subproc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// Runner executes external commands with bounded lifetimes. Stdin is wired up
// before the process starts to avoid the write-after-start race some TTS
// binaries are sensitive to.
type Runner struct {
	defaultTimeout time.Duration
}

// NewRunner creates a runner with the given default timeout for commands
// whose context carries no deadline of its own.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{defaultTimeout: timeout}
}

// Result captures one external command invocation.
type Result struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// Run executes a command, optionally feeding it stdin, and collects stdout.
func (r *Runner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.defaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.String(),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return res, fmt.Errorf("%s timed out: %w", name, ctxErr)
		}
		return res, fmt.Errorf("%s cancelled: %w", name, ctxErr)
	}
	if err != nil {
		if res.Stderr != "" {
			return res, fmt.Errorf("%s failed: %w: %s", name, err, firstLine(res.Stderr))
		}
		return res, fmt.Errorf("%s failed: %w", name, err)
	}
	return res, nil
}

// LookPath reports whether a binary is resolvable, returning its path.
func LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %q not found in PATH: %w", name, err)
	}
	return path, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
