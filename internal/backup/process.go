package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
)

// ProcessResult is the outcome of one external process.
type ProcessResult struct {
	ExitCode int
	Stderr   string
}

// ProcessRunner executes a binary and captures its exit code and stderr.
type ProcessRunner interface {
	Run(ctx context.Context, binary string, args []string) (ProcessResult, error)
}

// ExecRunner runs processes with os/exec. Cancelling ctx kills the process.
type ExecRunner struct{}

// Run drains stdout and returns a nonzero ExitCode for failures of the process
// itself. The error is reserved for failures to start it.
func (ExecRunner) Run(ctx context.Context, binary string, args []string) (ProcessResult, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return ProcessResult{Stderr: stderr.String()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == 0 || code == -1 {
			code = 1
		}
		return ProcessResult{ExitCode: code, Stderr: stderr.String()}, nil
	}
	return ProcessResult{ExitCode: -1, Stderr: stderr.String()}, err
}
