package backup

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"mysql-auto-backup/internal/logging"
)

var missingTablePattern = regexp.MustCompile(`Table '([\w\.]+)' doesn't exist`)

const compatibilityMarker = "Unknown table 'LIBRARIES'"

// LoopResult is the outcome of Loop.Run.
type LoopResult struct {
	State      State
	Attempts   int
	LastStderr string
	Retry      RetryState
}

// Loop executes mysqldump until it succeeds or every recovery strategy is spent.
type Loop struct {
	runner  ProcessRunner
	logger  *logging.Logger
	timeout time.Duration
}

// NewLoop creates a loop. A positive timeout bounds each attempt.
func NewLoop(runner ProcessRunner, timeout time.Duration, logger *logging.Logger) *Loop {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Loop{runner: runner, logger: logger, timeout: timeout}
}

// Run drives cmd to SUCCEEDED or FAILED, mutating run and cmd along the way.
// On FAILED the partial result file is removed.
func (l *Loop) Run(ctx context.Context, run *Run, cmd *DumpCommand) LoopResult {
	log := l.logger.WithConfig(run.ConfigName)
	var rs RetryState
	state := StateAttempting
	attempts := 0
	lastStderr := ""

	for !state.Terminal() {
		if err := ctx.Err(); err != nil {
			lastStderr = fmt.Sprintf("backup interrupted: %v", err)
			state = StateFailed
			break
		}

		args := cmd.Args()
		if rs.UsedForce {
			args = append(args, "--force")
		}
		attempts++
		start := time.Now()
		result := l.attempt(ctx, cmd.Binary, args)
		lastStderr = result.Stderr

		state = l.classify(run, cmd, &rs, result.ExitCode, strings.TrimSpace(result.Stderr))
		l.logger.LogDumpAttempt(run.ConfigName, attempts, result.ExitCode, string(state), time.Since(start))

		if result.ExitCode != 0 && ctx.Err() != nil {
			// Cancellation killed the dump; other strategies cannot help.
			state = StateFailed
		}
	}

	if state == StateFailed {
		if err := os.Remove(cmd.ResultFile); err != nil && !os.IsNotExist(err) {
			log.Warnf("Failed to remove partial dump %s: %v", cmd.ResultFile, err)
		}
	}
	return LoopResult{State: state, Attempts: attempts, LastStderr: lastStderr, Retry: rs}
}

func (l *Loop) attempt(ctx context.Context, binary string, args []string) ProcessResult {
	attemptCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	result, err := l.runner.Run(attemptCtx, binary, args)
	if err != nil && result.ExitCode == 0 {
		result.ExitCode = -1
	}
	if err != nil && result.Stderr == "" {
		result.Stderr = err.Error()
	}
	if l.timeout > 0 && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		if result.ExitCode == 0 {
			result.ExitCode = -1
		}
		result.Stderr = fmt.Sprintf("dump attempt timed out after %s", l.timeout)
	}
	return result
}

// classify applies the recovery strategies in priority order and returns the next state.
func (l *Loop) classify(run *Run, cmd *DumpCommand, rs *RetryState, exitCode int, stderr string) State {
	if exitCode == 0 {
		return StateSucceeded
	}
	log := l.logger.WithConfig(run.ConfigName)
	rs.RetryCount++

	if m := missingTablePattern.FindStringSubmatch(stderr); m != nil {
		table := strings.ToLower(m[1])
		if run.Skip(table) {
			cmd.IgnoreTable(table)
			log.Warnf("Found missing table during dump: %s, adding --ignore-table", table)
			run.RetryErrors = append(run.RetryErrors,
				fmt.Sprintf("[%s] attempt %d error: %s", run.ConfigName, rs.RetryCount, stderr))
			return StateTableMissingRetry
		}
	}

	run.RetryErrors = append(run.RetryErrors, fmt.Sprintf("[%s] error: %s", run.ConfigName, stderr))

	if strings.Contains(stderr, compatibilityMarker) && !rs.CompatApplied {
		log.Warn("Downgrading: removing --routines --triggers --events and retrying")
		cmd.DropStoredObjects()
		rs.CompatApplied = true
		return StateCompatibilityRetry
	}

	if !rs.UsedForce {
		log.Warn("Retrying with --force as a last resort")
		rs.UsedForce = true
		rs.ForceAttempts = 1
		return StateForceRetry
	}

	if rs.ForceAttempts < MaxForceAttempts {
		rs.ForceAttempts++
		log.Warnf("--force retry (%d/%d)", rs.ForceAttempts, MaxForceAttempts)
		return StateForceRetry
	}

	log.Error("Backup still failing after repeated --force attempts")
	return StateFailed
}
