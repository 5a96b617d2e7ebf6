package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner replays results in order and records every argv it sees.
type scriptedRunner struct {
	mu      sync.Mutex
	results []ProcessResult
	calls   [][]string
	onRun   func(ctx context.Context, args []string)
}

func (s *scriptedRunner) Run(ctx context.Context, binary string, args []string) (ProcessResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), args...))
	idx := len(s.calls) - 1
	s.mu.Unlock()

	if s.onRun != nil {
		s.onRun(ctx, args)
	}
	if idx < len(s.results) {
		return s.results[idx], nil
	}
	return s.results[len(s.results)-1], nil
}

func fail(stderr string) ProcessResult { return ProcessResult{ExitCode: 2, Stderr: stderr} }

var succeeded = ProcessResult{}

func newTestCommand(t *testing.T, extra ...string) *DumpCommand {
	t.Helper()
	result := filepath.Join(t.TempDir(), "backup_shop_db_2024-01-02_03-04-05.sql")
	args := append([]string{"--host=h", "--routines", "--triggers", "--events"}, extra...)
	args = append(args, "--result-file="+result)
	return &DumpCommand{Binary: "mysqldump", args: args, ResultFile: result}
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestLoop_SucceedsFirstTime(t *testing.T) {
	runner := &scriptedRunner{results: []ProcessResult{succeeded}}
	run := NewRun("shop", time.Now())
	cmd := newTestCommand(t)

	res := NewLoop(runner, 0, nil).Run(context.Background(), run, cmd)

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, run.RetryErrors)
	assert.False(t, hasArg(runner.calls[0], "--force"))
}

func TestLoop_MissingTableThenSuccess(t *testing.T) {
	runner := &scriptedRunner{results: []ProcessResult{
		fail("mysqldump: Got error: 1146: Table 'Shop.Orders' doesn't exist when using LOCK TABLES"),
		succeeded,
	}}
	run := NewRun("shop", time.Now())
	cmd := newTestCommand(t)

	res := NewLoop(runner, 0, nil).Run(context.Background(), run, cmd)

	require.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"shop.orders"}, run.SkippedTables)
	assert.True(t, hasArg(runner.calls[1], "--ignore-table=shop.orders"))
	assert.False(t, hasArg(runner.calls[1], "--force"))
	require.Len(t, run.RetryErrors, 1)
	assert.True(t, strings.HasPrefix(run.RetryErrors[0], "[shop] attempt 1 error: "))
}

func TestLoop_RepeatedMissingTableFallsThroughToForce(t *testing.T) {
	stderr := "Table 'shop.orders' doesn't exist"
	runner := &scriptedRunner{results: []ProcessResult{fail(stderr), fail(stderr), succeeded}}
	run := NewRun("shop", time.Now())
	cmd := newTestCommand(t)

	res := NewLoop(runner, 0, nil).Run(context.Background(), run, cmd)

	require.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"shop.orders"}, run.SkippedTables)
	assert.True(t, hasArg(runner.calls[2], "--force"))
	assert.Equal(t, 1, strings.Count(strings.Join(cmd.Args(), " "), "--ignore-table=shop.orders"))
	assert.Equal(t, []string{
		"[shop] attempt 1 error: " + stderr,
		"[shop] error: " + stderr,
	}, run.RetryErrors)
}

func TestLoop_CompatibilityDowngradeAppliedOnce(t *testing.T) {
	stderr := "mysqldump: Couldn't execute: Unknown table 'LIBRARIES' in information_schema"
	runner := &scriptedRunner{results: []ProcessResult{fail(stderr), fail(stderr), succeeded}}
	run := NewRun("shop", time.Now())
	cmd := newTestCommand(t)

	res := NewLoop(runner, 0, nil).Run(context.Background(), run, cmd)

	require.Equal(t, StateSucceeded, res.State)
	assert.True(t, res.Retry.CompatApplied)
	assert.True(t, hasArg(runner.calls[0], "--routines"))
	for _, a := range runner.calls[1] {
		assert.NotContains(t, a, "--routines")
		assert.NotContains(t, a, "--triggers")
		assert.NotContains(t, a, "--events")
	}
	assert.False(t, hasArg(runner.calls[1], "--force"))
	assert.True(t, hasArg(runner.calls[2], "--force"))
}

func TestLoop_KeepsFinalStderrVerbatim(t *testing.T) {
	stderr := "mysqldump: Got error: 2013: Lost connection to MySQL server during query\n"
	runner := &scriptedRunner{results: []ProcessResult{fail(stderr)}}
	run := NewRun("shop", time.Now())

	res := NewLoop(runner, 0, nil).Run(context.Background(), run, newTestCommand(t))

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, stderr, res.LastStderr)
	require.Len(t, run.RetryErrors, 4)
	for _, entry := range run.RetryErrors {
		assert.Equal(t, "[shop] error: mysqldump: Got error: 2013: Lost connection to MySQL server during query", entry)
	}
}

func TestLoop_FailsAfterThreeForceAttempts(t *testing.T) {
	runner := &scriptedRunner{results: []ProcessResult{fail("Access denied for user")}}
	run := NewRun("shop", time.Now())
	cmd := newTestCommand(t)
	require.NoError(t, os.WriteFile(cmd.ResultFile, []byte("partial"), 0o600))

	res := NewLoop(runner, 0, nil).Run(context.Background(), run, cmd)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, MaxForceAttempts, res.Retry.ForceAttempts)
	assert.Equal(t, "Access denied for user", res.LastStderr)
	assert.False(t, hasArg(runner.calls[0], "--force"))
	for _, call := range runner.calls[1:] {
		assert.True(t, hasArg(call, "--force"))
	}
	assert.Len(t, run.RetryErrors, 4)

	_, err := os.Stat(cmd.ResultFile)
	assert.True(t, os.IsNotExist(err), "partial dump should be removed")
}

func TestLoop_CancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{
		results: []ProcessResult{fail("signal: killed")},
		onRun:   func(context.Context, []string) { cancel() },
	}
	run := NewRun("shop", time.Now())

	res := NewLoop(runner, 0, nil).Run(ctx, run, newTestCommand(t))

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Attempts)
}

func TestLoop_AttemptTimeout(t *testing.T) {
	runner := &scriptedRunner{
		results: []ProcessResult{fail("signal: killed"), succeeded},
		onRun: func(ctx context.Context, args []string) {
			if !hasArg(args, "--force") {
				<-ctx.Done()
			}
		},
	}
	run := NewRun("shop", time.Now())

	res := NewLoop(runner, 20*time.Millisecond, nil).Run(context.Background(), run, newTestCommand(t))

	require.Equal(t, StateSucceeded, res.State)
	require.NotEmpty(t, run.RetryErrors)
	assert.Contains(t, run.RetryErrors[0], "dump attempt timed out after 20ms")
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateForceRetry.Terminal())
	assert.False(t, StateAttempting.Terminal())
}
