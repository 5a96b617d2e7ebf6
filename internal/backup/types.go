package backup

import (
	"strings"
	"time"

	"mysql-auto-backup/internal/status"

	"github.com/google/uuid"
)

// MaxForceAttempts caps the executions made with --force.
const MaxForceAttempts = 3

// State is a step of the dump state machine.
type State string

const (
	StateAttempting         State = "ATTEMPTING"
	StateTableMissingRetry  State = "TABLE_MISSING_RETRY"
	StateCompatibilityRetry State = "COMPATIBILITY_RETRY"
	StateForceRetry         State = "FORCE_RETRY"
	StateSucceeded          State = "SUCCEEDED"
	StateFailed             State = "FAILED"
)

// Terminal reports whether no further attempt follows.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Run is one invocation of one backup configuration.
type Run struct {
	ConfigName    string
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	Running       bool
	Success       bool
	Message       string
	ArtifactPath  string
	SkippedTables []string
	RetryErrors   []string
	MailSentTime  time.Time
	Offsite       []string
}

// NewRun starts a run in the running state.
func NewRun(configName string, now time.Time) *Run {
	return &Run{
		ConfigName: configName,
		RunID:      uuid.NewString(),
		StartTime:  now,
		Running:    true,
	}
}

// IsSkipped reports whether table (schema.table, lowercase) is already excluded.
func (r *Run) IsSkipped(table string) bool {
	for _, t := range r.SkippedTables {
		if t == table {
			return true
		}
	}
	return false
}

// Skip records table once and reports whether it was new.
func (r *Run) Skip(table string) bool {
	table = strings.ToLower(table)
	if r.IsSkipped(table) {
		return false
	}
	r.SkippedTables = append(r.SkippedTables, table)
	return true
}

// Fail ends the run unsuccessfully.
func (r *Run) Fail(message string, now time.Time) {
	r.Running = false
	r.Success = false
	r.Message = message
	r.ArtifactPath = ""
	r.EndTime = now
}

// Record converts the run to its persisted form.
func (r *Run) Record() *status.Record {
	return &status.Record{
		ConfigName:    r.ConfigName,
		RunID:         r.RunID,
		LastRun:       time.Now(),
		Success:       r.Success,
		Message:       r.Message,
		BackupFile:    r.ArtifactPath,
		SkippedTables: append([]string{}, r.SkippedTables...),
		RetryErrors:   append([]string{}, r.RetryErrors...),
		Running:       r.Running,
		StartTime:     status.At(r.StartTime),
		EndTime:       status.At(r.EndTime),
		MailSentTime:  status.At(r.MailSentTime),
		Offsite:       append([]string(nil), r.Offsite...),
	}
}

// DumpCommand is the mysqldump invocation without the --force toggle.
type DumpCommand struct {
	Binary string
	args   []string

	// ResultFile is the temporary .sql the dump writes to.
	ResultFile string
}

// Args returns a copy of the current arguments.
func (c *DumpCommand) Args() []string {
	return append([]string(nil), c.args...)
}

// IgnoreTable appends --ignore-table=table unless it is already present.
func (c *DumpCommand) IgnoreTable(table string) bool {
	arg := "--ignore-table=" + table
	for _, a := range c.args {
		if a == arg {
			return false
		}
	}
	c.args = append(c.args, arg)
	return true
}

// DropStoredObjects removes --routines, --triggers and --events.
func (c *DumpCommand) DropStoredObjects() {
	kept := c.args[:0]
	for _, a := range c.args {
		if strings.Contains(a, "--routines") || strings.Contains(a, "--triggers") || strings.Contains(a, "--events") {
			continue
		}
		kept = append(kept, a)
	}
	c.args = kept
}

// RetryState tracks the recovery strategies used within one run.
type RetryState struct {
	UsedForce     bool
	ForceAttempts int
	RetryCount    int
	CompatApplied bool
}
