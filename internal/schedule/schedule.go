// Package schedule runs backups and status checks at their configured times of day.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/logging"

	"github.com/robfig/cron/v3"
)

// Spec converts an HH:MM time of day into a daily cron expression.
func Spec(clock string) (string, error) {
	hour, minute, err := config.ParseClock(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// Group collects jobs by backup time. Jobs without a time or with backups
// disabled are left out. The keys are cron expressions.
func Group(jobs []*config.JobConfig, fallback string) (map[string][]*config.JobConfig, error) {
	groups := map[string][]*config.JobConfig{}
	for _, job := range jobs {
		if !job.Backup.Enabled {
			continue
		}
		at := job.Backup.BackupTime
		if at == "" {
			at = fallback
		}
		if at == "" {
			continue
		}
		spec, err := Spec(at)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", job.Name, err)
		}
		groups[spec] = append(groups[spec], job)
	}
	return groups, nil
}

// Task is work fired by the daemon.
type Task func(ctx context.Context)

// Daemon wraps a cron scheduler. Overlapping firings of one entry are skipped.
type Daemon struct {
	cron   *cron.Cron
	logger *logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.Schedule
}

// NewDaemon creates an idle daemon.
func NewDaemon(logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cl := cronLogger{logger: logger}
	return &Daemon{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     context.Background(),
		entries: map[string]cron.Schedule{},
	}
}

// Add registers task under name at a cron expression.
func (d *Daemon) Add(name, spec string, task Task) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	d.cron.Schedule(sched, cron.FuncJob(func() {
		done := d.logger.LogOperationStart("scheduled_task", map[string]interface{}{"task": name})
		task(d.context())
		done(nil)
	}))
	d.mu.Lock()
	d.entries[name] = sched
	d.mu.Unlock()
	d.logger.WithField("task", name).Infof("Scheduled at %q", spec)
	return nil
}

// Names lists the registered tasks.
func (d *Daemon) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next is the first firing of name after now.
func (d *Daemon) Next(name string, now time.Time) (time.Time, bool) {
	d.mu.Lock()
	sched, ok := d.entries[name]
	d.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return sched.Next(now), true
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits
// for running tasks to return.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	n := len(d.entries)
	d.mu.Unlock()
	if n == 0 {
		return fmt.Errorf("nothing to schedule")
	}

	d.cron.Start()
	d.logger.Infof("Scheduler started with %d entries", n)
	<-ctx.Done()
	d.logger.Info("Scheduler stopping, waiting for running tasks")
	<-d.cron.Stop().Done()
	return nil
}

func (d *Daemon) context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

// cronLogger adapts the logrus wrapper to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(kv(keysAndValues)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(kv(keysAndValues)).WithError(err).Error(msg)
}

func kv(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
