package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/logging"
	"mysql-auto-backup/internal/status"
)

// Notifier fans messages out to the channels a job configures.
// Delivery failures are logged, never returned.
type Notifier struct {
	logger   *logging.Logger
	disabled bool
	hostname string
	now      func() time.Time

	// channels overrides the job's configured channels when set.
	channels func(job *config.JobConfig) []Channel
}

// NewNotifier creates a notifier. disabled (debug mode) suppresses every channel.
func NewNotifier(logger *logging.Logger, disabled bool) *Notifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	n := &Notifier{logger: logger, disabled: disabled, hostname: host, now: time.Now}
	n.channels = n.jobChannels
	return n
}

func (n *Notifier) jobChannels(job *config.JobConfig) []Channel {
	var channels []Channel
	if job.Email != nil {
		channels = append(channels, NewEmailChannel(n.logger, *job.Email))
	}
	if job.Webhook != nil {
		channels = append(channels, NewWebhookChannel(n.logger, *job.Webhook))
	}
	if job.Slack != nil {
		channels = append(channels, NewSlackChannel(n.logger, *job.Slack))
	}
	if job.File != nil {
		channels = append(channels, NewFileChannel(n.logger, *job.File))
	}
	return channels
}

// Notify sends the success, partial, failure or running message for rec.
func (n *Notifier) Notify(ctx context.Context, job *config.JobConfig, rec *status.Record) {
	n.send(ctx, job, Render(rec, n.hostname, n.now()))
}

// Alert sends a free-form message.
func (n *Notifier) Alert(ctx context.Context, job *config.JobConfig, subject, body string) {
	n.send(ctx, job, NewAlert(job.Name, subject, body, n.now()))
}

// send reports how many channels delivered msg.
func (n *Notifier) send(ctx context.Context, job *config.JobConfig, msg Message) int {
	log := n.logger.WithConfig(job.Name)
	if n.disabled {
		log.Debugf("Notifications disabled, not sending %q", msg.Subject)
		return 0
	}

	delivered := 0
	for _, channel := range n.channels(job) {
		if !channel.IsEnabled() {
			continue
		}
		if err := channel.Send(ctx, msg); err != nil {
			log.WithFields(map[string]interface{}{
				"channel": channel.GetType(),
				"error":   err.Error(),
			}).Error("Failed to send notification")
			continue
		}
		delivered++
		log.WithField("channel", channel.GetType()).Infof("Notification sent: %s", msg.Subject)
	}
	return delivered
}

// Checker reports the latest recorded outcome of each job.
type Checker struct {
	store    status.Store
	notifier *Notifier
	logger   *logging.Logger
}

// NewChecker creates a checker.
func NewChecker(store status.Store, notifier *Notifier, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Checker{store: store, notifier: notifier, logger: logger}
}

// Check notifies the stored outcome of job. A missing record raises an alert and
// a finished record gets its mail_sent_time stamped.
func (c *Checker) Check(ctx context.Context, job *config.JobConfig) error {
	log := c.logger.WithConfig(job.Name)
	rec, err := c.store.Load(job.Name)
	if err != nil {
		return fmt.Errorf("failed to read status of %s: %w", job.Name, err)
	}

	if rec == nil {
		log.Warn("No backup status recorded")
		c.notifier.Alert(ctx, job,
			"MySQL backup status unknown - "+job.Name,
			fmt.Sprintf("No backup status file was found for configuration %s.\nThe backup may never have run.\n", job.Name))
		return nil
	}

	c.notifier.Notify(ctx, job, rec)
	if rec.Running {
		log.Info("Backup still running, reminder sent")
		return nil
	}
	if err := c.store.MarkMailSent(job.Name, c.notifier.now()); err != nil {
		return fmt.Errorf("failed to record mail time for %s: %w", job.Name, err)
	}
	return nil
}
