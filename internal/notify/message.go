package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mysql-auto-backup/internal/status"
)

// Category classifies a notification.
type Category string

const (
	CategorySuccess Category = "success"
	CategoryPartial Category = "partial"
	CategoryFailure Category = "failure"
	CategoryRunning Category = "running"
	CategoryAlert   Category = "alert"
)

// Message is a rendered notification, shared by every channel.
type Message struct {
	Category   Category  `json:"category"`
	ConfigName string    `json:"config_name"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Warning    bool      `json:"warning"`
	Timestamp  time.Time `json:"timestamp"`
	BackupFile string    `json:"backup_file,omitempty"`
}

// CategoryOf picks the message kind for rec.
func CategoryOf(rec *status.Record) Category {
	switch {
	case rec.Running:
		return CategoryRunning
	case rec.Partial():
		return CategoryPartial
	case rec.Success:
		return CategorySuccess
	default:
		return CategoryFailure
	}
}

// Render builds the message for a status record.
func Render(rec *status.Record, hostname string, now time.Time) Message {
	msg := Message{
		Category:   CategoryOf(rec),
		ConfigName: rec.ConfigName,
		Timestamp:  now,
		BackupFile: rec.BackupFile,
	}

	switch msg.Category {
	case CategoryRunning:
		msg.Subject = "MySQL backup still running - " + rec.ConfigName
		msg.Warning = true
		msg.Body = runningBody(rec, now)
	case CategoryFailure:
		msg.Subject = "[ALERT] MySQL backup failed - " + rec.ConfigName
		msg.Body = failureBody(rec)
	case CategoryPartial:
		msg.Subject = "MySQL backup partially successful - " + rec.ConfigName
		msg.Warning = true
		msg.Body = successBody(rec, hostname, "partially successful")
	default:
		msg.Subject = "MySQL backup successful - " + rec.ConfigName
		msg.Body = successBody(rec, hostname, "fully successful")
	}
	return msg
}

// NewAlert builds a free-form alert message.
func NewAlert(configName, subject, body string, now time.Time) Message {
	return Message{
		Category:   CategoryAlert,
		ConfigName: configName,
		Subject:    subject,
		Body:       body,
		Timestamp:  now,
	}
}

func successBody(rec *status.Record, hostname, state string) string {
	var sizeMB float64
	if info, err := os.Stat(rec.BackupFile); err == nil {
		sizeMB = float64(info.Size()) / 1024 / 1024
	}
	finished := rec.EndTime.Time
	if finished.IsZero() {
		finished = rec.LastRun
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Backup time: %s\n", finished.Format(status.TimeLayout))
	fmt.Fprintf(&b, "Server: %s\n", hostname)
	fmt.Fprintf(&b, "Configuration: %s\n", rec.ConfigName)
	fmt.Fprintf(&b, "Backup file: %s\n", filepath.Base(rec.BackupFile))
	fmt.Fprintf(&b, "File size: %.2f MB\n", sizeMB)
	fmt.Fprintf(&b, "Location: %s\n", filepath.Dir(rec.BackupFile))
	fmt.Fprintf(&b, "Status: %s\n", state)
	if len(rec.Offsite) > 0 {
		fmt.Fprintf(&b, "\nOffsite copies:\n%s", bullets(rec.Offsite))
	}
	if len(rec.SkippedTables) > 0 {
		fmt.Fprintf(&b, "\nSkipped tables (%d):\n%s", len(rec.SkippedTables), bullets(rec.SkippedTables))
	}
	if len(rec.RetryErrors) > 0 {
		fmt.Fprintf(&b, "\nErrors during retries:\n%s", bullets(rec.RetryErrors))
	}
	return b.String()
}

func failureBody(rec *status.Record) string {
	var b strings.Builder
	b.WriteString("MySQL database backup failed!\n")
	fmt.Fprintf(&b, "Configuration: %s\n", rec.ConfigName)
	fmt.Fprintf(&b, "Failed at: %s\n", rec.LastRun.Format(status.TimeLayout))
	fmt.Fprintf(&b, "Error: %s\n", rec.Message)
	if len(rec.SkippedTables) > 0 {
		fmt.Fprintf(&b, "\nSkipped tables (%d): %s\n", len(rec.SkippedTables), strings.Join(rec.SkippedTables, ", "))
	}
	return b.String()
}

func runningBody(rec *status.Record, now time.Time) string {
	var b strings.Builder
	b.WriteString("The backup is still in progress. Please check the final result later.\n\n")
	fmt.Fprintf(&b, "Configuration: %s\n", rec.ConfigName)
	if rec.StartTime.IsZero() {
		b.WriteString("Started: unknown\n")
	} else {
		fmt.Fprintf(&b, "Started: %s\n", rec.StartTime.Format(status.TimeLayout))
	}
	fmt.Fprintf(&b, "Now: %s\n", now.Format(status.TimeLayout))
	if !rec.StartTime.IsZero() {
		fmt.Fprintf(&b, "Running for: %d minutes\n", int(now.Sub(rec.StartTime.Time).Minutes()))
	}
	return b.String()
}

func bullets(items []string) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "  - %s\n", item)
	}
	return b.String()
}
