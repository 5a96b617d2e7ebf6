package config

import (
	"fmt"
	"strings"
	"time"
)

var supportedCompression = map[string]bool{"gzip": true, "zstd": true, "lz4": true}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(msgs, "; "))
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ParseClock parses an HH:MM time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func (pc *ProjectConfig) normalize() {
	pc.Backup.Compression = strings.ToLower(strings.TrimSpace(pc.Backup.Compression))
	if pc.Backup.Compression == "" {
		pc.Backup.Compression = DefaultCompression
	}
	if pc.Backup.Workers <= 0 || pc.Backup.Workers > 4 {
		pc.Backup.Workers = 4
	}
	pc.Email.normalize()
}

// Validate checks the project-wide settings.
func (pc *ProjectConfig) Validate() error {
	var errs ValidationErrors

	if pc.Backup.DaysToKeep < 0 {
		errs.Add("backup.days_to_keep", "must not be negative", pc.Backup.DaysToKeep)
	}
	validateClock(&errs, "backup.backup_time", pc.Backup.BackupTime)
	validateClock(&errs, "backup.report_time", pc.Backup.ReportTime)
	if !supportedCompression[pc.Backup.Compression] {
		errs.Add("backup.compression", "must be one of gzip, zstd, lz4", pc.Backup.Compression)
	}
	if pc.Backup.DumpTimeout < 0 {
		errs.Add("backup.dump_timeout", "must not be negative", pc.Backup.DumpTimeout)
	}
	pc.Email.validate(&errs, "email")

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (j *JobConfig) normalize() {
	j.Database.Host = strings.TrimSpace(j.Database.Host)
	j.Database.User = strings.TrimSpace(j.Database.User)
	if j.Database.Port == 0 {
		j.Database.Port = DefaultMySQLPort
	}
	j.Backup.Compression = strings.ToLower(strings.TrimSpace(j.Backup.Compression))
	if j.Backup.Compression == "" {
		j.Backup.Compression = DefaultCompression
	}
	j.Backup.Offsite = trimAll(j.Backup.Offsite)
	j.Email.normalize()
}

// Validate checks one job configuration and reports every problem at once.
func (j *JobConfig) Validate() error {
	var errs ValidationErrors

	if j.Database.Host == "" {
		errs.Add("database.host", "host is required", nil)
	}
	if j.Database.User == "" && j.Database.DefaultsFile == "" {
		errs.Add("database.user", "user is required", nil)
	}
	if j.Database.Password == "" && j.Database.DefaultsFile == "" {
		errs.Add("database.password", "password or defaults_file is required", nil)
	}
	if j.Database.Port <= 0 || j.Database.Port > 65535 {
		errs.Add("database.port", "port must be between 1 and 65535", j.Database.Port)
	}
	if j.Backup.BackupDir == "" {
		errs.Add("backup.backup_dir", "backup_dir is required", nil)
	}
	if j.Backup.DaysToKeep < 0 {
		errs.Add("backup.days_to_keep", "must not be negative", j.Backup.DaysToKeep)
	}
	if !supportedCompression[j.Backup.Compression] {
		errs.Add("backup.compression", "must be one of gzip, zstd, lz4", j.Backup.Compression)
	}
	validateClock(&errs, "backup.backup_time", j.Backup.BackupTime)
	validateClock(&errs, "backup.report_time", j.Backup.ReportTime)

	if j.TunnelEnabled() {
		s := j.SSH
		if s.Host == "" {
			errs.Add("ssh.host", "host is required when ssh is enabled", nil)
		}
		if s.User == "" {
			errs.Add("ssh.user", "user is required when ssh is enabled", nil)
		}
		if s.PrivateKey == "" && s.Password == "" {
			errs.Add("ssh.private_key", "private_key or password is required", nil)
		}
		if s.LocalBindPort <= 0 || s.LocalBindPort > 65535 {
			errs.Add("ssh.local_bind_port", "port must be between 1 and 65535", s.LocalBindPort)
		}
	}
	if j.Webhook != nil && j.Webhook.Enabled && j.Webhook.URL == "" {
		errs.Add("webhook.url", "url is required when webhook is enabled", nil)
	}
	if j.Slack != nil && j.Slack.Enabled && j.Slack.WebhookURL == "" {
		errs.Add("slack.webhook_url", "webhook_url is required when slack is enabled", nil)
	}
	if j.File != nil && j.File.Enabled {
		if j.File.Path == "" {
			errs.Add("notify_file.path", "path is required when notify_file is enabled", nil)
		}
		if f := j.File.Format; f != "" && f != "text" && f != "json" {
			errs.Add("notify_file.format", "must be text or json", f)
		}
	}
	if j.Encryption.Enabled && j.Encryption.PassphraseEnv == "" {
		errs.Add("encryption.passphrase_env", "passphrase_env is required when encryption is enabled", nil)
	}
	for i, target := range j.Backup.Offsite {
		if !strings.Contains(target, "://") {
			errs.Add(fmt.Sprintf("backup.offsite[%d]", i), "target must be a URL", target)
		}
	}
	j.Email.validate(&errs, "email")

	if errs.HasErrors() {
		return fmt.Errorf("job %s: %w", j.Name, errs)
	}
	return nil
}

func (e *EmailConfig) normalize() {
	if e == nil {
		return
	}
	if e.SMTPPort == 0 {
		e.SMTPPort = DefaultSMTPPort
	}
	if e.SenderName == "" {
		e.SenderName = DefaultSenderName
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	e.ToAddrs = trimAll(e.ToAddrs)
	e.CopyTo = trimAll(e.CopyTo)
	e.AdditionalTo = trimAll(e.AdditionalTo)
}

func (e *EmailConfig) validate(errs *ValidationErrors, prefix string) {
	if e == nil || !e.Enabled {
		return
	}
	required := map[string]string{
		"smtp_server":   e.SMTPServer,
		"smtp_user":     e.SMTPUser,
		"smtp_password": e.SMTPPassword,
		"from_addr":     e.FromAddr,
	}
	for _, key := range []string{"smtp_server", "smtp_user", "smtp_password", "from_addr"} {
		if required[key] == "" {
			errs.Add(prefix+"."+key, "required when email is enabled", nil)
		}
	}
	if len(e.ToAddrs) == 0 {
		errs.Add(prefix+".to_addrs", "at least one recipient is required", nil)
	}
}

func validateClock(errs *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if _, _, err := ParseClock(value); err != nil {
		errs.Add(field, err.Error(), value)
	}
}

func trimAll(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
