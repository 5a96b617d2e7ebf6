package config

import (
	"strings"
	"time"
)

const (
	DefaultMySQLPort      = 3306
	DefaultSSHPort        = 22
	DefaultLocalBindPort  = 3307
	DefaultRemoteBindHost = "127.0.0.1"
	DefaultSMTPPort       = 465
	DefaultSenderName     = "MySQL Backup"
	DefaultCompression    = "gzip"
	DefaultDaysToKeep     = 7
	DefaultStatusDir      = "status"
	DefaultLogDir         = "logs"
	DefaultConfigsDir     = "backup_configs"
	AllDatabases          = "all-databases"
)

// ProjectConfig holds settings shared by every backup job.
type ProjectConfig struct {
	Backup  ProjectBackupConfig `mapstructure:"backup" yaml:"backup"`
	Email   *EmailConfig        `mapstructure:"email" yaml:"email,omitempty"`
	Logging LoggingConfig       `mapstructure:"logging" yaml:"logging"`

	// Root is the directory relative paths are resolved against.
	Root string `mapstructure:"-" yaml:"-"`
}

// ProjectBackupConfig holds the project-wide [backup] section.
type ProjectBackupConfig struct {
	MySQLBinDir    string        `mapstructure:"mysql_bin_dir" yaml:"mysql_bin_dir"`
	DaysToKeep     int           `mapstructure:"days_to_keep" yaml:"days_to_keep"`
	BackupTime     string        `mapstructure:"backup_time" yaml:"backup_time"`
	ReportTime     string        `mapstructure:"report_time" yaml:"report_time"`
	BackupRootPath string        `mapstructure:"backup_root_path" yaml:"backup_root_path"`
	StatusDir      string        `mapstructure:"status_dir" yaml:"status_dir"`
	Compression    string        `mapstructure:"compression" yaml:"compression"`
	DumpTimeout    time.Duration `mapstructure:"dump_timeout" yaml:"dump_timeout"`
	Workers        int           `mapstructure:"workers" yaml:"workers"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Format     string `mapstructure:"format" yaml:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// EmailConfig describes the SMTP notification channel.
// Addresses may be written as "addr|Display Name".
type EmailConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	SMTPServer   string        `mapstructure:"smtp_server" yaml:"smtp_server"`
	SMTPPort     int           `mapstructure:"smtp_port" yaml:"smtp_port"`
	SMTPUser     string        `mapstructure:"smtp_user" yaml:"smtp_user"`
	SMTPPassword string        `mapstructure:"smtp_password" yaml:"smtp_password"`
	SenderName   string        `mapstructure:"sender_name" yaml:"sender_name"`
	FromAddr     string        `mapstructure:"from_addr" yaml:"from_addr"`
	ToAddrs      []string      `mapstructure:"to_addrs" yaml:"to_addrs"`
	CopyTo       []string      `mapstructure:"copy_to" yaml:"copy_to,omitempty"`
	AdditionalTo []string      `mapstructure:"additional_to" yaml:"additional_to,omitempty"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// Clone returns a deep copy so job overrides never leak into the project defaults.
func (e *EmailConfig) Clone() *EmailConfig {
	if e == nil {
		return nil
	}
	c := *e
	c.ToAddrs = append([]string(nil), e.ToAddrs...)
	c.CopyTo = append([]string(nil), e.CopyTo...)
	c.AdditionalTo = append([]string(nil), e.AdditionalTo...)
	return &c
}

// JobConfig is one backup configuration loaded from backup_configs/.
type JobConfig struct {
	Name string `mapstructure:"-" yaml:"-"`
	Path string `mapstructure:"-" yaml:"-"`

	Database   DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Backup     BackupConfig      `mapstructure:"backup" yaml:"backup"`
	Email      *EmailConfig      `mapstructure:"email" yaml:"email,omitempty"`
	SSH        *SSHConfig        `mapstructure:"ssh" yaml:"ssh,omitempty"`
	Webhook    *WebhookConfig    `mapstructure:"webhook" yaml:"webhook,omitempty"`
	Slack      *SlackConfig      `mapstructure:"slack" yaml:"slack,omitempty"`
	File       *FileNotifyConfig `mapstructure:"notify_file" yaml:"notify_file,omitempty"`
	Encryption EncryptionConfig  `mapstructure:"encryption" yaml:"encryption,omitempty"`

	// StatusDir is inherited from the project config.
	StatusDir string `mapstructure:"-" yaml:"-"`
	// Siblings are the jobs named Name+"_...", whose artifact names start with this job's prefix.
	Siblings []string `mapstructure:"-" yaml:"-"`
}

// DatabaseConfig holds the [database] section of a job.
type DatabaseConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	User          string `mapstructure:"user" yaml:"user"`
	Password      string `mapstructure:"password" yaml:"password,omitempty"`
	DefaultsFile  string `mapstructure:"defaults_file" yaml:"defaults_file,omitempty"`
	DatabaseNames string `mapstructure:"database_names" yaml:"database_names,omitempty"`
}

// Databases splits DatabaseNames on commas. Empty means all databases.
func (d DatabaseConfig) Databases() []string {
	var names []string
	for _, name := range strings.Split(d.DatabaseNames, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// DatabaseSpec is the database part of artifact names.
func (d DatabaseConfig) DatabaseSpec() string {
	if len(d.Databases()) == 0 {
		return AllDatabases
	}
	return d.DatabaseNames
}

// BackupConfig holds the per-job [backup] section.
type BackupConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	BackupDir   string        `mapstructure:"backup_dir" yaml:"backup_dir"`
	DaysToKeep  int           `mapstructure:"days_to_keep" yaml:"days_to_keep"`
	MySQLBinDir string        `mapstructure:"mysql_bin_dir" yaml:"mysql_bin_dir,omitempty"`
	BackupTime  string        `mapstructure:"backup_time" yaml:"backup_time,omitempty"`
	ReportTime  string        `mapstructure:"report_time" yaml:"report_time,omitempty"`
	Compression string        `mapstructure:"compression" yaml:"compression,omitempty"`
	DumpTimeout time.Duration `mapstructure:"dump_timeout" yaml:"dump_timeout,omitempty"`

	// Offsite lists upload targets such as s3://bucket/prefix or smb://host/share/dir.
	Offsite []string `mapstructure:"offsite" yaml:"offsite,omitempty"`
}

// SSHConfig describes the optional tunnel in front of the database.
type SSHConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	User           string `mapstructure:"user" yaml:"user"`
	PrivateKey     string `mapstructure:"private_key" yaml:"private_key,omitempty"`
	Passphrase     string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	KnownHosts     string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`
	LocalBindPort  int    `mapstructure:"local_bind_port" yaml:"local_bind_port"`
	RemoteBindHost string `mapstructure:"remote_bind_host" yaml:"remote_bind_host"`
	RemoteBindPort int    `mapstructure:"remote_bind_port" yaml:"remote_bind_port"`
}

// WebhookConfig posts a JSON payload per notification.
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled"`
	URL     string            `mapstructure:"url" yaml:"url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// SlackConfig posts to a Slack incoming webhook.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel,omitempty"`
	Username   string `mapstructure:"username" yaml:"username,omitempty"`
}

// FileNotifyConfig appends every notification to a local file.
type FileNotifyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Format  string `mapstructure:"format" yaml:"format,omitempty"` // text or json
}

// EncryptionConfig enables passphrase encryption of artifacts.
type EncryptionConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env,omitempty"`
}

// TunnelEnabled reports whether the job needs an SSH tunnel.
func (j *JobConfig) TunnelEnabled() bool {
	return j.SSH != nil && j.SSH.Enabled
}

// NotificationsEnabled reports whether any channel is switched on.
func (j *JobConfig) NotificationsEnabled() bool {
	return (j.Email != nil && j.Email.Enabled) ||
		(j.Webhook != nil && j.Webhook.Enabled) ||
		(j.Slack != nil && j.Slack.Enabled) ||
		(j.File != nil && j.File.Enabled)
}
