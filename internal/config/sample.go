package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SampleProject returns a project config with every field populated for documentation.
func SampleProject() *ProjectConfig {
	return &ProjectConfig{
		Backup: ProjectBackupConfig{
			MySQLBinDir:    "/usr/bin",
			DaysToKeep:     DefaultDaysToKeep,
			BackupTime:     "02:00",
			ReportTime:     "08:30",
			BackupRootPath: "/var/backups/mysql",
			StatusDir:      DefaultStatusDir,
			Compression:    DefaultCompression,
			Workers:        4,
		},
		Email: &EmailConfig{
			Enabled:      false,
			SMTPServer:   "smtp.example.com",
			SMTPPort:     DefaultSMTPPort,
			SMTPUser:     "backup@example.com",
			SMTPPassword: "change-me",
			SenderName:   DefaultSenderName,
			FromAddr:     "backup@example.com",
			ToAddrs:      []string{"dba@example.com|DBA Team"},
			CopyTo:       []string{"ops@example.com|Ops"},
		},
		Logging: LoggingConfig{
			Dir:        DefaultLogDir,
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SampleJob returns a job config showing the tunnel and offsite sections.
func SampleJob() *JobConfig {
	return &JobConfig{
		Database: DatabaseConfig{
			Host:          "127.0.0.1",
			Port:          DefaultLocalBindPort,
			User:          "backup",
			Password:      "change-me",
			DatabaseNames: "app,billing",
		},
		Backup: BackupConfig{
			Enabled:     true,
			BackupDir:   "example",
			DaysToKeep:  14,
			DumpTimeout: 2 * time.Hour,
			Offsite:     []string{"s3://my-bucket/mysql"},
		},
		SSH: &SSHConfig{
			Enabled:        false,
			Host:           "bastion.example.com",
			Port:           DefaultSSHPort,
			User:           "deploy",
			PrivateKey:     "~/.ssh/id_ed25519",
			LocalBindPort:  DefaultLocalBindPort,
			RemoteBindHost: DefaultRemoteBindHost,
			RemoteBindPort: DefaultMySQLPort,
		},
	}
}

// WriteSamples writes config.yaml and backup_configs/example.yaml under dir.
// Existing files are left alone unless force is set.
func WriteSamples(dir string, force bool) ([]string, error) {
	targets := []struct {
		path  string
		value interface{}
	}{
		{filepath.Join(dir, "config.yaml"), SampleProject()},
		{filepath.Join(dir, DefaultConfigsDir, "example.yaml"), SampleJob()},
	}

	var written []string
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil && !force {
			return written, fmt.Errorf("%s already exists (use --force to overwrite)", t.path)
		}
		data, err := yaml.Marshal(t.value)
		if err != nil {
			return written, fmt.Errorf("failed to marshal sample config: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
			return written, fmt.Errorf("failed to create %s: %w", filepath.Dir(t.path), err)
		}
		if err := os.WriteFile(t.path, data, 0o600); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", t.path, err)
		}
		written = append(written, t.path)
	}
	return written, nil
}
