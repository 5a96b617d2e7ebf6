package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mysql-auto-backup/internal/logging"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// EnvPrefix prefixes environment overrides of the project config,
// e.g. MYSQL_AUTO_BACKUP_BACKUP_DAYS_TO_KEEP=14.
const EnvPrefix = "MYSQL_AUTO_BACKUP"

var jobExtensions = []string{".yaml", ".yml", ".ini"}

// Loader reads the project config and the job configs next to it.
type Loader struct {
	projectFile string
	configsDir  string
	logger      *logging.Logger
}

// NewLoader creates a loader. An empty configsDir means backup_configs/ next to the project file.
func NewLoader(projectFile, configsDir string, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Loader{
		projectFile: projectFile,
		configsDir:  configsDir,
		logger:      logger,
	}
}

// LoadProject reads, defaults and validates the project config.
func (l *Loader) LoadProject() (*ProjectConfig, error) {
	absPath, err := filepath.Abs(l.projectFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project config path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("project config not found: %w", err)
	}

	v := viper.New()
	setProjectDefaults(v)
	if err := readInto(v, absPath); err != nil {
		return nil, fmt.Errorf("failed to read project config %s: %w", absPath, err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var pc ProjectConfig
	if err := v.Unmarshal(&pc); err != nil {
		return nil, fmt.Errorf("failed to decode project config: %w", err)
	}
	pc.Root = filepath.Dir(absPath)
	pc.normalize()

	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return &pc, nil
}

// FindJobFiles resolves a --config selector to job files. The selector is either a glob
// or a comma-separated list of file names; names without an extension match any known one.
func (l *Loader) FindJobFiles(project *ProjectConfig, selector string) ([]string, error) {
	dir := l.jobsDir(project)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		l.logger.Warnf("Job config directory does not exist: %s", dir)
		return nil, nil
	}

	var files []string
	if strings.Contains(selector, ",") {
		for _, name := range strings.Split(selector, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			if path, ok := resolveJobFile(dir, name); ok {
				files = append(files, path)
			} else {
				l.logger.Warnf("Job config not found: %s", name)
			}
		}
		return files, nil
	}

	pattern := selector
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid config pattern %q: %w", selector, err)
	}
	if len(matches) == 0 {
		if path, ok := resolveJobFile(dir, pattern); ok {
			matches = []string{path}
		}
	}
	for _, m := range matches {
		if isJobFile(m) {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadJob reads one job config and merges project defaults into it.
func (l *Loader) LoadJob(path string, project *ProjectConfig) (*JobConfig, error) {
	v := viper.New()
	if err := readInto(v, path); err != nil {
		return nil, fmt.Errorf("failed to read job config %s: %w", path, err)
	}

	base := filepath.Base(path)
	job := &JobConfig{
		Name:     strings.TrimSuffix(base, filepath.Ext(base)),
		Path:     path,
		Database: DatabaseConfig{Port: DefaultMySQLPort},
		Backup: BackupConfig{
			Enabled:     true,
			DaysToKeep:  project.Backup.DaysToKeep,
			MySQLBinDir: project.Backup.MySQLBinDir,
			BackupTime:  project.Backup.BackupTime,
			ReportTime:  project.Backup.ReportTime,
			Compression: project.Backup.Compression,
			DumpTimeout: project.Backup.DumpTimeout,
		},
		Email:     project.Email.Clone(),
		StatusDir: resolvePath(project.Root, project.Backup.StatusDir),
	}

	if err := v.UnmarshalKey("database", &job.Database); err != nil {
		return nil, fmt.Errorf("invalid [database] section: %w", err)
	}
	if err := v.UnmarshalKey("backup", &job.Backup); err != nil {
		return nil, fmt.Errorf("invalid [backup] section: %w", err)
	}
	if v.IsSet("email") {
		if job.Email == nil {
			job.Email = &EmailConfig{}
		}
		// The decoder reuses existing slices, so lists the job sets start empty.
		if v.IsSet("email.to_addrs") {
			job.Email.ToAddrs = nil
		}
		if v.IsSet("email.copy_to") {
			job.Email.CopyTo = nil
		}
		if v.IsSet("email.additional_to") {
			job.Email.AdditionalTo = nil
		}
		// Unmarshalling onto the project copy keeps every key the job leaves out.
		if err := v.UnmarshalKey("email", job.Email); err != nil {
			return nil, fmt.Errorf("invalid [email] section: %w", err)
		}
	}
	if v.IsSet("ssh") {
		job.SSH = &SSHConfig{
			Port:           DefaultSSHPort,
			LocalBindPort:  DefaultLocalBindPort,
			RemoteBindHost: DefaultRemoteBindHost,
			RemoteBindPort: DefaultMySQLPort,
		}
		if err := v.UnmarshalKey("ssh", job.SSH); err != nil {
			return nil, fmt.Errorf("invalid [ssh] section: %w", err)
		}
	}
	if v.IsSet("webhook") {
		job.Webhook = &WebhookConfig{}
		if err := v.UnmarshalKey("webhook", job.Webhook); err != nil {
			return nil, fmt.Errorf("invalid [webhook] section: %w", err)
		}
	}
	if v.IsSet("slack") {
		job.Slack = &SlackConfig{}
		if err := v.UnmarshalKey("slack", job.Slack); err != nil {
			return nil, fmt.Errorf("invalid [slack] section: %w", err)
		}
	}
	if v.IsSet("notify_file") {
		job.File = &FileNotifyConfig{}
		if err := v.UnmarshalKey("notify_file", job.File); err != nil {
			return nil, fmt.Errorf("invalid [notify_file] section: %w", err)
		}
		job.File.Path = resolvePath(project.Root, job.File.Path)
	}
	if err := v.UnmarshalKey("encryption", &job.Encryption); err != nil {
		return nil, fmt.Errorf("invalid [encryption] section: %w", err)
	}

	job.Backup.BackupDir = ResolveBackupDir(project.Root, project.Backup.BackupRootPath, job.Backup.BackupDir)
	job.normalize()

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// LoadJobs loads the project config and every selected job. Invalid jobs are logged and skipped.
func (l *Loader) LoadJobs(selector string) (*ProjectConfig, []*JobConfig, error) {
	project, err := l.LoadProject()
	if err != nil {
		return nil, nil, err
	}

	files, err := l.FindJobFiles(project, selector)
	if err != nil {
		return project, nil, err
	}

	jobs := make([]*JobConfig, 0, len(files))
	for _, f := range files {
		job, err := l.LoadJob(f, project)
		if err != nil {
			l.logger.WithField("file", f).Errorf("Skipping invalid job config: %v", err)
			continue
		}
		l.logger.WithConfig(job.Name).Debugf("Backup directory: %s", job.Backup.BackupDir)
		jobs = append(jobs, job)
	}

	// Siblings come from every job file, not only the selected ones.
	all, err := l.FindJobFiles(project, "")
	if err != nil {
		return project, nil, err
	}
	for _, job := range jobs {
		job.Siblings = siblingNames(job.Name, all)
	}
	return project, jobs, nil
}

func siblingNames(name string, files []string) []string {
	var siblings []string
	for _, f := range files {
		base := filepath.Base(f)
		other := strings.TrimSuffix(base, filepath.Ext(base))
		if strings.HasPrefix(other, name+"_") {
			siblings = append(siblings, other)
		}
	}
	return siblings
}

func (l *Loader) jobsDir(project *ProjectConfig) string {
	if l.configsDir != "" {
		return resolvePath(project.Root, l.configsDir)
	}
	return filepath.Join(project.Root, DefaultConfigsDir)
}

// ResolveBackupDir joins backup_dir onto backup_root_path. Leading ./ and / are stripped
// from backup_dir when a root path is set; a relative root is taken from the project root.
func ResolveBackupDir(projectRoot, rootPath, dir string) string {
	if dir == "" {
		return ""
	}
	if rootPath == "" {
		return resolvePath(projectRoot, dir)
	}

	cleanDir := strings.TrimLeft(dir, `./\`)
	if filepath.IsAbs(rootPath) {
		return filepath.Join(rootPath, cleanDir)
	}
	return filepath.Join(projectRoot, strings.TrimLeft(rootPath, `./\`), cleanDir)
}

func resolvePath(root, p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func setProjectDefaults(v *viper.Viper) {
	v.SetDefault("backup.mysql_bin_dir", "")
	v.SetDefault("backup.days_to_keep", DefaultDaysToKeep)
	v.SetDefault("backup.backup_time", "")
	v.SetDefault("backup.report_time", "")
	v.SetDefault("backup.backup_root_path", "")
	v.SetDefault("backup.status_dir", DefaultStatusDir)
	v.SetDefault("backup.compression", DefaultCompression)
	v.SetDefault("backup.dump_timeout", "0s")
	v.SetDefault("backup.workers", 4)
	v.SetDefault("logging.dir", DefaultLogDir)
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
}

// readInto loads YAML through viper and INI through ini.v1.
func readInto(v *viper.Viper, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		values, err := readINI(path)
		if err != nil {
			return err
		}
		return v.MergeConfigMap(values)
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return v.ReadInConfig()
}

// readINI flattens an INI file into section maps. JSON array values
// (to_addrs = ["a@x", "b@y"]) become lists; other values stay strings
// and are split on commas by the decoder where a list is expected.
func readINI(path string) (map[string]interface{}, error) {
	file, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{})
	for _, section := range file.Sections() {
		if strings.EqualFold(section.Name(), ini.DefaultSection) {
			continue
		}
		keys := make(map[string]interface{})
		for _, key := range section.Keys() {
			raw := strings.TrimSpace(key.String())
			if strings.HasPrefix(raw, "[") {
				var list []string
				if err := json.Unmarshal([]byte(raw), &list); err == nil {
					items := make([]interface{}, len(list))
					for i, item := range list {
						items[i] = item
					}
					keys[key.Name()] = items
					continue
				}
			}
			keys[key.Name()] = raw
		}
		values[section.Name()] = keys
	}
	return values, nil
}

func resolveJobFile(dir, name string) (string, bool) {
	candidate := filepath.Join(dir, name)
	if filepath.Ext(name) != "" {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		return "", false
	}
	for _, ext := range jobExtensions {
		if _, err := os.Stat(candidate + ext); err == nil {
			return candidate + ext, true
		}
	}
	return "", false
}

func isJobFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, known := range jobExtensions {
		if ext == known {
			return true
		}
	}
	return false
}
