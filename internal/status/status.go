// Package status persists the outcome of the latest run of every backup configuration.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimeLayout formats start, end and mail timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Time is a local timestamp serialized with TimeLayout. The zero value is null.
type Time struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Time {
	return Time{Time: t}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(TimeLayout))
}

// UnmarshalJSON accepts TimeLayout, RFC3339 and null.
func (t *Time) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		if parsed, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return fmt.Errorf("invalid timestamp %q", s)
		}
	}
	t.Time = parsed
	return nil
}

// Record is the persisted state of the most recent run of one configuration.
type Record struct {
	ConfigName    string    `json:"config_name"`
	RunID         string    `json:"run_id,omitempty"`
	LastRun       time.Time `json:"last_run"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	BackupFile    string    `json:"backup_file,omitempty"`
	SkippedTables []string  `json:"skipped_tables"`
	RetryErrors   []string  `json:"retry_errors"`
	Running       bool      `json:"running"`
	StartTime     Time      `json:"start_time"`
	EndTime       Time      `json:"end_time"`
	MailSentTime  Time      `json:"mail_sent_time"`
	Offsite       []string  `json:"offsite,omitempty"`
}

// Partial reports a successful run that skipped tables.
func (r *Record) Partial() bool {
	return r.Success && len(r.SkippedTables) > 0
}

// Store persists records keyed by configuration name.
type Store interface {
	Save(rec *Record) error
	Load(configName string) (*Record, error)
	MarkMailSent(configName string, at time.Time) error
}

// FileStore keeps one backup_status_<cfg>.json per configuration in Dir.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the status file of a configuration.
func (s *FileStore) Path(configName string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("backup_status_%s.json", configName))
}

// Save overwrites the record of rec.ConfigName.
func (s *FileStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(rec)
}

// Load returns nil, nil when no record exists.
func (s *FileStore) Load(configName string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(configName)
}

// MarkMailSent records that a report was sent for the current record.
func (s *FileStore) MarkMailSent(configName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(configName)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no status record for %s", configName)
	}
	rec.MailSentTime = At(at)
	return s.write(rec)
}

// List returns every stored record sorted by configuration name.
func (s *FileStore) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.Dir, "backup_status_*.json"))
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "backup_status_"), ".json")
		rec, err := s.read(name)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *FileStore) read(configName string) (*Record, error) {
	data, err := os.ReadFile(s.Path(configName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status of %s: %w", configName, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode status of %s: %w", configName, err)
	}
	if rec.ConfigName == "" {
		rec.ConfigName = configName
	}
	return &rec, nil
}

func (s *FileStore) write(rec *Record) error {
	if rec == nil || rec.ConfigName == "" {
		return fmt.Errorf("status record needs a config name")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create status dir: %w", err)
	}
	if rec.LastRun.IsZero() {
		rec.LastRun = time.Now()
	}
	if rec.SkippedTables == nil {
		rec.SkippedTables = []string{}
	}
	if rec.RetryErrors == nil {
		rec.RetryErrors = []string{}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	target := s.Path(rec.ConfigName)
	tmp, err := os.CreateTemp(s.Dir, ".backup_status_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}
