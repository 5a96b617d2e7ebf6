package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose json config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "backup.log")

	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("written to both sinks")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written to both sinks") {
		t.Errorf("log file missing message, got: %s", data)
	}
	if !strings.Contains(buf.String(), "written to both sinks") {
		t.Errorf("console missing message, got: %s", buf.String())
	}
}

func TestLoggerWithConfig(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.WithConfig("orders").Info("hello")

	if !strings.Contains(buf.String(), "config=orders") {
		t.Errorf("Expected config=orders, got: %s", buf.String())
	}
}

func TestLogDatabaseConnection(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogDatabaseConnection("localhost", 3306, true, 100*time.Millisecond, nil)
	output := buf.String()
	if !strings.Contains(output, "Database connection established") {
		t.Errorf("Expected success message, got: %s", output)
	}
	if !strings.Contains(output, "host=localhost") {
		t.Errorf("Expected host=localhost, got: %s", output)
	}

	buf.Reset()

	logger.LogDatabaseConnection("localhost", 3306, false, 5*time.Second, errors.New("connection timeout"))
	output = buf.String()
	if !strings.Contains(output, "Database connection failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "connection timeout") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestLogDumpAttempt(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogDumpAttempt("orders", 2, 2, "FORCE_RETRY", time.Second)
	output := buf.String()
	if !strings.Contains(output, "Dump attempt failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "state=FORCE_RETRY") {
		t.Errorf("Expected state field, got: %s", output)
	}
}

func TestLogCommand(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogCommand("orders", "mysqldump", []string{"--host=***", "--all-databases"})
	if !strings.Contains(buf.String(), "mysqldump --host=*** --all-databases") {
		t.Errorf("Expected joined command line, got: %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	logger := NewDefaultLogger()

	logger.SetLevel(LogLevelVerbose)
	if logger.GetLevel() != LogLevelVerbose {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelVerbose)
	}

	logger.SetLevel(LogLevelQuiet)
	if logger.GetLevel() != LogLevelQuiet {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelQuiet)
	}
}

func TestIsLevelEnabled(t *testing.T) {
	tests := []struct {
		name        string
		loggerLevel LogLevel
		testLevel   LogLevel
		want        bool
	}{
		{"quiet logger, error level", LogLevelQuiet, LogLevelQuiet, true},
		{"quiet logger, normal level", LogLevelQuiet, LogLevelNormal, false},
		{"normal logger, normal level", LogLevelNormal, LogLevelNormal, true},
		{"normal logger, verbose level", LogLevelNormal, LogLevelVerbose, false},
		{"verbose logger, debug level", LogLevelVerbose, LogLevelDebug, false},
		{"debug logger, debug level", LogLevelDebug, LogLevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(Config{Level: tt.loggerLevel, Output: &buf})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if got := logger.IsLevelEnabled(tt.testLevel); got != tt.want {
				t.Errorf("IsLevelEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if got := ParseLevel(false, false, true); got != LogLevelDebug {
		t.Errorf("ParseLevel(debug) = %v", got)
	}
	if got := ParseLevel(true, true, false); got != LogLevelVerbose {
		t.Errorf("ParseLevel(verbose, quiet) = %v", got)
	}
	if got := ParseLevel(false, true, false); got != LogLevelQuiet {
		t.Errorf("ParseLevel(quiet) = %v", got)
	}
	if got := ParseLevel(false, false, false); got != LogLevelNormal {
		t.Errorf("ParseLevel() = %v", got)
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	finish := logger.LogOperationStart("cleanup", map[string]interface{}{"config": "orders"})

	output := buf.String()
	if !strings.Contains(output, "Operation started") {
		t.Errorf("Expected start message, got: %s", output)
	}
	if !strings.Contains(output, "config=orders") {
		t.Errorf("Expected config=orders, got: %s", output)
	}

	buf.Reset()
	finish(nil)
	output = buf.String()
	if !strings.Contains(output, "Operation completed") || !strings.Contains(output, "success=true") {
		t.Errorf("Expected completion message, got: %s", output)
	}

	buf.Reset()
	finish(errors.New("boom"))
	output = buf.String()
	if !strings.Contains(output, "Operation failed") || !strings.Contains(output, "boom") {
		t.Errorf("Expected failure message, got: %s", output)
	}
}
