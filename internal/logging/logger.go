package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	textTimestamp     = "2006-01-02 15:04:05"
)

// Logger is the run log. Fields such as config and operation keep lines of
// concurrent jobs apart.
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	closer io.Closer
}

// Config holds logger configuration
type Config struct {
	Level  LogLevel
	Output io.Writer
	Format string // "text" or "json"

	// LogFile enables a size-rotated, compressed log file next to the console output.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	var out io.Writer = os.Stdout
	if config.Output != nil {
		out = config.Output
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: textTimestamp,
		})
	default:
		return nil, fmt.Errorf("unsupported log format %q", config.Format)
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	l := &Logger{logger: logger, level: config.Level}

	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.LogFile, err)
		}

		rotator := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    orDefault(config.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: orDefault(config.MaxBackups, defaultMaxBackups),
			Compress:   true,
		}
		out = io.MultiWriter(out, rotator)
		l.closer = rotator
	}

	logger.SetOutput(out)
	return l, nil
}

// NewDefaultLogger logs at normal level to stdout.
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stdout,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

// Close flushes and closes the rotating file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// WithConfig scopes log lines to one backup configuration.
func (l *Logger) WithConfig(name string) *logrus.Entry {
	return l.logger.WithField("config", name)
}

// LogDatabaseConnection logs a driver connect; success only at debug level.
func (l *Logger) LogDatabaseConnection(host string, port int, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"port":      port,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Debug("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// LogCommand logs an external command line. Callers pass already sanitized args.
func (l *Logger) LogCommand(configName, binary string, args []string) {
	l.logger.WithFields(logrus.Fields{
		"config":    configName,
		"operation": "exec",
	}).Infof("[%s] executing: %s %s", configName, binary, strings.Join(args, " "))
}

// LogDumpAttempt logs the outcome of a single dump attempt.
func (l *Logger) LogDumpAttempt(configName string, attempt int, exitCode int, state string, duration time.Duration) {
	fields := logrus.Fields{
		"config":    configName,
		"operation": "dump_attempt",
		"attempt":   attempt,
		"exit_code": exitCode,
		"state":     state,
		"duration":  duration.String(),
	}
	if exitCode == 0 {
		l.logger.WithFields(fields).Info("Dump attempt succeeded")
		return
	}
	l.logger.WithFields(fields).Warn("Dump attempt failed")
}

func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *Logger) GetLevel() LogLevel {
	return l.level
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled reports whether lines at level are written.
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return l.logger.IsLevelEnabled(toLogrusLevel(level))
}

// LogOperationStart logs operation at debug level and returns the function that
// logs its outcome and duration.
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	start := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(start).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
			return
		}
		logFields["success"] = true
		l.logger.WithFields(logFields).Info("Operation completed")
	}
}

// ParseLevel maps CLI flags onto a LogLevel. Verbose wins over quiet.
func ParseLevel(verbose, quiet, debug bool) LogLevel {
	switch {
	case debug:
		return LogLevelDebug
	case verbose:
		return LogLevelVerbose
	case quiet:
		return LogLevelQuiet
	default:
		return LogLevelNormal
	}
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
