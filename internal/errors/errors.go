// Package errors classifies failures of backup runs and the connections they depend on.
package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType is the failure category reported for a run.
type ErrorType string

const (
	// ErrorTypeConnection covers tunnel, dial and credential probe failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeSchema covers missing tables and schema incompatibilities
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeTool covers unclassified failures of mysqldump or mysql
	ErrorTypeTool ErrorType = "tool"
	// ErrorTypeIntegrity covers missing or empty artifacts after a dump
	ErrorTypeIntegrity ErrorType = "integrity"
	// ErrorTypeConfiguration covers invalid or unreadable configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypePermission    ErrorType = "permission"
	ErrorTypeTimeout       ErrorType = "timeout"
	// ErrorTypeInterruption is a run stopped by a signal or a cancelled context
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeInternal covers recovered panics
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// hints are appended to user-facing messages of errors without their own.
var hints = map[ErrorType]string{
	ErrorTypeConnection:    "check host, port and the ssh section",
	ErrorTypePermission:    "check the database user, password or defaults_file",
	ErrorTypeConfiguration: "run \"config validate\"",
	ErrorTypeTimeout:       "raise dump_timeout or check the network",
}

// AppError is a classified error with optional context for logs.
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns UserMessage, or Message with a hint for the type.
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	if hint, ok := hints[e.Type]; ok {
		return fmt.Sprintf("%s (%s)", e.Message, hint)
	}
	return e.Message
}

// IsRecoverable reports whether retrying the operation may succeed.
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext records key on the error and returns it.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a non-recoverable error.
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates an error that Backoff.Retry will retry.
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	err := NewAppError(errorType, message, cause)
	err.Recoverable = true
	return err
}

type mysqlClass struct {
	typ         ErrorType
	message     string
	recoverable bool
}

// mysqlCodes maps server and client error numbers seen while probing and dumping.
var mysqlCodes = map[uint16]mysqlClass{
	1044: {ErrorTypePermission, "database access denied", false},
	1045: {ErrorTypePermission, "database access denied", false},
	1049: {ErrorTypeConfiguration, "database does not exist", false},
	1109: {ErrorTypeSchema, "table does not exist", false},
	1146: {ErrorTypeSchema, "table does not exist", false},
	1227: {ErrorTypePermission, "missing privilege for dump", false},
	2003: {ErrorTypeConnection, "cannot connect to MySQL server", true},
	2006: {ErrorTypeConnection, "MySQL server has gone away", true},
	2013: {ErrorTypeConnection, "lost connection to MySQL server", true},
}

// Classify maps err onto an AppError. AppErrors are returned unchanged and nil stays nil.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		class, ok := mysqlCodes[mysqlErr.Number]
		if !ok {
			class = mysqlClass{ErrorTypeTool, "MySQL error: " + mysqlErr.Message, false}
		}
		classified := NewAppError(class.typ, class.message, err).WithContext("mysql_error_code", mysqlErr.Number)
		classified.Recoverable = class.recoverable
		return classified
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "database connection is closed", err)
	}

	// A dial cut short by cancellation is an interruption, so context is checked before net.
	switch {
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeInterruption, "operation was canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewRecoverableError(ErrorTypeTimeout, "operation timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "network operation timed out", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write") {
		return NewRecoverableError(ErrorTypeConnection, "network "+opErr.Op+" failed", err)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch {
		case errors.Is(pathErr.Err, syscall.ENOENT):
			return NewAppError(ErrorTypeConfiguration, "not found: "+pathErr.Path, err)
		case errors.Is(pathErr.Err, syscall.EACCES):
			return NewAppError(ErrorTypePermission, "permission denied: "+pathErr.Path, err)
		case errors.Is(pathErr.Err, syscall.ENOSPC):
			return NewAppError(ErrorTypeIntegrity, "no space left for artifact", err)
		}
	}

	return NewAppError(ErrorTypeUnknown, "unexpected error", err)
}

// Backoff retries recoverable errors with exponentially growing pauses.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Factor   float64
}

// DefaultBackoff is used for driver connects.
var DefaultBackoff = Backoff{Attempts: 3, Base: time.Second, Max: 5 * time.Second, Factor: 2}

// Retry calls op until it succeeds, fails with a non-recoverable error or runs out of attempts.
func (b Backoff) Retry(ctx context.Context, op func() error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last *AppError
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "retry canceled", err)
		}
		err := op()
		if err == nil {
			return nil
		}
		last = Classify(err)
		if !last.IsRecoverable() || attempt == attempts {
			break
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "retry canceled", ctx.Err())
		case <-timer.C:
		}
	}
	if last.IsRecoverable() {
		last.WithContext("attempts", attempts)
	}
	return last
}

// delay is Base * Factor^(attempt-1), capped at Max.
func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// GracefulShutdownHandler cancels a root context on SIGINT/SIGTERM and runs
// registered cleanup functions in reverse order, once.
type GracefulShutdownHandler struct {
	mu      sync.Mutex
	cleanup []func() error
	signals chan os.Signal
	once    sync.Once
}

func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{signals: make(chan os.Signal, 1)}
}

// RegisterShutdownFunc adds fn to the cleanup run by Stop or on a signal.
func (h *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	h.mu.Lock()
	h.cleanup = append(h.cleanup, fn)
	h.mu.Unlock()
}

// Start returns a context cancelled by the first signal. Dumps started with
// exec.CommandContext from it are killed on cancel.
func (h *GracefulShutdownHandler) Start(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-h.signals:
			fmt.Fprintf(os.Stderr, "Received %s, stopping running backups...\n", sig)
			cancel()
			h.runCleanup()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Stop stops listening for signals and runs the cleanup if no signal did.
func (h *GracefulShutdownHandler) Stop() {
	signal.Stop(h.signals)
	h.runCleanup()
}

func (h *GracefulShutdownHandler) runCleanup() {
	h.once.Do(func() {
		h.mu.Lock()
		funcs := append([]func() error(nil), h.cleanup...)
		h.mu.Unlock()
		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
			}
		}
	})
}

// Recoverable reports whether err is an AppError marked recoverable.
func Recoverable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.IsRecoverable()
}

// GetErrorType returns the type of the outermost AppError, or ErrorTypeUnknown.
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError renders err for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}
	return err.Error()
}

// WrapError classifies err and wraps it under message, keeping type and recoverability.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	classified := Classify(err)
	return &AppError{
		Type:        classified.Type,
		Message:     message,
		Cause:       err,
		Context:     classified.Context,
		Recoverable: classified.Recoverable,
	}
}
