package backup

import (
	"fmt"
	"sort"
	"strings"
)

// BackupErrorType names the artifact step that failed.
type BackupErrorType string

const (
	BackupErrorTypeStorage     BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeValidation  BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption  BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeTunnel      BackupErrorType = "TUNNEL_ERROR"
)

// BackupError is a failure while writing, packing or shipping an artifact.
// Context carries paths and sizes for the log; Error prints it sorted by key.
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *BackupError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *BackupError) Unwrap() error {
	return e.Cause
}

// NewBackupError creates an error of errorType.
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{Type: errorType, Message: message, Cause: cause}
}

// WithContext records key and returns e.
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewTunnelError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeTunnel, message, cause)
}
