package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the category of error in the ingestion taxonomy
type ErrorType int

const (
	// Config errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Schema errors - malformed mapping specification, fatal at startup
	ErrorTypeSchema
	// MalformedRecord errors - record-level, skipped with a log entry
	ErrorTypeMalformedRecord
	// InvariantViolation errors - edge-level, rejected with diagnostic
	ErrorTypeInvariantViolation
	// StorageUnavailable errors - transient storage failures, retried
	ErrorTypeStorageUnavailable
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - recovered locally, aggregated into the run summary
	SeverityLow Severity = iota
	// SeverityMedium - recovered locally but worth surfacing prominently
	SeverityMedium
	// SeverityHigh - degraded run, retried or partially salvaged
	SeverityHigh
	// SeverityCritical - aborts the run
	SeverityCritical
)

// Error is a structured error with category, severity and context
type Error struct {
	Type     ErrorType
	Severity Severity
	Message  string
	Cause    error
	Context  map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is matches on error category so callers can use errors.Is with sentinel
// instances such as errors.Is(err, &Error{Type: ErrorTypeSchema})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should abort the run
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns the message with category and context, one per line
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n", severityString(e.Severity), typeString(e.Type), e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}
	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}
	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeSchema:
		return "SCHEMA"
	case ErrorTypeMalformedRecord:
		return "MALFORMED_RECORD"
	case ErrorTypeInvariantViolation:
		return "INVARIANT_VIOLATION"
	case ErrorTypeStorageUnavailable:
		return "STORAGE_UNAVAILABLE"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:     errType,
		Severity: severity,
		Message:  message,
		Context:  make(map[string]any),
	}
}

// Wrap wraps an existing error with classification
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:     errType,
		Severity: severity,
		Message:  message,
		Cause:    err,
		Context:  make(map[string]any),
	}
}

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...any) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// SchemaError creates a fatal schema specification error
func SchemaError(message string) *Error {
	return New(ErrorTypeSchema, SeverityCritical, message)
}

// SchemaErrorf creates a fatal schema specification error with formatting
func SchemaErrorf(format string, args ...any) *Error {
	return New(ErrorTypeSchema, SeverityCritical, fmt.Sprintf(format, args...))
}

// MalformedRecordError creates a record-level error; the record is skipped,
// never the batch
func MalformedRecordError(message string) *Error {
	return New(ErrorTypeMalformedRecord, SeverityLow, message)
}

// MalformedRecordErrorf creates a record-level error with formatting
func MalformedRecordErrorf(format string, args ...any) *Error {
	return New(ErrorTypeMalformedRecord, SeverityLow, fmt.Sprintf(format, args...))
}

// InvariantViolationError creates an edge-level rejection diagnostic
func InvariantViolationError(message string) *Error {
	return New(ErrorTypeInvariantViolation, SeverityMedium, message)
}

// InvariantViolationErrorf creates an edge-level rejection with formatting
func InvariantViolationErrorf(format string, args ...any) *Error {
	return New(ErrorTypeInvariantViolation, SeverityMedium, fmt.Sprintf(format, args...))
}

// StorageUnavailableError wraps a transient storage collaborator failure
func StorageUnavailableError(err error, message string) *Error {
	return Wrap(err, ErrorTypeStorageUnavailable, SeverityHigh, message)
}

// StorageUnavailableErrorf wraps a transient storage failure with formatting
func StorageUnavailableErrorf(err error, format string, args ...any) *Error {
	return Wrap(err, ErrorTypeStorageUnavailable, SeverityHigh, fmt.Sprintf(format, args...))
}

// InternalError creates an internal error
func InternalError(message string) *Error {
	return New(ErrorTypeInternal, SeverityCritical, message)
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...any) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// Classified renders an error prefixed with its taxonomy class, so run
// summaries preserve the category ("MALFORMED_RECORD: missing identity
// field"). Untyped errors render plain.
func Classified(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return fmt.Sprintf("%s: %s", typeString(e.Type), e.Error())
	}
	return err.Error()
}

// IsFatal checks if an error should abort the run
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.IsFatal()
	}
	return false
}

// IsTransient reports whether an error is a retryable storage failure
func IsTransient(err error) bool {
	return GetType(err) == ErrorTypeStorageUnavailable
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}
	if e, ok := err.(*Error); ok {
		return e.Severity
	}
	return SeverityMedium
}

// GetType returns the category of an error
func GetType(err error) ErrorType {
	if err == nil {
		return ErrorTypeInternal
	}
	if e, ok := err.(*Error); ok {
		return e.Type
	}
	return ErrorTypeInternal
}
