package logging

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/types"
)

// ErrorCategory represents different categories of errors for classification
type ErrorCategory string

const (
	// Calls to the device-management service
	ErrorCategoryRemote ErrorCategory = "remote"
	// Expired or rejected upstream sessions
	ErrorCategorySecurity ErrorCategory = "security"
	// Registry construction
	ErrorCategoryResolution ErrorCategory = "resolution"
	// Journal/publisher storage
	ErrorCategoryStorage ErrorCategory = "storage"
	// Configuration errors
	ErrorCategoryConfig ErrorCategory = "config"
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityLow      ErrorSeverity = "low"
)

// ErrorContext provides additional context for error logging
type ErrorContext struct {
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	DeviceID    string                 `json:"device_id,omitempty"`
	GatewayID   string                 `json:"gateway_id,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StructuredError represents a structured error with context
type StructuredError struct {
	Err       error        `json:"error"`
	Context   ErrorContext `json:"context"`
	Timestamp time.Time    `json:"timestamp"`
	Stack     string       `json:"stack,omitempty"`
}

// Error implements the error interface
func (se *StructuredError) Error() string {
	if se.Err != nil {
		return se.Err.Error()
	}
	return "unknown error"
}

// Unwrap returns the underlying error
func (se *StructuredError) Unwrap() error {
	return se.Err
}

// NewStructuredError creates a new structured error with context
func NewStructuredError(err error, context ErrorContext) *StructuredError {
	structuredErr := &StructuredError{
		Err:       err,
		Context:   context,
		Timestamp: time.Now(),
	}

	if context.Severity == ErrorSeverityCritical {
		structuredErr.Stack = captureStackTrace()
	}

	return structuredErr
}

// LogStructuredError logs a structured error with appropriate level and context
func LogStructuredError(entry *logrus.Entry, structuredErr *StructuredError) {
	if entry == nil || structuredErr == nil {
		return
	}

	entry = entry.WithFields(logrus.Fields{
		"error_category": structuredErr.Context.Category,
		"error_severity": structuredErr.Context.Severity,
		"component":      structuredErr.Context.Component,
		"operation":      structuredErr.Context.Operation,
		"recoverable":    structuredErr.Context.Recoverable,
	})

	if structuredErr.Context.DeviceID != "" {
		entry = entry.WithField("device_id", structuredErr.Context.DeviceID)
	}
	if structuredErr.Context.GatewayID != "" {
		entry = entry.WithField("gateway_id", structuredErr.Context.GatewayID)
	}
	for key, value := range structuredErr.Context.Metadata {
		entry = entry.WithField(fmt.Sprintf("meta_%s", key), value)
	}
	if structuredErr.Stack != "" {
		entry = entry.WithField("stack_trace", structuredErr.Stack)
	}

	switch structuredErr.Context.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		entry.Error(structuredErr.Error())
	case ErrorSeverityMedium, ErrorSeverityLow:
		entry.Warn(structuredErr.Error())
	default:
		entry.Error(structuredErr.Error())
	}
}

// LogRemoteError logs a failed call against the device-management service.
// Auth failures are raised to high severity so they stand out.
func LogRemoteError(entry *logrus.Entry, err error, operation, deviceID, gatewayID string) {
	context := ErrorContext{
		Category:    ClassifyError(err),
		Severity:    ErrorSeverityMedium,
		Component:   "upstream",
		Operation:   operation,
		DeviceID:    deviceID,
		GatewayID:   gatewayID,
		Recoverable: true,
	}

	var remote *types.RemoteError
	if errors.As(err, &remote) {
		context.Metadata = map[string]interface{}{
			"status_code": remote.StatusCode,
			"timeout":     remote.Timeout,
		}
	}
	if context.Category == ErrorCategorySecurity {
		context.Severity = ErrorSeverityHigh
		context.Recoverable = false
	}

	LogStructuredError(entry, NewStructuredError(err, context))
}

// LogStorageError logs journal/publisher failures
func LogStorageError(entry *logrus.Entry, err error, component, operation string) {
	context := ErrorContext{
		Category:    ErrorCategoryStorage,
		Severity:    ErrorSeverityMedium,
		Component:   component,
		Operation:   operation,
		Recoverable: true,
	}

	LogStructuredError(entry, NewStructuredError(err, context))
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ClassifyError maps an error onto a logging category
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var remote *types.RemoteError
	if errors.As(err, &remote) {
		if remote.IsAuth() {
			return ErrorCategorySecurity
		}
		return ErrorCategoryRemote
	}

	var precondition *types.PreconditionError
	if errors.Is(err, types.ErrResolutionFailed) || errors.As(err, &precondition) {
		return ErrorCategoryResolution
	}

	if types.HasAuthSignature(err.Error()) {
		return ErrorCategorySecurity
	}

	return ErrorCategoryUnknown
}
