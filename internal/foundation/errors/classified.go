package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
)

// ErrorCategory is the broad class of a failure.
type ErrorCategory string

const (
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryPath       ErrorCategory = "path"
	CategoryProcess    ErrorCategory = "process"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryCompanion  ErrorCategory = "companion"
	CategoryWatcher    ErrorCategory = "watcher"
	CategoryNetwork    ErrorCategory = "network"
	CategoryStorage    ErrorCategory = "storage"
	CategoryRuntime    ErrorCategory = "runtime"
	CategoryInternal   ErrorCategory = "internal"
)

type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
)

// RetryStrategy hints whether repeating the operation can help.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"
	RetryUserAction RetryStrategy = "user"
)

// ErrorContext is structured detail attached to an error for logs and
// API responses.
type ErrorContext map[string]any

type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.category, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.category, e.message)
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Category() ErrorCategory      { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity      { return e.severity }
func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }
func (e *ClassifiedError) Message() string              { return e.message }

// Context returns a copy of the attached context.
func (e *ClassifiedError) Context() ErrorContext {
	if len(e.context) == 0 {
		return nil
	}
	return maps.Clone(e.context)
}

// Is reports whether target is a classified error with the same category
// and message.
func (e *ClassifiedError) Is(target error) bool {
	other, ok := target.(*ClassifiedError)
	return ok && e.category == other.category && e.message == other.message
}

// CanRetry is true for transient failures such as an unreachable broker.
func (e *ClassifiedError) CanRetry() bool { return e.retry == RetryBackoff }

// AsClassified returns the outermost ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// GetCategory returns err's category, or CategoryInternal for unclassified
// errors.
func GetCategory(err error) ErrorCategory {
	if classified, ok := AsClassified(err); ok {
		return classified.category
	}
	return CategoryInternal
}

// HasCategory reports whether err is classified under category.
func HasCategory(err error, category ErrorCategory) bool {
	classified, ok := AsClassified(err)
	return ok && classified.category == category
}
