package errors

// ErrorBuilder assembles a ClassifiedError. Builders are single use.
type ErrorBuilder struct {
	err ClassifiedError
}

func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{err: ClassifiedError{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
	}}
}

// WrapError classifies err under category; message should name the
// operation that failed, not repeat err.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.err.cause = err
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	if b.err.context == nil {
		b.err.context = make(ErrorContext)
	}
	b.err.context[key] = value
	return b
}

func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	b.err.severity = SeverityFatal
	return b
}

func (b *ErrorBuilder) Warning() *ErrorBuilder {
	b.err.severity = SeverityWarning
	return b
}

func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	b.err.retry = RetryBackoff
	return b
}

// UserAction marks errors only the operator can fix, such as a bad path.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	b.err.retry = RetryUserAction
	return b
}

func (b *ErrorBuilder) Build() *ClassifiedError {
	out := b.err
	return &out
}

func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal().UserAction()
}

func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).Fatal().UserAction()
}

func PathError(message string) *ErrorBuilder {
	return NewError(CategoryPath, message).Fatal().UserAction()
}

func ProcessError(message string) *ErrorBuilder {
	return NewError(CategoryProcess, message)
}

// TimeoutError is used for bounded index runs; the next change retries.
func TimeoutError(message string) *ErrorBuilder {
	return NewError(CategoryTimeout, message).Warning()
}

func CompanionError(message string) *ErrorBuilder {
	return NewError(CategoryCompanion, message).Fatal()
}

func WatcherError(message string) *ErrorBuilder {
	return NewError(CategoryWatcher, message).Fatal()
}

func NetworkError(message string) *ErrorBuilder {
	return NewError(CategoryNetwork, message).Retryable()
}

func StorageError(message string) *ErrorBuilder {
	return NewError(CategoryStorage, message).Retryable()
}

func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
