package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Process exit codes by category. Unclassified errors exit with 1.
var exitCodes = map[ErrorCategory]int{
	CategoryValidation: 2,
	CategoryPath:       3,
	CategoryConfig:     7,
	CategoryProcess:    8,
	CategoryNetwork:    8,
	CategoryStorage:    8,
	CategoryInternal:   10,
	CategoryCompanion:  12,
	CategoryWatcher:    12,
	CategoryRuntime:    12,
	CategoryTimeout:    13,
}

// CLIErrorAdapter turns a command's final error into a stderr line and an
// exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	stderr  io.Writer
	exit    func(int)
}

func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger, stderr: os.Stderr, exit: os.Exit}
}

func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	classified, ok := AsClassified(err)
	if !ok {
		return 1
	}
	if code, ok := exitCodes[classified.Category()]; ok {
		return code
	}
	return 1
}

// FormatError renders err for humans. Internal errors stay terse unless
// verbose output was requested.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	classified, ok := AsClassified(err)
	if !ok || a.verbose {
		return fmt.Sprintf("Error: %v", err)
	}
	if classified.Category() == CategoryInternal {
		return "Internal error occurred (use -v for details)"
	}
	msg := "Error: " + classified.Message()
	if cause := classified.Unwrap(); cause != nil {
		msg += ": " + cause.Error()
	}
	return msg
}

// HandleError reports err and exits. A nil err is a no-op.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	a.log(err)
	_, _ = fmt.Fprintln(a.stderr, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

func (a *CLIErrorAdapter) log(err error) {
	classified, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", slog.String("error", err.Error()))
		return
	}
	if !a.verbose && classified.Severity() != SeverityFatal {
		return
	}
	attrs := []slog.Attr{slog.String("category", string(classified.Category()))}
	for k, v := range classified.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	if classified.CanRetry() {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	a.logger.LogAttrs(context.Background(), levelFor(classified.Severity()), classified.Message(), attrs...)
}

func levelFor(s ErrorSeverity) slog.Level {
	if s == SeverityWarning {
		return slog.LevelWarn
	}
	return slog.LevelError
}
