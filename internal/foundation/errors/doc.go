// Package errors holds the classified error type shared by every indexwatch
// package.
//
// A ClassifiedError carries a category, which decides the process exit code
// and the admin API status, plus a severity, a retry hint and free-form
// context for logs. Build them fluently:
//
//	err := errors.WrapError(cause, errors.CategoryProcess, "index backend could not be launched").
//		WithContext("command", name).
//		Build()
//
// errors.Is matches two classified errors when category and message agree,
// so package-level sentinels built with the same message work as targets.
package errors
