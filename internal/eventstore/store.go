// Package eventstore keeps an append-only journal of indexing runs and
// companion lifecycle changes. The journal is an audit trail; nothing reads
// it back to restore state at startup.
package eventstore

import (
	"context"
)

// Store defines the interface for the run journal.
type Store interface {
	// Append adds an entry to the journal.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Close closes the store and releases resources.
	Close() error
}
