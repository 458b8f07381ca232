package eventstore

import (
	"git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = errors.StorageError("could not open journal database").Build()

	// ErrInitializeSchemaFailed indicates the database schema could not be initialized.
	ErrInitializeSchemaFailed = errors.StorageError("failed to initialize journal schema").Build()

	// ErrAppendFailed indicates appending an entry failed.
	ErrAppendFailed = errors.StorageError("failed to append journal entry").Build()

	// ErrQueryFailed indicates querying entries failed.
	ErrQueryFailed = errors.StorageError("failed to query journal").Build()

	// ErrMarshalPayloadFailed indicates JSON marshaling of an entry payload failed.
	ErrMarshalPayloadFailed = errors.StorageError("failed to marshal journal payload").Build()
)
