package eventstore

import "time"

// Entry is one journal row.
type Entry struct {
	ID         int64
	SessionID  string
	Kind       string
	RunID      string
	OccurredAt time.Time
	Payload    []byte // JSON
}
