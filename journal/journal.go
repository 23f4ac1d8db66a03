package journal

import "context"

// Journal is the durable, append-only write-ahead log. Append must not
// return until entry is durable (synced to stable storage): the executor
// blocks on this call and treats any error as a failed transition, never a
// partially-applied one.
type Journal interface {
	// Append durably persists entry and returns once sync has completed.
	Append(ctx context.Context, entry WorkflowJournalEntry) error

	// Tail returns the coherent suffix of the journal needed for crash
	// recovery: every entry from the last entry whose ToState was Idle
	// (exclusive) through the end of the log, or the entire log if no such
	// entry exists.
	Tail(ctx context.Context) ([]WorkflowJournalEntry, error)

	// All returns every entry in the journal, oldest first. Used by
	// regulatory export and tests; not on the clinical hot path.
	All(ctx context.Context) ([]WorkflowJournalEntry, error)

	// Close flushes and releases the underlying file handle.
	Close() error
}
