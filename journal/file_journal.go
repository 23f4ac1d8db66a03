package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xrayconsole/workflowengine/core"
)

// FileJournal is the default production Journal: a single append-only
// JSON-lines file, fsynced on every Append, guarded by a mutex so the
// journal serializes its own writes independent of any caller-side
// serialization the executor already provides.
type FileJournal struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *bufio.Writer
	policy   RetentionPolicy
	entries  int
	logger   core.Logger
}

// Option configures a FileJournal.
type Option func(*FileJournal)

// WithRetentionPolicy overrides the default keep-forever retention policy.
func WithRetentionPolicy(p RetentionPolicy) Option {
	return func(j *FileJournal) { j.policy = p }
}

// WithJournalLogger attaches a structured logger for rotation/archive
// events. Append/Tail/All errors are always returned to the caller
// regardless of whether a logger is set.
func WithJournalLogger(logger core.Logger) Option {
	return func(j *FileJournal) { j.logger = logger }
}

// Open opens or creates the journal file at path, appending to any existing
// content so a restarted process continues the same durable log.
func Open(path string, opts ...Option) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, core.NewEngineError("journal.Open", core.KindJournalError, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, core.NewEngineError("journal.Open", core.KindJournalError, err)
	}
	j := &FileJournal{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		policy: DefaultRetentionPolicy(),
		logger: &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(j)
	}
	count, err := countLines(path)
	if err != nil {
		f.Close()
		return nil, core.NewEngineError("journal.Open", core.KindJournalError, err)
	}
	j.entries = count
	return j, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}

// Append durably persists entry: marshal, write a line, flush the buffer,
// and fsync the underlying file descriptor before returning. Any failure at
// any step is a JournalError and the transition it would have recorded must
// be treated by the caller as not applied.
func (j *FileJournal) Append(ctx context.Context, entry WorkflowJournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return core.NewEngineError("journal.Append", core.KindJournalError, err).WithID(entry.TransitionID)
	}
	if _, err := j.writer.Write(data); err != nil {
		return core.NewEngineError("journal.Append", core.KindJournalError, err).WithID(entry.TransitionID)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return core.NewEngineError("journal.Append", core.KindJournalError, err).WithID(entry.TransitionID)
	}
	if err := j.writer.Flush(); err != nil {
		return core.NewEngineError("journal.Append", core.KindJournalError, err).WithID(entry.TransitionID)
	}
	if err := j.file.Sync(); err != nil {
		return core.NewEngineError("journal.Append", core.KindJournalError, err).WithID(entry.TransitionID)
	}
	j.entries++

	if j.policy.MaxEntries > 0 && j.entries >= j.policy.MaxEntries {
		if err := j.rotate(); err != nil {
			j.logger.Warn("journal rotation failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// rotate seals the active segment and starts a fresh one. Must be called
// with mu held. A rotated segment is moved to {journal_path}/../archive/
// when ArchiveOnRotate is set; it is never deleted.
func (j *FileJournal) rotate() error {
	if err := j.file.Close(); err != nil {
		return err
	}
	if j.policy.ArchiveOnRotate {
		archiveDir := filepath.Join(filepath.Dir(j.path), "archive")
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			return err
		}
		sealed := filepath.Join(archiveDir, fmt.Sprintf("%s.%d", filepath.Base(j.path), j.entries))
		if err := os.Rename(j.path, sealed); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	j.file = f
	j.writer = bufio.NewWriter(f)
	j.entries = 0
	return nil
}

// All reads every entry currently in the active segment, oldest first.
// Archived (rotated) segments are not included; regulatory export over the
// full history reads the archive directory directly.
func (j *FileJournal) All(ctx context.Context) ([]WorkflowJournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readAllLocked()
}

func (j *FileJournal) readAllLocked() ([]WorkflowJournalEntry, error) {
	if err := j.writer.Flush(); err != nil {
		return nil, core.NewEngineError("journal.All", core.KindJournalError, err)
	}
	f, err := os.Open(j.path)
	if err != nil {
		return nil, core.NewEngineError("journal.All", core.KindJournalError, err)
	}
	defer f.Close()

	var out []WorkflowJournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e WorkflowJournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, core.NewEngineError("journal.All", core.KindJournalError, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, core.NewEngineError("journal.All", core.KindJournalError, err)
	}
	return out, nil
}

// Tail returns the coherent suffix needed for crash recovery: every entry
// after the last one whose ToState is "Idle", or the entire log if the
// machine never reached Idle in the retained segment.
func (j *FileJournal) Tail(ctx context.Context) ([]WorkflowJournalEntry, error) {
	all, err := j.All(ctx)
	if err != nil {
		return nil, err
	}
	lastIdle := -1
	for i, e := range all {
		if e.ToState == "Idle" {
			lastIdle = i
		}
	}
	return all[lastIdle+1:], nil
}

// Close flushes and closes the underlying file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}
