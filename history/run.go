package history

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Run is an in-progress supervised run being recorded. Its log writers
// interleave stdout and stderr lines by arrival order into one file,
// each line tagged with its origin stream.
type Run struct {
	store *Store
	rec   Record
	log   io.WriteCloser

	mu sync.Mutex
}

// ID returns the run's identifier.
func (r *Run) ID() string {
	return r.rec.ID
}

// Record returns a snapshot of the run's current record.
func (r *Run) Record() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec
}

// StdoutLog returns a writer that records stdout lines into the run log.
func (r *Run) StdoutLog() io.Writer {
	return &taggedWriter{run: r, tag: "out"}
}

// StderrLog returns a writer that records stderr lines into the run log.
func (r *Run) StderrLog() io.Writer {
	return &taggedWriter{run: r, tag: "err"}
}

// Finish records how the run ended and closes the log file. Safe to call
// with a nil exit code when none was determined.
func (r *Run) Finish(outcome string, exitCode *int, pid int) error {
	r.mu.Lock()
	now := time.Now().UTC()
	r.rec.FinishedAt = &now
	r.rec.Outcome = outcome
	r.rec.ExitCode = exitCode
	r.rec.PID = pid
	rec := r.rec
	r.mu.Unlock()

	if err := r.log.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	if err := r.store.persist(rec); err != nil {
		return fmt.Errorf("persisting run record: %w", err)
	}
	return nil
}

// taggedWriter prefixes each written line with its stream tag before
// appending it to the shared run log.
type taggedWriter struct {
	run *Run
	tag string
}

func (w *taggedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.run.mu.Lock()
	defer w.run.mu.Unlock()
	lines := strings.Split(string(p), "\n")
	for i, text := range lines {
		// The element after a trailing newline is an artifact of the
		// split, not a blank output line.
		if i == len(lines)-1 && text == "" {
			continue
		}
		if _, err := fmt.Fprintf(w.run.log, "[%s] %s\n", w.tag, text); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
