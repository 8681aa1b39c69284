// Package history persists run records and captured output for
// supervised command runs. Each record is one JSON file in a directory,
// written atomically (temp file + rename), next to a per-run log file
// holding the child's combined output.
package history

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	recordSuffix = ".json"
	logSuffix    = ".log"

	// maxLogRead caps how much of a run's log is returned to callers.
	maxLogRead = 100 * 1024
)

// Outcome strings recorded for a run. The first three mirror the
// supervisor's outcomes; launch-failed covers commands that never
// started.
const (
	OutcomeCompleted    = "completed"
	OutcomeIdleTimeout  = "idle-timeout"
	OutcomeHardTimeout  = "hard-timeout"
	OutcomeLaunchFailed = "launch-failed"
)

// Record holds the persisted metadata for one supervised run.
type Record struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Args       []string   `json:"args,omitempty"`
	Dir        string     `json:"dir,omitempty"`
	PID        int        `json:"pid,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	LogPath    string     `json:"log_path"`
}

// ListFilter controls which records List returns.
type ListFilter struct {
	// FinishedSinceSecs limits finished runs to those that finished
	// within this many seconds ago. Unfinished runs are always included.
	// Zero means no filtering.
	FinishedSinceSecs int
}

// ErrNotFound is returned when no record exists for a run ID.
var ErrNotFound = errors.New("run not found")

// Store keeps run records and log files under a single directory.
type Store struct {
	dir string
}

// Open creates the history directory if needed and returns a Store
// rooted at it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// Begin creates a record and log file for a run that is about to start.
func (s *Store) Begin(command string, args []string, dir string) (*Run, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("generating run ID: %w", err)
	}

	logPath := filepath.Join(s.dir, id+logSuffix)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	rec := Record{
		ID:        id,
		Command:   command,
		Args:      args,
		Dir:       dir,
		StartedAt: time.Now().UTC(),
		LogPath:   logPath,
	}
	if err := s.persist(rec); err != nil {
		logFile.Close()
		os.Remove(logPath)
		return nil, fmt.Errorf("persisting run record: %w", err)
	}

	return &Run{store: s, rec: rec, log: logFile}, nil
}

// Get returns the record for a run ID.
func (s *Store) Get(id string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+recordSuffix))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding run record: %w", err)
	}
	return rec, nil
}

// List returns records matching f, newest first.
func (s *Store) List(f ListFilter) ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing history dir: %w", err)
	}

	var cutoff time.Time
	if f.FinishedSinceSecs > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(f.FinishedSinceSecs) * time.Second)
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordSuffix) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		rec, err := s.Get(strings.TrimSuffix(name, recordSuffix))
		if err != nil {
			continue
		}
		if !cutoff.IsZero() && rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}

// ReadLog returns the last ~100KB of a run's captured output.
func (s *Store) ReadLog(id string) (string, error) {
	rec, err := s.Get(id)
	if err != nil {
		return "", err
	}

	f, err := os.Open(rec.LogPath)
	if err != nil {
		return "", fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}
	offset := int64(0)
	if stat.Size() > maxLogRead {
		offset = stat.Size() - maxLogRead
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return "", fmt.Errorf("seeking log file: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading log file: %w", err)
	}
	return string(data), nil
}

// persist writes rec atomically: temp file in the same directory, then
// rename over the final name.
func (s *Store) persist(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.dir, rec.ID+recordSuffix))
}

// generateID returns 8 random hex characters.
func generateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
