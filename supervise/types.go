package supervise

import (
	"errors"
	"io"
	"time"
)

// ErrLaunch marks a command that could not be started at all (bad path,
// permission denied, pipe setup). Distinct from a run that timed out or
// exited non-zero, which are reported through the Result.
var ErrLaunch = errors.New("launch failed")

// Outcome classifies how a supervised run ended.
type Outcome int

const (
	// OutcomeCompleted means the child exited on its own.
	OutcomeCompleted Outcome = iota
	// OutcomeIdleTimeout means the child produced no output for longer
	// than the configured idle window.
	OutcomeIdleTimeout
	// OutcomeHardTimeout means total runtime exceeded the hard limit.
	OutcomeHardTimeout
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeIdleTimeout:
		return "idle-timeout"
	case OutcomeHardTimeout:
		return "hard-timeout"
	default:
		return "unknown"
	}
}

// ExitTimeout is the exit status reported when either timeout fires.
const ExitTimeout = 124

// Config controls a single supervised run.
type Config struct {
	// Idle is the maximum allowed gap between successive output lines.
	// Zero disables idle detection.
	Idle time.Duration

	// Hard is the maximum total runtime regardless of output activity.
	// Zero disables hard detection.
	Hard time.Duration

	// Dir is the working directory for the child (defaults to the
	// supervisor's own).
	Dir string

	// Env holds extra environment variables for the child. They are
	// added to the supervisor's own environment, not replacing it.
	Env map[string]string

	// Stdout and Stderr receive the child's relayed output. They default
	// to os.Stdout and os.Stderr. Stream origin is always preserved: a
	// line the child wrote to stderr is never written to Stdout.
	Stdout io.Writer
	Stderr io.Writer
}

// Result describes how a supervised run ended. Exactly one Result is
// produced per invocation.
type Result struct {
	Outcome Outcome

	// Code is the child's own exit code. It is -1 when the code could not
	// be determined (child killed by a signal, or never reaped).
	Code int

	// PID of the launched child, which is also its process group id.
	PID int
}

// ExitCode maps a Result to the supervisor's externally visible exit
// status. Timeouts always win over the child's own code. An undetermined
// code on a completed run is reported as success; that mirrors the
// long-standing behavior this tool replaces and lives here so a policy
// change is a one-line edit.
func (r Result) ExitCode() int {
	if r.Outcome != OutcomeCompleted {
		return ExitTimeout
	}
	if r.Code < 0 {
		return 0
	}
	return r.Code
}
