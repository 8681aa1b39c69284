// Package supervise runs a single child process under idle and hard
// timeout policies, relaying its stdout and stderr live to the matching
// parent streams. On timeout the child's entire process group is
// terminated, SIGTERM first and SIGKILL after a grace window.
package supervise

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// pollInterval is the ceiling on how long the monitor loop blocks, so
	// timeout checks stay responsive.
	pollInterval = 1 * time.Second

	// termGrace is how long the child gets to exit after SIGTERM before
	// the group is SIGKILLed, polled every termPoll.
	termGrace = 2 * time.Second
	termPoll  = 200 * time.Millisecond

	// drainWindow bounds the final read of buffered output after the
	// monitor loop exits, so the child's last lines are not lost.
	drainWindow = 3 * time.Second
)

// line is one unit of relayed output, tagged with its origin stream.
type line struct {
	text   string
	stderr bool
}

// Run launches command as the leader of a new process group and
// supervises it according to cfg. It returns an error only when the
// child could not be started; once the child is running, every ending
// (normal exit, non-zero exit, timeout) is reported through the Result.
func Run(command []string, cfg Config) (Result, error) {
	if len(command) == 0 {
		return Result{}, fmt.Errorf("no command to run")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	setupProcessGroup(cmd)

	// Plain os.Pipes instead of StdoutPipe: the exec package passes the
	// file descriptors straight through, so Wait does not own the read
	// ends and can be called while the readers are still draining.
	outR, outW, err := os.Pipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating stdout pipe: %v", ErrLaunch, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return Result{}, fmt.Errorf("%w: creating stderr pipe: %v", ErrLaunch, err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return Result{}, fmt.Errorf("%w: starting %s: %v", ErrLaunch, command[0], err)
	}
	// The child holds its own copies of the write ends; drop ours so the
	// readers see EOF when the child side closes.
	outW.Close()
	errW.Close()

	s := &session{
		cfg:    cfg,
		cmd:    cmd,
		lines:  make(chan line, 64),
		exitCh: make(chan error, 1),
		code:   -1,
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go readLines(outR, false, s.lines, &readers)
	go readLines(errR, true, s.lines, &readers)
	go func() {
		readers.Wait()
		close(s.lines)
	}()
	go func() {
		s.exitCh <- cmd.Wait()
	}()

	outcome := s.monitor()
	if outcome != OutcomeCompleted {
		fmt.Fprintf(cfg.Stderr, "TIMEOUT: %s limit exceeded; killing process group\n", timeoutKind(outcome))
		s.terminate()
	}
	s.drain()
	s.reap()

	return Result{Outcome: outcome, Code: s.code, PID: cmd.Process.Pid}, nil
}

// session holds the mutable state of one supervised run. It is owned by
// the single monitoring goroutine; nothing here needs locking.
type session struct {
	cfg    Config
	cmd    *exec.Cmd
	lines  chan line
	exitCh chan error

	exited bool
	code   int
}

// monitor is the single supervising loop: it multiplexes line arrival,
// child exit and a polling tick, and decides how the run ends. It never
// blocks longer than pollInterval.
func (s *session) monitor() Outcome {
	start := time.Now()
	last := start

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lines := s.lines
	drained := false

	for {
		if s.cfg.Hard > 0 && time.Since(start) > s.cfg.Hard {
			return OutcomeHardTimeout
		}

		select {
		case ln, ok := <-lines:
			if !ok {
				// Both pipes hit EOF. Normally the child has exited; if
				// it closed its own stdio and kept running, keep looping
				// on exit and the timers.
				drained = true
				lines = nil
				if s.exited {
					return OutcomeCompleted
				}
				continue
			}
			last = time.Now()
			s.relay(ln)

		case err := <-s.exitCh:
			s.recordExit(err)
			if drained {
				return OutcomeCompleted
			}

		case <-ticker.C:
			if s.cfg.Idle > 0 && time.Since(last) > s.cfg.Idle {
				return OutcomeIdleTimeout
			}
			if s.exited {
				return OutcomeCompleted
			}
		}
	}
}

// relay writes one line verbatim to the stream matching its origin.
func (s *session) relay(ln line) {
	if ln.stderr {
		io.WriteString(s.cfg.Stderr, ln.text)
	} else {
		io.WriteString(s.cfg.Stdout, ln.text)
	}
}

// terminate asks the whole process group to exit, escalating from
// SIGTERM to SIGKILL after the grace window. Signal failures are
// swallowed: the group may already be gone, and a second call is
// harmless.
func (s *session) terminate() {
	if s.exited {
		return
	}
	_ = signalGroup(s.cmd, syscall.SIGTERM)

	deadline := time.After(termGrace)
	for {
		select {
		case err := <-s.exitCh:
			s.recordExit(err)
			return
		case <-deadline:
			_ = signalGroup(s.cmd, syscall.SIGKILL)
			return
		case <-time.After(termPoll):
		}
	}
}

// drain performs one bounded final read of whatever output is still
// buffered in the pipes, so lines written just before exit or kill are
// relayed rather than dropped.
func (s *session) drain() {
	deadline := time.After(drainWindow)
	for {
		select {
		case ln, ok := <-s.lines:
			if !ok {
				return
			}
			s.relay(ln)
		case <-deadline:
			return
		}
	}
}

// reap collects the child's exit status if it has not been recorded yet.
// Bounded: after a SIGKILL the wait returns promptly, and a child that
// somehow survives must not hang the supervisor.
func (s *session) reap() {
	if s.exited {
		return
	}
	select {
	case err := <-s.exitCh:
		s.recordExit(err)
	case <-time.After(drainWindow):
	}
}

func (s *session) recordExit(err error) {
	s.exited = true
	switch e := err.(type) {
	case nil:
		s.code = 0
	case *exec.ExitError:
		s.code = e.ExitCode()
	default:
		s.code = -1
	}
}

// readLines reads r one line at a time and forwards each to out. A final
// partial line without a trailing newline is forwarded as-is.
func readLines(r io.ReadCloser, stderr bool, out chan<- line, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()
	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			out <- line{text: text, stderr: stderr}
		}
		if err != nil {
			return
		}
	}
}

func timeoutKind(o Outcome) string {
	if o == OutcomeHardTimeout {
		return "hard"
	}
	return "idle"
}
