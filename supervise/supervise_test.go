package supervise

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

// runShell supervises `sh -c script` with cfg, capturing both streams.
func runShell(t *testing.T, script string, cfg Config) (Result, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cfg.Stdout = &stdout
	cfg.Stderr = &stderr
	res, err := Run([]string{"sh", "-c", script}, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res, stdout.String(), stderr.String()
}

func TestRunPassesThroughExitCode(t *testing.T) {
	res, _, _ := runShell(t, "exit 3", Config{Idle: 5 * time.Second, Hard: 5 * time.Second})
	if res.Outcome != OutcomeCompleted {
		t.Errorf("expected completed outcome, got %v", res.Outcome)
	}
	if res.Code != 3 {
		t.Errorf("expected child code 3, got %d", res.Code)
	}
	if got := res.ExitCode(); got != 3 {
		t.Errorf("expected exit code 3, got %d", got)
	}
}

func TestRunSuccess(t *testing.T) {
	res, stdout, _ := runShell(t, "echo hello", Config{})
	if res.Outcome != OutcomeCompleted {
		t.Errorf("expected completed outcome, got %v", res.Outcome)
	}
	if got := res.ExitCode(); got != 0 {
		t.Errorf("expected exit code 0, got %d", got)
	}
	if stdout != "hello\n" {
		t.Errorf("expected %q on stdout, got %q", "hello\n", stdout)
	}
}

func TestStreamOriginPreserved(t *testing.T) {
	_, stdout, stderr := runShell(t, "echo out1; echo err1 >&2; echo out2; echo err2 >&2", Config{})
	if stdout != "out1\nout2\n" {
		t.Errorf("stdout lines wrong or out of order: %q", stdout)
	}
	if stderr != "err1\nerr2\n" {
		t.Errorf("stderr lines wrong or out of order: %q", stderr)
	}
}

func TestPartialFinalLine(t *testing.T) {
	_, stdout, _ := runShell(t, "printf no-newline", Config{})
	if stdout != "no-newline" {
		t.Errorf("expected partial final line relayed, got %q", stdout)
	}
}

func TestIdleTimeout(t *testing.T) {
	start := time.Now()
	res, stdout, stderr := runShell(t, "echo a; sleep 5; echo b",
		Config{Idle: 500 * time.Millisecond, Hard: 100 * time.Second})
	elapsed := time.Since(start)

	if res.Outcome != OutcomeIdleTimeout {
		t.Errorf("expected idle timeout, got %v", res.Outcome)
	}
	if got := res.ExitCode(); got != ExitTimeout {
		t.Errorf("expected exit code %d, got %d", ExitTimeout, got)
	}
	if !strings.Contains(stdout, "a\n") {
		t.Errorf("expected output before the idle gap to be relayed, got %q", stdout)
	}
	if strings.Contains(stdout, "b") {
		t.Errorf("output after the kill should never appear, got %q", stdout)
	}
	if !strings.Contains(stderr, "idle") {
		t.Errorf("expected idle timeout diagnostic on stderr, got %q", stderr)
	}
	if elapsed > 4*time.Second {
		t.Errorf("idle timeout took too long: %v", elapsed)
	}
}

func TestHardTimeoutDespiteOutput(t *testing.T) {
	start := time.Now()
	res, stdout, stderr := runShell(t, "while true; do echo x; sleep 0.1; done",
		Config{Hard: 1 * time.Second})
	elapsed := time.Since(start)

	if res.Outcome != OutcomeHardTimeout {
		t.Errorf("expected hard timeout, got %v", res.Outcome)
	}
	if got := res.ExitCode(); got != ExitTimeout {
		t.Errorf("expected exit code %d, got %d", ExitTimeout, got)
	}
	if !strings.Contains(stdout, "x\n") {
		t.Errorf("expected continuous output to be relayed, got %q", stdout)
	}
	if !strings.Contains(stderr, "hard") {
		t.Errorf("expected hard timeout diagnostic on stderr, got %q", stderr)
	}
	if elapsed > 5*time.Second {
		t.Errorf("hard timeout took too long: %v", elapsed)
	}
}

func TestTimeoutKillsProcessTree(t *testing.T) {
	start := time.Now()
	res, stdout, _ := runShell(t, "(sleep 30; echo leaked) & wait",
		Config{Hard: 1 * time.Second})
	elapsed := time.Since(start)

	if res.Outcome != OutcomeHardTimeout {
		t.Errorf("expected hard timeout, got %v", res.Outcome)
	}
	if strings.Contains(stdout, "leaked") {
		t.Errorf("descendant survived the group kill: %q", stdout)
	}
	if elapsed > 8*time.Second {
		t.Errorf("run did not return promptly after group kill: %v", elapsed)
	}
}

func TestDisabledTimeouts(t *testing.T) {
	res, stdout, _ := runShell(t, "sleep 0.3; echo done", Config{})
	if res.Outcome != OutcomeCompleted {
		t.Errorf("expected completed outcome with timeouts disabled, got %v", res.Outcome)
	}
	if stdout != "done\n" {
		t.Errorf("expected %q, got %q", "done\n", stdout)
	}
}

func TestEnvAddedToInheritedEnvironment(t *testing.T) {
	t.Setenv("WITH_TIMEOUT_INHERITED", "kept")
	_, stdout, _ := runShell(t, `echo "$WITH_TIMEOUT_EXTRA/$WITH_TIMEOUT_INHERITED"`,
		Config{Env: map[string]string{"WITH_TIMEOUT_EXTRA": "added"}})
	if stdout != "added/kept\n" {
		t.Errorf("expected extra env on top of the inherited one, got %q", stdout)
	}
}

func TestLaunchFailure(t *testing.T) {
	_, err := Run([]string{"/nonexistent/with-timeout-test-binary"}, Config{})
	if err == nil {
		t.Fatal("expected an error for a missing executable")
	}
	if !errors.Is(err, ErrLaunch) {
		t.Errorf("expected error to wrap ErrLaunch, got %v", err)
	}
}

func TestEmptyCommand(t *testing.T) {
	_, err := Run(nil, Config{})
	if err == nil {
		t.Fatal("expected an error for an empty command")
	}
}

func TestSignalGroupAfterExit(t *testing.T) {
	cmd := exec.Command("true")
	setupProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := cmd.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// The group is gone; signaling it must not crash, only return an error.
	if err := signalGroup(cmd, syscall.SIGTERM); err == nil {
		t.Log("signal to exited group unexpectedly succeeded; acceptable")
	}
}

func TestResultExitCode(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want int
	}{
		{"completed zero", Result{Outcome: OutcomeCompleted, Code: 0}, 0},
		{"completed nonzero", Result{Outcome: OutcomeCompleted, Code: 3}, 3},
		{"completed undetermined", Result{Outcome: OutcomeCompleted, Code: -1}, 0},
		{"idle timeout", Result{Outcome: OutcomeIdleTimeout, Code: 0}, ExitTimeout},
		{"hard timeout wins over code", Result{Outcome: OutcomeHardTimeout, Code: 7}, ExitTimeout},
	}
	for _, tt := range tests {
		if got := tt.res.ExitCode(); got != tt.want {
			t.Errorf("%s: ExitCode() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeCompleted.String() != "completed" ||
		OutcomeIdleTimeout.String() != "idle-timeout" ||
		OutcomeHardTimeout.String() != "hard-timeout" {
		t.Error("unexpected outcome names")
	}
}
