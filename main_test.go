package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"with-timeout/history"
)

func TestParseArgsSplitsCommand(t *testing.T) {
	var errOut bytes.Buffer
	opts, command, err := parseArgs([]string{"--idle", "2", "--hard", "100", "--", "sleep", "5"}, &errOut)
	if err != nil {
		t.Fatalf("parseArgs failed: %v", err)
	}
	if opts.idleSecs != 2 || opts.hardSecs != 100 {
		t.Errorf("timeouts not parsed: %+v", opts)
	}
	if len(command) != 2 || command[0] != "sleep" || command[1] != "5" {
		t.Errorf("command not passed through verbatim: %v", command)
	}
}

func TestParseArgsNoCommand(t *testing.T) {
	var errOut bytes.Buffer
	_, command, err := parseArgs([]string{"--idle", "2"}, &errOut)
	if err != nil {
		t.Fatalf("parseArgs failed: %v", err)
	}
	if len(command) != 0 {
		t.Errorf("expected no command, got %v", command)
	}
}

func TestParseArgsRejectsCommandWithoutSeparator(t *testing.T) {
	var errOut bytes.Buffer
	if _, _, err := parseArgs([]string{"--idle", "2", "sh", "-c", "exit 7"}, &errOut); err == nil {
		t.Error("expected an error for a command without the -- separator")
	}
}

func TestRunNoSeparatorIsUsageError(t *testing.T) {
	// The child must never be launched: a passthrough exit of 7 here
	// would mean it ran.
	if code := run([]string{"--idle", "2", "sh", "-c", "exit 7"}); code != exitUsage {
		t.Errorf("expected exit %d without a -- separator, got %d", exitUsage, code)
	}
}

func TestParseArgsUnknownFlag(t *testing.T) {
	var errOut bytes.Buffer
	if _, _, err := parseArgs([]string{"--bogus"}, &errOut); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestRunUsageError(t *testing.T) {
	if code := run([]string{"--idle", "2"}); code != exitUsage {
		t.Errorf("expected exit %d without a command, got %d", exitUsage, code)
	}
}

func TestRunOncePassesThroughExitCode(t *testing.T) {
	code := runOnce(options{quiet: true}, []string{"sh", "-c", "exit 3"})
	if code != 3 {
		t.Errorf("expected exit 3, got %d", code)
	}
}

func TestRunOnceLaunchFailure(t *testing.T) {
	code := runOnce(options{quiet: true}, []string{"/nonexistent/with-timeout-main-test"})
	if code != exitLaunch {
		t.Errorf("expected exit %d for a launch failure, got %d", exitLaunch, code)
	}
}

func TestRunOnceRecordsHistory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")

	code := runOnce(options{quiet: true, hardSecs: 0, historyDir: dir},
		[]string{"sh", "-c", "echo hi; exit 3"})
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}

	st, err := history.Open(dir)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	records, err := st.List(history.ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Outcome != history.OutcomeCompleted {
		t.Errorf("expected completed outcome, got %q", rec.Outcome)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 3 {
		t.Errorf("expected recorded exit code 3, got %+v", rec.ExitCode)
	}
	log, err := st.ReadLog(rec.ID)
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if log != "[out] hi\n" {
		t.Errorf("unexpected captured log: %q", log)
	}
}

func TestServeRequiresHistoryDir(t *testing.T) {
	if code := run([]string{"--serve", "127.0.0.1:0"}); code != exitUsage {
		t.Errorf("expected exit %d, got %d", exitUsage, code)
	}
	if code := run([]string{"--mcp"}); code != exitUsage {
		t.Errorf("expected exit %d, got %d", exitUsage, code)
	}
}
