package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"with-timeout/dashboard"
	"with-timeout/history"
	"with-timeout/supervise"
	"with-timeout/tools"
)

const (
	// exitUsage is returned when no command was given; exitLaunch when
	// the command could not be started. Both are distinct from 124
	// (timeout) and from any child exit code passthrough we emit.
	exitUsage  = 2
	exitLaunch = 125
)

type options struct {
	idleSecs   int
	hardSecs   int
	historyDir string
	quiet      bool
	mcpMode    bool
	serveAddr  string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, command, err := parseArgs(args, os.Stderr)
	if err != nil {
		return exitUsage
	}

	switch {
	case opts.mcpMode:
		return runMCP(opts)
	case opts.serveAddr != "":
		return runDashboard(opts)
	}

	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "usage: with-timeout [--idle <sec>] [--hard <sec>] -- <command> [args...]")
		return exitUsage
	}
	return runOnce(opts, command)
}

// parseArgs splits args into supervisor options and the command to run.
// Everything after a literal "--" is the command, verbatim and unparsed;
// a trailing command without the separator is a usage error, never
// launched.
func parseArgs(args []string, errOut io.Writer) (options, []string, error) {
	var opts options

	flagArgs := args
	var command []string
	for i, a := range args {
		if a == "--" {
			flagArgs = args[:i]
			command = args[i+1:]
			break
		}
	}

	fs := flag.NewFlagSet("with-timeout", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.IntVar(&opts.idleSecs, "idle", 0, "Idle timeout in seconds: kill if no output for this long (0 = disabled)")
	fs.IntVar(&opts.hardSecs, "hard", 0, "Hard timeout in seconds: kill after this total runtime (0 = disabled)")
	fs.StringVar(&opts.historyDir, "history-dir", "", "Directory to record run metadata and captured output (empty = no recording)")
	fs.BoolVar(&opts.quiet, "quiet", false, "Do not relay child output to stdout/stderr (capture to history only)")
	fs.BoolVar(&opts.mcpMode, "mcp", false, "Serve MCP tools over stdio instead of running a command (requires --history-dir)")
	fs.StringVar(&opts.serveAddr, "serve", "", "Serve the run-history HTTP API on this address instead of running a command (requires --history-dir)")

	fs.Usage = func() {
		fmt.Fprintf(errOut, "Usage: with-timeout [options] -- <command> [args...]\n\n")
		fmt.Fprintf(errOut, "Runs a command, killing its whole process tree when it goes silent\n")
		fmt.Fprintf(errOut, "for --idle seconds or runs longer than --hard seconds. Exits 124 on\n")
		fmt.Fprintf(errOut, "timeout, otherwise passes through the command's exit code.\n\n")
		fmt.Fprintf(errOut, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(flagArgs); err != nil {
		return options{}, nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		fmt.Fprintf(errOut, "with-timeout: unexpected argument %q (the command must follow a literal --)\n", rest[0])
		return options{}, nil, errors.New("command without -- separator")
	}
	return opts, command, nil
}

// runOnce performs a single supervised run, optionally recording it.
func runOnce(opts options, command []string) int {
	cfg := supervise.Config{
		Idle: time.Duration(opts.idleSecs) * time.Second,
		Hard: time.Duration(opts.hardSecs) * time.Second,
	}
	if opts.quiet {
		cfg.Stdout = io.Discard
		cfg.Stderr = io.Discard
	}

	var rec *history.Run
	if opts.historyDir != "" {
		st, err := history.Open(opts.historyDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "with-timeout: %v\n", err)
			return exitLaunch
		}
		rec, err = st.Begin(command[0], command[1:], "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "with-timeout: %v\n", err)
			return exitLaunch
		}
		if opts.quiet {
			cfg.Stdout = rec.StdoutLog()
			cfg.Stderr = rec.StderrLog()
		} else {
			cfg.Stdout = io.MultiWriter(os.Stdout, rec.StdoutLog())
			cfg.Stderr = io.MultiWriter(os.Stderr, rec.StderrLog())
		}
	}

	res, err := supervise.Run(command, cfg)
	if err != nil {
		if rec != nil {
			_ = rec.Finish(history.OutcomeLaunchFailed, nil, 0)
		}
		fmt.Fprintf(os.Stderr, "with-timeout: %v\n", err)
		return exitLaunch
	}

	if rec != nil {
		code := res.ExitCode()
		if err := rec.Finish(res.Outcome.String(), &code, res.PID); err != nil {
			log.Printf("recording run: %v", err)
		}
	}
	return res.ExitCode()
}

// runMCP serves the run tools over stdio until the client disconnects.
func runMCP(opts options) int {
	if opts.historyDir == "" {
		fmt.Fprintln(os.Stderr, "with-timeout: --mcp requires --history-dir")
		return exitUsage
	}
	st, err := history.Open(opts.historyDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "with-timeout: %v\n", err)
		return 1
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "with-timeout",
		Version: "0.1.0",
	}, nil)
	tools.RegisterRunTools(server, st)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Printf("mcp server error: %v", err)
		return 1
	}
	return 0
}

// runDashboard serves the run-history HTTP API until interrupted.
func runDashboard(opts options) int {
	if opts.historyDir == "" {
		fmt.Fprintln(os.Stderr, "with-timeout: --serve requires --history-dir")
		return exitUsage
	}
	st, err := history.Open(opts.historyDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "with-timeout: %v\n", err)
		return 1
	}

	srv := dashboard.NewServer(opts.serveAddr, st)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("dashboard server error: %v", err)
			return 1
		}
	case <-sigs:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return 0
}
