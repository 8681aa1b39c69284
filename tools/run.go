// Package tools registers the MCP tool surface: running a command under
// timeout supervision and inspecting recorded runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"with-timeout/history"
	"with-timeout/supervise"
)

type RunCommandArgs struct {
	Command  string            `json:"command" jsonschema:"the command to run (executable name or path)"`
	Args     []string          `json:"args,omitempty" jsonschema:"arguments for the command, passed through verbatim"`
	Cwd      string            `json:"cwd,omitempty" jsonschema:"working directory for the command"`
	Env      map[string]string `json:"env,omitempty" jsonschema:"environment variables to set for the command (e.g. {\"CI\": \"1\"}). These are added to the current environment, not replacing it"`
	IdleSecs int               `json:"idle_secs,omitempty" jsonschema:"kill the command if it produces no output for this many seconds (0 disables)"`
	HardSecs int               `json:"hard_secs,omitempty" jsonschema:"kill the command after this many seconds of total runtime regardless of output (0 disables)"`
}

type ListRunsArgs struct {
	FinishedSinceSecs *int `json:"finished_since_secs,omitempty" jsonschema:"only include runs that finished within this many seconds ago (default 600). Increase to see older runs"`
}

type GetRunLogsArgs struct {
	RunID string `json:"run_id" jsonschema:"the ID of the run to get logs for (from run_command or list_runs)"`
}

// runResponse is what run_command returns: the persisted record plus the
// tail of the captured output.
type runResponse struct {
	history.Record
	Log string `json:"log,omitempty"`
}

// RegisterRunTools registers run_command, list_runs, and get_run_logs on
// the given MCP server.
func RegisterRunTools(server *mcp.Server, st *history.Store) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "run_command",
		Description: `Run a command under idle/hard timeout supervision and wait for it to finish.

The command is started in its own process group; if it produces no output for idle_secs, or runs longer than hard_secs, the whole process tree is killed (SIGTERM, then SIGKILL) and the run is reported as timed out with exit code 124. Output is captured to a log returned with the result. This tool blocks until the command finishes or times out, so set a hard_secs you are willing to wait for.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args RunCommandArgs) (*mcp.CallToolResult, any, error) {
		if args.Command == "" {
			return toolError("command is required"), nil, nil
		}

		resp, err := runCommand(st, args)
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		return toolJSON(resp)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "list_runs",
		Description: `List recorded supervised runs with their outcome (completed, idle-timeout, hard-timeout, launch-failed), exit code, and timing.

Use this to find the run ID for get_run_logs, or to check whether an earlier run timed out.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListRunsArgs) (*mcp.CallToolResult, any, error) {
		secs := 600
		if args.FinishedSinceSecs != nil {
			secs = *args.FinishedSinceSecs
		}
		records, err := st.List(history.ListFilter{FinishedSinceSecs: secs})
		if err != nil {
			return nil, nil, fmt.Errorf("listing runs: %w", err)
		}
		return toolJSON(records)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "get_run_logs",
		Description: `Get the last ~100KB of a run's captured output.

Lines are tagged [out] or [err] by origin stream. Use this to see what a command printed before it finished or was killed by a timeout.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetRunLogsArgs) (*mcp.CallToolResult, any, error) {
		if args.RunID == "" {
			return toolError("run_id is required"), nil, nil
		}
		log, err := st.ReadLog(args.RunID)
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: log}},
		}, nil, nil
	})
}

// runCommand performs one supervised run, recording it in the history
// store. Launch failures are recorded too, then returned as errors.
func runCommand(st *history.Store, args RunCommandArgs) (runResponse, error) {
	run, err := st.Begin(args.Command, args.Args, args.Cwd)
	if err != nil {
		return runResponse{}, fmt.Errorf("recording run: %w", err)
	}

	cfg := supervise.Config{
		Idle:   time.Duration(args.IdleSecs) * time.Second,
		Hard:   time.Duration(args.HardSecs) * time.Second,
		Dir:    args.Cwd,
		Env:    args.Env,
		Stdout: run.StdoutLog(),
		Stderr: run.StderrLog(),
	}
	res, err := supervise.Run(append([]string{args.Command}, args.Args...), cfg)
	if err != nil {
		_ = run.Finish(history.OutcomeLaunchFailed, nil, 0)
		return runResponse{}, err
	}

	code := res.ExitCode()
	if err := run.Finish(res.Outcome.String(), &code, res.PID); err != nil {
		return runResponse{}, err
	}

	log, _ := st.ReadLog(run.ID())
	rec, err := st.Get(run.ID())
	if err != nil {
		return runResponse{}, err
	}
	return runResponse{Record: rec, Log: log}, nil
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling response: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
