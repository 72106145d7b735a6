package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/debugger/controller"
)

func registerTools(s *server.MCPServer, deps Deps) {
	s.AddTool(mcp.NewTool("execute",
		mcp.WithDescription("Run a raw console command through the debugger."),
		mcp.WithString("command", mcp.Required(), mcp.Description("The console command text")),
	), executeHandler(deps))

	s.AddTool(mcp.NewTool("set_file",
		mcp.WithDescription("Load a binary for debugging."),
		mcp.WithString("binary_path", mcp.Required(), mcp.Description("Absolute path to the binary")),
	), setFileHandler(deps))

	s.AddTool(mcp.NewTool("attach",
		mcp.WithDescription("Attach the debugger to a running process."),
		mcp.WithNumber("pid", mcp.Required(), mcp.Description("Process id, must be > 0")),
	), attachHandler(deps))

	s.AddTool(mcp.NewTool("run",
		mcp.WithDescription("Start the loaded inferior."),
		mcp.WithString("args", mcp.Description("Arguments to pass to the inferior")),
		mcp.WithBoolean("start", mcp.Description("Stop at the first line of main (--start)")),
	), runHandler(deps))

	s.AddTool(mcp.NewTool("step_control",
		mcp.WithDescription("Step or continue the stopped inferior. command is one of c,n,s,ni,si or their long forms."),
		mcp.WithString("command", mcp.Required(), mcp.Description("c|n|s|ni|si|continue|next|step|nexti|stepi")),
	), stepControlHandler(deps))

	s.AddTool(mcp.NewTool("finish",
		mcp.WithDescription("Run until the current function returns."),
	), finishHandler(deps))

	s.AddTool(mcp.NewTool("jump",
		mcp.WithDescription("Jump execution to a location without calling it."),
		mcp.WithString("location", mcp.Required()),
	), jumpHandler(deps))

	s.AddTool(mcp.NewTool("return_from_function",
		mcp.WithDescription("Force the current function to return immediately."),
	), returnFromFunctionHandler(deps))

	s.AddTool(mcp.NewTool("until",
		mcp.WithDescription("Continue until a source line or function is reached, or loops exit."),
		mcp.WithString("location", mcp.Description("Optional location; omit to run past the current loop")),
	), untilHandler(deps))

	s.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Get a rendered snapshot of the stopped inferior."),
		mcp.WithString("context_type", mcp.Required(), mcp.Description("all|regs|stack|disasm|code|backtrace")),
	), getContextHandler(deps))

	s.AddTool(mcp.NewTool("set_breakpoint",
		mcp.WithDescription("Insert a breakpoint."),
		mcp.WithString("location", mcp.Required()),
		mcp.WithString("condition", mcp.Description("Optional breakpoint condition expression")),
	), setBreakpointHandler(deps))

	s.AddTool(mcp.NewTool("list_breakpoints",
		mcp.WithDescription("List all known breakpoints."),
	), listBreakpointsHandler(deps))

	s.AddTool(mcp.NewTool("delete_breakpoint",
		mcp.WithDescription("Delete a breakpoint by number."),
		mcp.WithNumber("number", mcp.Required()),
	), deleteBreakpointHandler(deps))

	s.AddTool(mcp.NewTool("toggle_breakpoint",
		mcp.WithDescription("Enable or disable a breakpoint by number."),
		mcp.WithNumber("number", mcp.Required()),
		mcp.WithBoolean("enabled", mcp.Required()),
	), toggleBreakpointHandler(deps))

	s.AddTool(mcp.NewTool("get_memory",
		mcp.WithDescription("Read inferior memory."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Expression or literal address")),
		mcp.WithNumber("size", mcp.Required(), mcp.Description("Number of bytes, >= 0")),
		mcp.WithString("format", mcp.Required(), mcp.Description("hex|string|int")),
	), getMemoryHandler(deps))

	s.AddTool(mcp.NewTool("get_session_info",
		mcp.WithDescription("Get the current session snapshot: binary, pid, state, breakpoints, watches."),
	), getSessionInfoHandler(deps))

	s.AddTool(mcp.NewTool("run_command",
		mcp.WithDescription("Run an auxiliary shell command synchronously and capture its output."),
		mcp.WithString("command", mcp.Required()),
		mcp.WithString("cwd", mcp.Description("Working directory, optional")),
		mcp.WithNumber("timeout", mcp.Description("Timeout in seconds, defaults to 30")),
	), runCommandHandler(deps))

	s.AddTool(mcp.NewTool("spawn_process",
		mcp.WithDescription("Spawn a tracked background process; stdout/stderr are redirected to temp files."),
		mcp.WithString("command", mcp.Required()),
		mcp.WithString("cwd", mcp.Description("Working directory, optional")),
		mcp.WithString("env_json", mcp.Description("Optional JSON object of extra environment variables")),
	), spawnProcessHandler(deps))

	s.AddTool(mcp.NewTool("get_process",
		mcp.WithDescription("Get a tracked process's status and, if terminated, its final output."),
		mcp.WithNumber("pid", mcp.Required()),
	), getProcessHandler(deps))

	s.AddTool(mcp.NewTool("kill_process",
		mcp.WithDescription("Send a signal to a tracked process's process group."),
		mcp.WithNumber("pid", mcp.Required()),
		mcp.WithNumber("signal", mcp.Description("Signal number, defaults to SIGTERM (15)")),
	), killProcessHandler(deps))

	s.AddTool(mcp.NewTool("list_processes",
		mcp.WithDescription("List all currently tracked processes."),
	), listProcessesHandler(deps))

	s.AddTool(mcp.NewTool("pwncli",
		mcp.WithDescription("Start an interactive exploit-driver Python script as the singleton exploit pipe. Kills any prior pipe."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Path to the exploit script")),
		mcp.WithString("argument", mcp.Description("Optional single argument passed to the script")),
	), pwncliHandler(deps))

	s.AddTool(mcp.NewTool("sendinput",
		mcp.WithDescription("Write raw bytes to the exploit pipe's stdin."),
		mcp.WithString("data", mcp.Required()),
	), sendInputHandler(deps))

	s.AddTool(mcp.NewTool("checkoutput",
		mcp.WithDescription("Drain and return new output from the exploit pipe since the last call."),
	), checkOutputHandler(deps))

	deps.Log.Info("registered MCP tools", zap.Int("count", 24))
}

func resultJSON(v any) *mcp.CallToolResult {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(body))
}

func executeHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return resultJSON(deps.Debugger.Execute(ctx, command)), nil
	}
}

func setFileHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("binary_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return resultJSON(deps.Debugger.SetFile(ctx, path)), nil
	}
}

func attachHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		pid := argInt(args, "pid", 0)
		if pid <= 0 {
			return mcp.NewToolResultError("pid must be > 0"), nil
		}
		return resultJSON(deps.Debugger.Attach(ctx, pid)), nil
	}
}

func runHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		cmdArgs := argString(args, "args", "")
		start := argBool(args, "start", false)
		return resultJSON(deps.Debugger.Run(ctx, cmdArgs, start)), nil
	}
}

func stepControlHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return resultJSON(deps.Debugger.StepControl(ctx, command)), nil
	}
}

func finishHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return resultJSON(deps.Debugger.Finish(ctx)), nil
	}
}

func jumpHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		loc, err := req.RequireString("location")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return resultJSON(deps.Debugger.Jump(ctx, loc)), nil
	}
}

func returnFromFunctionHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return resultJSON(deps.Debugger.ReturnFromFunction(ctx)), nil
	}
}

func untilHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		loc := req.GetString("location", "")
		return resultJSON(deps.Debugger.Until(ctx, loc)), nil
	}
}

func getContextHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := req.RequireString("context_type")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return resultJSON(deps.Debugger.GetContext(ctx, kind)), nil
	}
}

func setBreakpointHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		loc, err := req.RequireString("location")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cond := req.GetString("condition", "")
		return resultJSON(deps.Debugger.SetBreakpoint(ctx, loc, cond)), nil
	}
}

func listBreakpointsHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return resultJSON(deps.Debugger.ListBreakpoints(ctx)), nil
	}
}

func deleteBreakpointHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		number := argInt(args, "number", 0)
		return resultJSON(deps.Debugger.DeleteBreakpoint(ctx, number)), nil
	}
}

func toggleBreakpointHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		number := argInt(args, "number", 0)
		enabled := argBool(args, "enabled", true)
		var outcome controller.CommandOutcome
		if enabled {
			outcome = deps.Debugger.EnableBreakpoint(ctx, number)
		} else {
			outcome = deps.Debugger.DisableBreakpoint(ctx, number)
		}
		return resultJSON(outcome), nil
	}
}

func getMemoryHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		addr, err := req.RequireString("address")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		format, err := req.RequireString("format")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := req.GetArguments()
		size := argInt(args, "size", 0)
		if size < 0 {
			return mcp.NewToolResultError("size must be >= 0"), nil
		}
		result := deps.Debugger.GetMemory(ctx, addr, size, format)
		return resultJSON(struct {
			Outcome controller.CommandOutcome `json:"outcome"`
			HexBody string                    `json:"hex_body,omitempty"`
		}{
			Outcome: result.Outcome,
			HexBody: fmt.Sprintf("%x", result.Bytes),
		}), nil
	}
}

func getSessionInfoHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return resultJSON(deps.Debugger.GetSessionInfo()), nil
	}
}

func runCommandHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cwd := req.GetString("cwd", "")
		args := req.GetArguments()
		timeoutSec := argInt(args, "timeout", 30)
		outcome := deps.Subprocess.Run(ctx, command, cwd, nil, time.Duration(timeoutSec)*time.Second)
		return resultJSON(outcome), nil
	}
}

func spawnProcessHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cwd := req.GetString("cwd", "")
		var env map[string]string
		if raw := req.GetString("env_json", ""); raw != "" {
			if jerr := json.Unmarshal([]byte(raw), &env); jerr != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid env_json: %v", jerr)), nil
			}
		}
		outcome, err := deps.Subprocess.Spawn(ctx, command, cwd, env)
		if err != nil {
			return resultJSON(struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}{false, err.Error()}), nil
		}
		return resultJSON(outcome), nil
	}
}

func getProcessHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		pid := argInt(args, "pid", 0)
		info, ok := deps.Subprocess.Get(pid)
		if !ok {
			return resultJSON(struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}{false, "process_not_found"}), nil
		}
		return resultJSON(info), nil
	}
}

func killProcessHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		pid := argInt(args, "pid", 0)
		sig := argInt(args, "signal", int(syscall.SIGTERM))
		if err := deps.Subprocess.Kill(pid, syscall.Signal(sig)); err != nil {
			return resultJSON(struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}{false, err.Error()}), nil
		}
		return resultJSON(struct {
			Success bool `json:"success"`
		}{true}), nil
	}
}

func listProcessesHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return resultJSON(deps.Subprocess.List()), nil
	}
}

func pwncliHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		file, err := req.RequireString("file")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		argument := req.GetString("argument", "")

		pipe, startErr := deps.Pipe.Start(ctx, file, argument)
		if startErr != nil {
			return resultJSON(struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}{false, startErr.Error()}), nil
		}

		condition := pipe.WaitReady(deps.ReadyTimeout)
		attachResult, _ := pipe.AttachResult()
		return resultJSON(struct {
			Success   bool           `json:"success"`
			Condition string         `json:"condition"`
			Attachment struct {
				Result map[string]any `json:"result,omitempty"`
			} `json:"attachment"`
		}{
			Success:   true,
			Condition: string(condition),
			Attachment: struct {
				Result map[string]any `json:"result,omitempty"`
			}{Result: attachResult},
		}), nil
	}
}

func sendInputHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := req.RequireString("data")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		pipe := deps.Pipe.Current()
		if pipe == nil {
			return resultJSON(struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}{false, "no_pipe"}), nil
		}
		if err := pipe.Send([]byte(data)); err != nil {
			return resultJSON(struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}{false, err.Error()}), nil
		}
		return resultJSON(struct {
			Success bool `json:"success"`
		}{true}), nil
	}
}

func checkOutputHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pipe := deps.Pipe.Current()
		if pipe == nil {
			return resultJSON(struct {
				Output string `json:"output"`
			}{""}), nil
		}
		return resultJSON(struct {
			Output string `json:"output"`
		}{pipe.Release()}), nil
	}
}

func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
