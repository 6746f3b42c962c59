package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
	"unicode/utf8"

	"helmsman/internal/dispatch"
	"helmsman/internal/logging"
)

const maxShellOutput = 50000

// RunShellTool returns the asynchronous shell-execution tool. The command
// runs in its own goroutine; the dispatcher awaits the outcome channel so
// long-running commands still honor context cancellation.
func RunShellTool() *dispatch.Tool {
	return dispatch.NewAsyncTool("run_shell", "Execute a shell command and return its output", startRunShell)
}

func startRunShell(ctx context.Context, args map[string]any) (<-chan dispatch.Outcome, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("%w: command is required", dispatch.ErrInvalidParams)
	}

	workingDir, _ := args["working_dir"].(string)

	timeout := 60
	if t, ok := intArg(args, "timeout_seconds"); ok && t > 0 {
		timeout = t
	}

	logging.ToolsDebug("run_shell: cmd=%s, dir=%s, timeout=%ds", command, workingDir, timeout)

	out := make(chan dispatch.Outcome, 1)
	go func() {
		defer close(out)
		result, err := runShell(ctx, command, workingDir, timeout, args)
		out <- dispatch.Outcome{Result: result, Err: err}
	}()
	return out, nil
}

func runShell(ctx context.Context, command, workingDir string, timeout int, args map[string]any) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	}

	if workingDir != "" {
		cmd.Dir = workingDir
	}

	cmd.Env = os.Environ()
	if envMap, ok := args["env"].(map[string]any); ok {
		for k, v := range envMap {
			if vs, ok := v.(string); ok {
				cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, vs))
			}
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}

	if len(output) > maxShellOutput {
		cut := maxShellOutput
		for cut > 0 && !utf8.RuneStart(output[cut]) {
			cut--
		}
		output = output[:cut] + "\n...[truncated]"
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("command timed out after %d seconds", timeout)
		}
		logging.Tools("run_shell failed: %s (%v)", command, err)
		return output, fmt.Errorf("command failed: %w", err)
	}

	logging.Tools("run_shell completed: %s (%d bytes output)", command, len(output))
	return output, nil
}
