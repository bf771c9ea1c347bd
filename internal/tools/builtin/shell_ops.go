package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"coil/internal/logging"
	"coil/internal/tools"
)

// maxShellOutput caps what one command can feed back into the
// conversation.
const maxShellOutput = 50000

// ShellTool returns a tool for executing shell commands.
func ShellTool() *tools.Tool {
	return &tools.Tool{
		Name:        "shell",
		Description: "Execute a shell command and return its output",
		Category:    tools.CategoryShell,
		Execute:     executeShell,
		Schema: tools.Schema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {
					Type:        "string",
					Description: "The command to execute",
				},
				"working_dir": {
					Type:        "string",
					Description: "Working directory for the command",
				},
				"timeout_seconds": {
					Type:        "integer",
					Description: "Timeout in seconds (default: 60)",
					Default:     60,
				},
			},
		},
	}
}

func executeShell(ctx context.Context, args map[string]any) (string, error) {
	command := stringArg(args, "command")
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	workingDir := stringArg(args, "working_dir")
	timeout := intArg(args, "timeout_seconds", 60)
	if timeout <= 0 {
		timeout = 60
	}

	logging.ToolsDebug("shell: cmd=%s, dir=%s, timeout=%ds", command, workingDir, timeout)

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
		output = output[:maxShellOutput] + "\n...[truncated]"
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %d seconds", timeout)
		}
		logging.ToolsWarn("shell failed: %s (%v)", command, err)
		return "", fmt.Errorf("command failed: %w\nOutput:\n%s", err, output)
	}

	logging.Tools("shell completed: %s (%d bytes output)", command, len(output))
	return output, nil
}
