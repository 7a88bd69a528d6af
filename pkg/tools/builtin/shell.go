package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bjeremy23/jibberish/pkg/tools"
	"github.com/bjeremy23/jibberish/pkg/tools/approval"
)

// DefaultCommandTimeout bounds a single linux_command run.
const DefaultCommandTimeout = 2 * time.Minute

// CancelledMessage is returned when the user declines a command.
const CancelledMessage = "Command execution cancelled by user"

// CommandLauncher runs a shell command line and returns its combined output
// and exit code. err is set only when the command could not be run at all.
type CommandLauncher interface {
	Launch(ctx context.Context, command string) (output string, exitCode int, err error)
}

// ShellLauncher runs commands with sh -c.
type ShellLauncher struct {
	Shell   string
	Timeout time.Duration
	Dir     string
}

// NewShellLauncher creates a launcher using sh with the default timeout.
func NewShellLauncher() *ShellLauncher {
	return &ShellLauncher{Shell: "sh", Timeout: DefaultCommandTimeout}
}

// Launch implements CommandLauncher.
func (l *ShellLauncher) Launch(ctx context.Context, command string) (string, int, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	shell := l.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = l.Dir
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), -1, fmt.Errorf("command timed out after %v", l.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode(), nil
		}
		return out.String(), -1, fmt.Errorf("failed to run command: %w", err)
	}
	return out.String(), 0, nil
}

// LinuxCommandTool runs a shell command requested by the model.
type LinuxCommandTool struct {
	launcher        CommandLauncher
	approver        approval.Approver
	requireApproval bool
}

// NewLinuxCommandTool creates a linux_command tool. A nil launcher uses
// sh -c. A nil approver declines whenever approval is required.
func NewLinuxCommandTool(launcher CommandLauncher, approver approval.Approver, requireApproval bool) *LinuxCommandTool {
	if launcher == nil {
		launcher = NewShellLauncher()
	}
	if approver == nil {
		approver = approval.Static(false)
	}
	return &LinuxCommandTool{
		launcher:        launcher,
		approver:        approver,
		requireApproval: requireApproval,
	}
}

// Name returns the tool identifier.
func (t *LinuxCommandTool) Name() string {
	return "linux_command"
}

// Description returns a human-readable description.
func (t *LinuxCommandTool) Description() string {
	return "Execute a Linux shell command and return its output. Multiple lines are joined with &&."
}

// Schema returns the tool's argument schema.
func (t *LinuxCommandTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"command": {
					Type:        "string",
					Description: "The shell command to execute.",
				},
			},
			Required: []string{"command"},
		},
	}
}

// Execute normalizes the command, asks for approval when required and runs it.
func (t *LinuxCommandTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	raw, err := getStringParam(args, "command")
	if err != nil {
		return tools.Failed(err.Error()), nil
	}

	command := NormalizeCommand(raw)
	if command == "" {
		return tools.Failed("command is empty"), nil
	}

	if t.requireApproval {
		ok, err := t.approver.Approve(ctx, t.Name(), command)
		if err != nil {
			return tools.Failed(err.Error()), nil
		}
		if !ok {
			return tools.OK(CancelledMessage), nil
		}
	}

	out, code, err := t.launcher.Launch(ctx, command)
	if err != nil {
		if out != "" {
			return tools.Failed(fmt.Sprintf("%v\n%s", err, out)), nil
		}
		return tools.Failed(err.Error()), nil
	}
	if code != 0 {
		if strings.TrimSpace(out) == "" {
			out = fmt.Sprintf("command exited with status %d", code)
		}
		return tools.Failed(out), nil
	}
	return tools.OK("SUCCESS: " + out), nil
}

// NormalizeCommand turns model-written command text into a single shell line.
// Markdown code fences and comment lines are removed, backslash
// continuations are folded and the remaining lines are joined with " && ".
func NormalizeCommand(command string) string {
	lines := strings.Split(strings.ReplaceAll(command, "\r\n", "\n"), "\n")

	var (
		out     []string
		pending string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		if pending == "" && (trimmed == "" || strings.HasPrefix(trimmed, "#")) {
			continue
		}
		if strings.HasSuffix(trimmed, "\\") {
			pending += strings.TrimSpace(strings.TrimSuffix(trimmed, "\\")) + " "
			continue
		}
		out = append(out, pending+trimmed)
		pending = ""
	}
	if p := strings.TrimSpace(pending); p != "" {
		out = append(out, p)
	}

	return strings.Join(out, " && ")
}
