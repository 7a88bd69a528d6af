// Package builtin provides the local tools: file reading, file writing and
// shell command execution.
package builtin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bjeremy23/jibberish/pkg/tools"
	"github.com/bjeremy23/jibberish/pkg/tools/approval"
)

// getStringParam extracts a required string argument.
func getStringParam(args map[string]any, name string) (string, error) {
	val, exists := args[name]
	if !exists || val == nil {
		return "", fmt.Errorf("%s is required", name)
	}
	switch v := val.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// getIntParam extracts an integer argument. Returns the value, whether it
// was present, and any validation error. Model output may carry numbers as
// int64, float64, json.Number or numeric strings.
func getIntParam(args map[string]any, name string) (int, bool, error) {
	val, exists := args[name]
	if !exists || val == nil {
		return 0, false, nil
	}

	var n int64
	switch v := val.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != float64(int64(v)) {
			return 0, false, fmt.Errorf("%s must be an integer, got %v", name, v)
		}
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("%s must be an integer, got %s", name, v)
		}
		n = i
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s must be an integer, got %q", name, v)
		}
		n = i
	default:
		return 0, false, fmt.Errorf("%s must be an integer, got %T", name, val)
	}

	if n < 0 {
		return 0, false, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return int(n), true, nil
}

// getBoolParam extracts a boolean argument, defaulting to false.
func getBoolParam(args map[string]any, name string) (bool, error) {
	val, exists := args[name]
	if !exists || val == nil {
		return false, nil
	}
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean, got %q", name, v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s must be a boolean, got %T", name, val)
	}
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Options configures the local tool set.
type Options struct {
	// Launcher runs linux_command commands. Defaults to a sh -c launcher.
	Launcher CommandLauncher

	// Approver is consulted before linux_command runs when RequireApproval
	// is set.
	Approver approval.Approver

	// RequireApproval asks Approver before every command.
	RequireApproval bool
}

// Register adds read_file, write_file and linux_command to the registry,
// in that order.
func Register(registry *tools.Registry, opts Options) error {
	for _, tool := range []tools.Tool{
		NewReadFileTool(),
		NewWriteFileTool(),
		NewLinuxCommandTool(opts.Launcher, opts.Approver, opts.RequireApproval),
	} {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("registering local tool %s: %w", tool.Name(), err)
		}
	}
	return nil
}
