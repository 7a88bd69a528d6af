package builtin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bjeremy23/jibberish/pkg/tools"
)

// maxUnboundedRead is the largest file read_file returns without max_lines.
const maxUnboundedRead = 1024 * 1024

// maxLineLength bounds a single scanned line.
const maxLineLength = 4 * 1024 * 1024

// ReadFileTool returns file contents with a metadata header.
type ReadFileTool struct {
	maxFileSize int64
}

// NewReadFileTool creates a read_file tool with the 1 MiB unbounded-read limit.
func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{maxFileSize: maxUnboundedRead}
}

// Name returns the tool identifier.
func (t *ReadFileTool) Name() string {
	return "read_file"
}

// Description returns a human-readable description.
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file and return them as text. Useful for examining source code, configuration files, logs, or any text-based files."
}

// Schema returns the tool's argument schema.
func (t *ReadFileTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"filepath": {
					Type:        "string",
					Description: "The path to the file to read. Absolute, relative to the working directory, or starting with ~.",
				},
				"max_lines": {
					Type:        "integer",
					Description: "Maximum number of lines to read. Required for files larger than 1 MB.",
				},
				"start_line": {
					Type:        "integer",
					Description: "Line number to start reading from (1-based).",
					Default:     1,
				},
			},
			Required: []string{"filepath"},
		},
	}
}

// Execute reads the requested window of the file.
func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	path, err := getStringParam(args, "filepath")
	if err != nil {
		return tools.Failed(err.Error()), nil
	}
	maxLines, hasMax, err := getIntParam(args, "max_lines")
	if err != nil {
		return tools.Failed(err.Error()), nil
	}
	startLine, hasStart, err := getIntParam(args, "start_line")
	if err != nil {
		return tools.Failed(err.Error()), nil
	}
	if !hasStart || startLine < 1 {
		startLine = 1
	}

	expanded := expandPath(path)
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return tools.Failed(fmt.Sprintf("File '%s' does not exist.", path)), nil
		}
		if os.IsPermission(err) {
			return tools.Failed(fmt.Sprintf("Cannot read file '%s' - permission denied.", path)), nil
		}
		return tools.Failed(fmt.Sprintf("Failed to read file '%s': %v", path, err)), nil
	}
	if info.IsDir() {
		return tools.Failed(fmt.Sprintf("'%s' is not a file.", path)), nil
	}
	if !hasMax && info.Size() > t.maxFileSize {
		return tools.Failed(fmt.Sprintf(
			"File '%s' is very large (%d bytes). Please specify max_lines parameter to limit output.",
			path, info.Size())), nil
	}

	f, err := os.Open(expanded)
	if err != nil {
		if os.IsPermission(err) {
			return tools.Failed(fmt.Sprintf("Cannot read file '%s' - permission denied.", path)), nil
		}
		return tools.Failed(fmt.Sprintf("Failed to read file '%s': %v", path, err)), nil
	}
	defer f.Close()

	limit := -1
	if hasMax {
		limit = maxLines
	}
	content, shown, total, err := readWindow(ctx, f, startLine, limit)
	if err != nil {
		if err == errBinary {
			return tools.Failed(fmt.Sprintf("File '%s' contains binary data or uses an unsupported encoding.", path)), nil
		}
		return tools.Failed(fmt.Sprintf("Failed to read file '%s': %v", path, err)), nil
	}

	if total > 0 && startLine > total {
		return tools.Failed(fmt.Sprintf("start_line %d is beyond the file length (%d lines).", startLine, total)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== File: %s ===\n", path)
	fmt.Fprintf(&b, "=== Lines %d-%d of %d total ===\n\n", startLine, startLine+shown-1, total)
	b.WriteString(content)
	return tools.OK(b.String()), nil
}

var errBinary = fmt.Errorf("binary content")

// readWindow scans r and returns up to limit lines starting at startLine
// (1-based), the number of lines returned and the total line count.
// A negative limit reads to the end.
func readWindow(ctx context.Context, r io.Reader, startLine, limit int) (string, int, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	var b strings.Builder
	shown, total := 0, 0
	for scanner.Scan() {
		total++
		if total%4096 == 0 && ctx.Err() != nil {
			return "", 0, 0, ctx.Err()
		}
		line := scanner.Bytes()
		if bytes.IndexByte(line, 0) >= 0 {
			return "", 0, 0, errBinary
		}
		if total < startLine || (limit >= 0 && shown >= limit) {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
		shown++
	}
	if err := scanner.Err(); err != nil {
		return "", 0, 0, err
	}
	return b.String(), shown, total, nil
}

// WriteFileTool writes or appends content to a file.
type WriteFileTool struct{}

// NewWriteFileTool creates a write_file tool.
func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// Name returns the tool identifier.
func (t *WriteFileTool) Name() string {
	return "write_file"
}

// ArgumentAliases accepts the path names models commonly use for filepath.
func (t *WriteFileTool) ArgumentAliases() map[string]string {
	return map[string]string{"path": "filepath", "file_path": "filepath"}
}

// Description returns a human-readable description.
func (t *WriteFileTool) Description() string {
	return "Write text content to a file, creating parent directories as needed. Set append to true to add to the end of an existing file."
}

// Schema returns the tool's argument schema.
func (t *WriteFileTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"filepath": {
					Type:        "string",
					Description: "The path of the file to write.",
				},
				"content": {
					Type:        "string",
					Description: "The text to write.",
				},
				"append": {
					Type:        "boolean",
					Description: "Append instead of overwriting.",
					Default:     false,
				},
			},
			Required: []string{"filepath", "content"},
		},
	}
}

// Execute writes the file.
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	path, err := getStringParam(args, "filepath")
	if err != nil {
		return tools.Failed(err.Error()), nil
	}
	content, err := getStringParam(args, "content")
	if err != nil {
		return tools.Failed(err.Error()), nil
	}
	appendMode, err := getBoolParam(args, "append")
	if err != nil {
		return tools.Failed(err.Error()), nil
	}

	expanded := expandPath(path)
	if info, err := os.Stat(expanded); err == nil && info.IsDir() {
		return tools.Failed(fmt.Sprintf("'%s' is a directory.", path)), nil
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return tools.Failed(fmt.Sprintf("Failed to create directory for '%s': %v", path, err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	verb := "wrote"
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		verb = "appended"
	}

	f, err := os.OpenFile(expanded, flags, 0o644)
	if err != nil {
		return tools.Failed(fmt.Sprintf("Failed to open '%s' for writing: %v", path, err)), nil
	}
	n, werr := f.WriteString(content)
	cerr := f.Close()
	if werr != nil {
		return tools.Failed(fmt.Sprintf("Failed to write '%s': %v", path, werr)), nil
	}
	if cerr != nil {
		return tools.Failed(fmt.Sprintf("Failed to close '%s': %v", path, cerr)), nil
	}

	return tools.OK(fmt.Sprintf("Successfully %s %d bytes to %s", verb, n, path)), nil
}
