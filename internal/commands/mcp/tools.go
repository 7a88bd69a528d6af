// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcp implements the 'tools' and 'servers' commands.
package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
	"github.com/bjeremy23/jibberish/internal/jq"
	"github.com/bjeremy23/jibberish/pkg/errors"
	"github.com/bjeremy23/jibberish/pkg/toolcall"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// NewToolsCommand creates the tools command group.
func NewToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and invoke registered tools",
		Annotations: map[string]string{
			"group": "tools",
		},
		Long: `Commands for inspecting the tool registry and calling tools directly.

The registry holds the built-in tools plus every tool discovered from the
MCP servers file. Remote tools are named <prefix>_<tool>.`,
	}

	cmd.AddCommand(newToolsListCommand())
	cmd.AddCommand(newToolsCallCommand())

	return cmd
}

func newToolsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tools with their origin",
		Example: `  # Example 1: List every tool
  jibberish tools list

  # Example 2: Names of remote tools only
  jibberish tools list --json | jq -r '.tools[] | select(.server != "") | .name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return toolsList(cmd.Context(), cmd.OutOrStdout(), shared.RuntimeOptions{SkipProvider: true, SkipHistory: true})
		},
	}
}

type toolsListResponse struct {
	shared.JSONResponse
	Tools []tools.ToolDescriptor `json:"tools"`
}

func toolsList(ctx context.Context, out io.Writer, opts shared.RuntimeOptions) error {
	rt, err := shared.NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	descriptors := rt.Registry.Descriptors()

	if shared.GetJSON() {
		resp := toolsListResponse{
			JSONResponse: shared.NewJSONResponse("tools list"),
			Tools:        descriptors,
		}
		if resp.Tools == nil {
			resp.Tools = []tools.ToolDescriptor{}
		}
		return shared.EmitJSON(out, resp)
	}

	fmt.Fprintf(out, "%-32s %-16s %s\n", "NAME", "ORIGIN", "DESCRIPTION")
	for _, d := range descriptors {
		origin := d.Server
		if origin == "" {
			origin = "local"
		}
		fmt.Fprintf(out, "%-32s %-16s %s\n", d.Name, origin, firstLine(d.Description))
	}
	if len(descriptors) == 0 {
		fmt.Fprintln(out, "No tools registered.")
	}
	return nil
}

func newToolsCallCommand() *cobra.Command {
	var (
		rawArgs string
		filter  string
	)

	cmd := &cobra.Command{
		Use:   "call <name> [key=value...]",
		Short: "Invoke one tool directly",
		Long: `Call runs a single tool without involving the model.

Arguments are given as key=value pairs and coerced the same way as the
model's [TOOL] syntax: numbers, true/false and null are typed, quoted values
stay strings. --args takes a JSON object instead.

--jq filters the tool output when it is JSON.`,
		Example: `  # Example 1: Read a file
  jibberish tools call read_file filepath=go.mod max_lines=5

  # Example 2: JSON arguments
  jibberish tools call github_search_repositories --args '{"query": "mcp"}'

  # Example 3: Filter JSON output
  jibberish tools call github_search_repositories query=mcp --jq '.items[].full_name'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			callArgs, err := parseCallArgs(args[0], args[1:], rawArgs)
			if err != nil {
				return err
			}
			return toolsCall(ctx, cmd.OutOrStdout(), args[0], callArgs, filter, shared.RuntimeOptions{SkipProvider: true})
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringVar(&filter, "jq", "", "jq expression applied to JSON output")

	return cmd
}

// parseCallArgs builds the argument map from key=value pairs or --args. The
// pairs go through the tool-call grammar so values are typed exactly as a
// model-issued call would be.
func parseCallArgs(name string, pairs []string, rawJSON string) (map[string]any, error) {
	if rawJSON != "" && len(pairs) > 0 {
		return nil, &errors.ValidationError{Field: "args", Message: "use either --args or key=value pairs, not both"}
	}

	var text string
	if rawJSON != "" {
		text = toolcall.MarkerStructured + " " + name + " " + rawJSON
	} else {
		text = toolcall.MarkerTagged + " " + name
		if len(pairs) > 0 {
			text += ": " + strings.Join(pairs, ", ")
		}
	}

	req, ok := toolcall.Parse(text)
	if !ok || req.ToolName != name {
		return nil, &errors.ValidationError{
			Field:      "args",
			Message:    "arguments could not be parsed",
			Suggestion: "Use key=value pairs or a JSON object with --args",
		}
	}
	return req.Arguments, nil
}

type toolsCallResponse struct {
	shared.JSONResponse
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments"`
	Status     tools.Status   `json:"status"`
	Output     string         `json:"output"`
	DurationMS int64          `json:"duration_ms"`
}

func toolsCall(ctx context.Context, out io.Writer, name string, args map[string]any, filter string, opts shared.RuntimeOptions) error {
	executor := jq.NewExecutor(5*time.Second, 0)
	if filter != "" {
		if err := executor.Validate(filter); err != nil {
			return err
		}
	}

	rt, err := shared.NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	tool, err := rt.Registry.Get(name)
	if err != nil {
		return shared.NewExecutionError("unknown tool", err)
	}
	args = tools.NormalizeArgs(tool, args)
	if err := tools.ValidateArgs(tool, args); err != nil {
		return shared.NewExecutionError("invalid arguments", err)
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	if err != nil {
		result = tools.FromError(err)
	}
	if result == nil {
		result = tools.Failed("tool returned no result")
	}
	elapsed := time.Since(start)

	output := result.Text()
	if filter != "" && !result.IsError() {
		filtered, err := executor.FilterText(ctx, filter, result.Output)
		if err != nil {
			return shared.NewExecutionError("jq filter failed", err)
		}
		output = filtered
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(out, toolsCallResponse{
			JSONResponse: shared.NewJSONResponse("tools call"),
			Tool:         name,
			Arguments:    args,
			Status:       result.Status,
			Output:       output,
			DurationMS:   elapsed.Milliseconds(),
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, strings.TrimRight(output, "\n"))
	}

	if result.IsError() {
		return shared.NewExecutionError(fmt.Sprintf("tool %s failed", name), nil)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if len(line) > 80 {
		return line[:77] + "..."
	}
	return line
}
