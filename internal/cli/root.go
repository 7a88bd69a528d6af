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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
)

// Command groups, matched against the "group" annotation of subcommands.
var groups = []*cobra.Group{
	{ID: "execution", Title: "Asking:"},
	{ID: "tools", Title: "Tools and servers:"},
	{ID: "management", Title: "Management:"},
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for jibberish
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jibberish",
		Short: "jibberish - ask questions, let the model use your tools",
		Long: `jibberish sends questions to an OpenAI-compatible model and lets it call
tools: read_file, write_file and linux_command locally, plus every tool
discovered from the MCP servers in ~/.jbrsh-mcp-servers.json (docker, local
processes or HTTP endpoints).

The model requests a tool with one of these forms:
  TOOL_CALL: name(key="value")
  USE_TOOL: name {"key": "value"}
  [TOOL] name: key=value
or a json code block holding {"tool_calls": [{"name": ..., "arguments": {...}}]},
and may call at most 3 tools per question.

Set JIBBERISH_DEBUG=true for discovery and dispatch diagnostics.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	verbose, quiet, json, config := shared.RegisterFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Show tool invocations and info-level logs")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/jibberish/config.yaml)")

	cmd.AddGroup(groups...)
	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// AddCommands attaches subcommands, placing each in the group named by its
// "group" annotation.
func AddCommands(root *cobra.Command, cmds ...*cobra.Command) {
	known := make(map[string]bool, len(groups))
	for _, g := range root.Groups() {
		known[g.ID] = true
	}
	for _, c := range cmds {
		if id := c.Annotations["group"]; known[id] {
			c.GroupID = id
		}
		root.AddCommand(c)
	}
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
