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

package mcp

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
	"github.com/bjeremy23/jibberish/internal/mcp"
)

// NewServersCommand creates the servers command group.
func NewServersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect configured MCP servers",
		Annotations: map[string]string{
			"group": "tools",
		},
		Long: `Commands for the MCP servers file (default ~/.jbrsh-mcp-servers.json).

Each entry names a command: "docker" runs a fresh container per call, an
http(s) URL posts JSON-RPC requests, anything else is a local executable.`,
	}

	cmd.AddCommand(newServersListCommand())
	cmd.AddCommand(newServersCheckCommand())

	return cmd
}

func newServersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		Long: `List the servers in the servers file without contacting them.

Environment values are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serversList(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

type serverJSON struct {
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Transport   string            `json:"transport"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env,omitempty"`
	Prefix      string            `json:"tool_prefix"`
	Description string            `json:"description,omitempty"`
}

type serversListResponse struct {
	shared.JSONResponse
	Path    string       `json:"path"`
	Servers []serverJSON `json:"servers"`
	Invalid []string     `json:"invalid,omitempty"`
}

func serversList(ctx context.Context, out io.Writer) error {
	rt, err := shared.NewRuntime(ctx, shared.RuntimeOptions{SkipProvider: true, SkipDiscovery: true, SkipHistory: true})
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	servers := rt.Manager.Servers()

	if shared.GetJSON() {
		resp := serversListResponse{
			JSONResponse: shared.NewJSONResponse("servers list"),
			Path:         rt.ServersPath,
			Servers:      []serverJSON{},
		}
		for _, s := range servers {
			resp.Servers = append(resp.Servers, serverJSON{
				Name:        s.Name,
				Enabled:     s.Enabled,
				Transport:   string(s.Transport),
				Command:     s.Command,
				Args:        append([]string{}, s.Args...),
				Env:         mcp.RedactEnv(s.Env),
				Prefix:      s.ToolPrefix,
				Description: s.Description,
			})
		}
		for _, perr := range rt.ParseErrors {
			resp.Invalid = append(resp.Invalid, perr.Error())
		}
		return shared.EmitJSON(out, resp)
	}

	if len(servers) == 0 && len(rt.ParseErrors) == 0 {
		fmt.Fprintf(out, "No MCP servers configured in %s\n", rt.ServersPath)
		return nil
	}

	fmt.Fprintf(out, "%-20s %-8s %-10s %-16s %s\n", "NAME", "ENABLED", "TRANSPORT", "PREFIX", "COMMAND")
	for _, s := range servers {
		fmt.Fprintf(out, "%-20s %-8t %-10s %-16s %s\n", s.Name, s.Enabled, s.Transport, s.ToolPrefix, commandLine(s))
		if env := mcp.RedactEnv(s.Env); len(env) > 0 {
			fmt.Fprintf(out, "%-20s %s %s\n", "", shared.RenderLabel("env:"), formatEnv(env))
		}
	}
	for _, perr := range rt.ParseErrors {
		fmt.Fprintln(out, shared.RenderWarn(perr.Error()))
	}
	return nil
}

func newServersCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run discovery and report each server",
		Long: `Check contacts every enabled server with tools/list and reports how many
tools it contributed. A failing server never affects the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serversCheck(cmd.Context(), cmd.OutOrStdout(), shared.RuntimeOptions{SkipProvider: true, SkipHistory: true})
		},
	}
}

type serverReportJSON struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Status    string   `json:"status"`
	Tools     []string `json:"tools"`
	Skipped   int      `json:"skipped"`
	Error     string   `json:"error,omitempty"`
}

type serversCheckResponse struct {
	shared.JSONResponse
	Servers    []serverReportJSON `json:"servers"`
	ToolCount  int                `json:"tool_count"`
	DurationMS int64              `json:"duration_ms"`
}

func serversCheck(ctx context.Context, out io.Writer, opts shared.RuntimeOptions) error {
	rt, err := shared.NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	report := rt.Report
	if report == nil {
		report = &mcp.DiscoveryReport{}
	}

	if shared.GetJSON() {
		resp := serversCheckResponse{
			JSONResponse: shared.NewJSONResponse("servers check"),
			Servers:      []serverReportJSON{},
			ToolCount:    report.ToolCount(),
			DurationMS:   report.Duration.Milliseconds(),
		}
		for _, s := range report.Servers {
			entry := serverReportJSON{
				Name:      s.Name,
				Transport: string(s.Transport),
				Status:    string(s.Status),
				Tools:     append([]string{}, s.Tools...),
				Skipped:   s.Skipped,
			}
			if s.Err != nil {
				entry.Error = s.Err.Error()
			}
			resp.Servers = append(resp.Servers, entry)
		}
		return shared.EmitJSON(out, resp)
	}

	if len(report.Servers) == 0 {
		fmt.Fprintf(out, "No MCP servers configured in %s\n", rt.ServersPath)
		return nil
	}

	for _, s := range report.Servers {
		line := fmt.Sprintf("%s %s (%s)", s.Name, shared.RenderStatus(s.Status == mcp.StatusReady, string(s.Status)), s.Transport)
		switch s.Status {
		case mcp.StatusReady:
			line += fmt.Sprintf(": %d tools", len(s.Tools))
			if s.Skipped > 0 {
				line += fmt.Sprintf(", %d skipped", s.Skipped)
			}
		case mcp.StatusDisabled:
		default:
			if s.Err != nil {
				line += ": " + s.Err.Error()
			}
		}
		fmt.Fprintln(out, line)
		if shared.GetVerbose() {
			for _, name := range s.Tools {
				fmt.Fprintf(out, "    %s %s\n", shared.SymbolInfo, name)
			}
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d tools from %d servers in %s\n", report.ToolCount(), len(report.Servers), report.Duration.Round(time.Millisecond))
	return nil
}

func commandLine(s mcp.ServerConfig) string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

func formatEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+env[k])
	}
	return strings.Join(parts, " ")
}
