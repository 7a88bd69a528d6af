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

// Package management implements commands over local state such as the
// tool invocation history.
package management

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
	"github.com/bjeremy23/jibberish/internal/config"
	"github.com/bjeremy23/jibberish/internal/history"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// NewHistoryCommand creates the history command group. Without a
// subcommand it lists recent invocations.
func NewHistoryCommand() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use: "history",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "View tool invocation history",
		Long: `Every tool call made during ask and chat is recorded in a local SQLite
database (history.path, default ~/.config/jibberish/history.db). Arguments and
output are stored with secrets redacted.

See also: jibberish ask, jibberish chat`,
		Example: `  # Example 1: Last 20 invocations
  jibberish history

  # Example 2: Failed calls of one tool in the last day
  jibberish history --tool linux_command --since 24h --failed

  # Example 3: Drop entries older than 30 days
  jibberish history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return historyList(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum number of entries")
	cmd.Flags().StringVar(&opts.tool, "tool", "", "Only show invocations of this tool")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only show invocations newer than this (e.g. 1h, 24h)")
	cmd.Flags().BoolVar(&opts.failed, "failed", false, "Only show failed invocations")

	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

type listOptions struct {
	limit  int
	tool   string
	since  time.Duration
	failed bool
}

// openStore opens the configured history database.
func openStore(ctx context.Context) (*history.Store, error) {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return nil, shared.NewConfigError("failed to load configuration", err)
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, shared.NewConfigError("failed to resolve history path", err)
	}
	store, err := history.Open(ctx, path)
	if err != nil {
		return nil, shared.NewExecutionError("failed to open history", err)
	}
	return store, nil
}

type historyEntryJSON struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Server     string         `json:"server,omitempty"`
	Syntax     string         `json:"syntax,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Status     string         `json:"status"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
}

type historyListResponse struct {
	shared.JSONResponse
	Entries []historyEntryJSON `json:"entries"`
}

func historyList(ctx context.Context, out io.Writer, opts listOptions) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	query := history.ListOptions{Limit: opts.limit, Tool: opts.tool}
	if opts.since > 0 {
		query.Since = time.Now().Add(-opts.since)
	}
	if opts.failed {
		query.Status = string(tools.StatusError)
	}
	entries, err := store.List(ctx, query)
	if err != nil {
		return shared.NewExecutionError("failed to read history", err)
	}

	if shared.GetJSON() {
		resp := historyListResponse{
			JSONResponse: shared.NewJSONResponse("history"),
			Entries:      []historyEntryJSON{},
		}
		for _, e := range entries {
			resp.Entries = append(resp.Entries, historyEntryJSON(e))
		}
		return shared.EmitJSON(out, resp)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No tool invocations recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-28s %-7s %8s  %s\n", "TIME", "TOOL", "STATUS", "DURATION", "ARGUMENTS")
	for _, e := range entries {
		fmt.Fprintf(out, "%-20s %-28s %-7s %8s  %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.Tool,
			e.Status,
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			formatArgs(e.Arguments),
		)
		if shared.GetVerbose() {
			detail := e.Output
			if e.Error != "" {
				detail = e.Error
			}
			for _, line := range strings.Split(strings.TrimRight(detail, "\n"), "\n") {
				fmt.Fprintf(out, "    %s\n", shared.Muted.Render(line))
			}
		}
	}
	return nil
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return shared.NewExecutionError("--older-than must be positive", nil)
			}
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return shared.NewExecutionError("failed to prune history", err)
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("removed %d entries", n)))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete entries older than this")

	return cmd
}

// formatArgs renders arguments compactly, sorted by key.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	s := strings.Join(parts, " ")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
