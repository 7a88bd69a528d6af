// Copyright 2025 The jibberish Authors
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

// Package ask implements the one-shot 'jibberish ask' command.
package ask

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
	"github.com/bjeremy23/jibberish/pkg/agent"
)

// NewCommand creates the ask command.
func NewCommand() *cobra.Command {
	var (
		dryRun bool
		script []string
	)

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask one question, letting the model call tools",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Ask sends one question to the model with the registered tools described
in a system message. The model may call up to 3 tools before the answer is
printed.

Tools come from the built-in set (read_file, write_file, linux_command) and
every MCP server in the servers file.

See also: jibberish chat, jibberish tools list`,
		Example: `  # Example 1: Ask a question
  jibberish ask what is using port 8080

  # Example 2: Show every tool call
  jibberish ask --verbose list the files in /tmp

  # Example 3: Replay scripted model responses without an API key
  jibberish ask --dry-run --script 'TOOL_CALL: read_file(filepath="go.mod")' --script 'done' read go.mod`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAsk(ctx, cmd.OutOrStdout(), strings.Join(args, " "), shared.RuntimeOptions{
				DryRun: dryRun,
				Script: script,
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use scripted model responses instead of the configured provider")
	cmd.Flags().StringArrayVar(&script, "script", nil, "Scripted model response for --dry-run (repeatable, in order)")

	return cmd
}

func runAsk(ctx context.Context, out io.Writer, question string, opts shared.RuntimeOptions) error {
	rt, err := shared.NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	conv := agent.NewConversation()
	result, err := rt.Agent().Run(ctx, conv, question)
	if err != nil {
		if ctx.Err() != nil {
			return shared.NewExecutionError("interrupted", err)
		}
		return shared.NewProviderError("model request failed", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, shared.NewTurnJSON("ask", result))
	}

	shared.PrintTurn(out, result, shared.GetVerbose())
	if shared.GetVerbose() && !shared.GetQuiet() {
		fmt.Fprintln(out, shared.Muted.Render(fmt.Sprintf("%d tool call(s), %s", len(result.Invocations), result.Duration.Round(time.Millisecond))))
	}
	return nil
}
