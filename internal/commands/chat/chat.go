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

// Package chat implements the interactive 'jibberish chat' session.
package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
	"github.com/bjeremy23/jibberish/internal/mcp"
	"github.com/bjeremy23/jibberish/pkg/agent"
)

// exitWords end the session.
var exitWords = map[string]bool{"exit": true, "quit": true, ":q": true}

// NewCommand creates the chat command.
func NewCommand() *cobra.Command {
	var (
		dryRun      bool
		script      []string
		metricsAddr string
		noWatch     bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session with tool access",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Chat reads questions from stdin, one per line, and keeps the conversation
across turns. Each turn may call up to 3 tools.

The servers file is watched while the session runs: edits are picked up
without restarting. Type 'exit' or press Ctrl-D to leave; Ctrl-C cancels
the current turn and any tool call in flight.`,
		Example: `  # Example 1: Start a session
  jibberish chat

  # Example 2: Expose Prometheus metrics while chatting
  jibberish chat --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), options{
				runtime:     shared.RuntimeOptions{DryRun: dryRun, Script: script},
				metricsAddr: metricsAddr,
				watch:       !noWatch,
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use scripted model responses instead of the configured provider")
	cmd.Flags().StringArrayVar(&script, "script", nil, "Scripted model response for --dry-run (repeatable, in order)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics_addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload when the servers file changes")

	return cmd
}

type options struct {
	runtime     shared.RuntimeOptions
	metricsAddr string
	watch       bool
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, opts options) error {
	rt, err := shared.NewRuntime(ctx, opts.runtime)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	addr := opts.metricsAddr
	if addr == "" {
		addr = rt.Config.MetricsAddr
	}
	if addr != "" {
		stop := serveMetrics(addr, rt)
		defer stop()
	}

	if opts.watch {
		// Reload notices are written from the watcher goroutine.
		out = &syncWriter{w: out}
		watcher, err := mcp.NewWatcher(mcp.WatcherConfig{
			Path:     rt.ServersPath,
			Reloader: rt.Manager,
			Logger:   rt.Logger,
			OnReload: func(report *mcp.DiscoveryReport, err error) {
				if report == nil {
					return
				}
				rt.Logger.Info("servers reloaded", "tools", report.ToolCount())
				if !shared.GetQuiet() && !shared.GetJSON() {
					fmt.Fprintln(out, shared.Muted.Render(fmt.Sprintf(
						"servers reloaded: %d tools available", rt.Registry.Len())))
				}
			},
		})
		if err != nil {
			// The session still works with the servers found at startup.
			rt.Logger.Warn("servers file watch disabled", "path", rt.ServersPath, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	a := rt.Agent()
	conv := agent.NewConversation()
	interactive := isTerminal(in)

	if interactive && !shared.GetQuiet() {
		fmt.Fprintf(out, "%s %d tools available. Type 'exit' to quit.\n",
			shared.Header.Render("jibberish"), rt.Registry.Len())
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, shared.Bold.Render("> "))
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitWords[strings.ToLower(line)] {
			break
		}

		if err := runTurn(ctx, out, a, conv, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// runTurn runs one question. Ctrl-C cancels only this turn.
func runTurn(parent context.Context, out io.Writer, a *agent.Agent, conv *agent.Conversation, question string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := a.Run(ctx, conv, question)
	if err != nil {
		if ctx.Err() != nil && parent.Err() == nil {
			fmt.Fprintln(out, shared.RenderWarn("turn cancelled"))
			return nil
		}
		if parent.Err() != nil {
			return nil
		}
		// A failed completion ends this turn only.
		shared.PrintError(out, shared.NewProviderError("model request failed", err))
		return nil
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, shared.NewTurnJSON("chat", result))
	}
	shared.PrintTurn(out, result, shared.GetVerbose())
	return nil
}

// serveMetrics exposes the default Prometheus registry.
func serveMetrics(addr string, rt *shared.Runtime) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(rt),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		rt.Logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// metricsRouter serves /metrics and a /healthz check reporting the number
// of registered tools.
func metricsRouter(rt *shared.Runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"tools":  rt.Registry.Len(),
		})
	})
	return r
}

// syncWriter serializes writes from the session loop and the watcher.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
