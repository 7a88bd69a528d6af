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

package shared

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bjeremy23/jibberish/internal/config"
	"github.com/bjeremy23/jibberish/internal/history"
	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/internal/mcp"
	"github.com/bjeremy23/jibberish/internal/tracing"
	"github.com/bjeremy23/jibberish/pkg/agent"
	"github.com/bjeremy23/jibberish/pkg/llm"
	"github.com/bjeremy23/jibberish/pkg/llm/providers"
	"github.com/bjeremy23/jibberish/pkg/tools"
	"github.com/bjeremy23/jibberish/pkg/tools/approval"
	"github.com/bjeremy23/jibberish/pkg/tools/builtin"
)

// RuntimeOptions selects which collaborators NewRuntime builds.
type RuntimeOptions struct {
	// DryRun replaces the completion provider with a scripted one.
	DryRun bool

	// Script holds the scripted responses used by DryRun.
	Script []string

	// Provider overrides the completion provider (tests).
	Provider llm.Provider

	// Commands overrides process spawning for stdio servers (tests).
	Commands mcp.CommandFactory

	// Launcher overrides linux_command execution (tests).
	Launcher builtin.CommandLauncher

	// Approver overrides the linux_command confirmation.
	Approver approval.Approver

	// SkipProvider leaves Provider nil for commands that never complete.
	SkipProvider bool

	// SkipDiscovery registers local tools only.
	SkipDiscovery bool

	// SkipHistory leaves the audit log closed.
	SkipHistory bool

	// Logger overrides the logger derived from the environment.
	Logger *slog.Logger
}

// Runtime is everything one command invocation needs.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Registry    *tools.Registry
	Manager     *mcp.Manager
	Report      *mcp.DiscoveryReport
	Provider    llm.Provider
	History     *history.Store
	Tracing     *tracing.Provider
	ServersPath string

	// ParseErrors are the rejected entries of the servers file.
	ParseErrors []error
}

// NewLogger builds the CLI logger. --verbose raises the level to info unless
// JIBBERISH_DEBUG already asks for more.
func NewLogger() *slog.Logger {
	cfg := log.FromEnv()
	if GetVerbose() && !log.DebugEnabled() && cfg.Level == "warn" {
		cfg.Level = "info"
	}
	return log.New(cfg)
}

// NewRuntime loads configuration and wires the registry, the MCP manager,
// the provider, the history store and tracing. Discovery failures are
// logged and never fatal; configuration errors are.
func NewRuntime(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger()
		slog.SetDefault(logger)
	}

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: tools.NewRegistry(),
	}

	approver := opts.Approver
	if approver == nil {
		approver = approval.NewPrompter()
	}
	if err := builtin.Register(rt.Registry, builtin.Options{
		Launcher:        opts.Launcher,
		Approver:        approver,
		RequireApproval: approval.PromptRequired(),
	}); err != nil {
		return nil, NewExecutionError("failed to register local tools", err)
	}

	if err := rt.setupServers(ctx, opts); err != nil {
		return nil, err
	}

	if err := rt.setupProvider(ctx, opts); err != nil {
		return nil, err
	}

	if cfg.History.Enabled && !opts.SkipHistory {
		path, err := cfg.HistoryPath()
		if err != nil {
			return nil, NewConfigError("failed to resolve history path", err)
		}
		store, err := history.Open(ctx, path)
		if err != nil {
			// The audit log never blocks a turn.
			logger.Warn("history disabled", "path", path, "error", err)
		} else {
			rt.History = store
		}
	}

	version, _, _ := GetVersion()
	tp, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    "jibberish",
		ServiceVersion: version,
	})
	if err != nil {
		_ = rt.Close(ctx)
		return nil, NewConfigError("failed to set up tracing", err)
	}
	rt.Tracing = tp

	return rt, nil
}

func (rt *Runtime) setupServers(ctx context.Context, opts RuntimeOptions) error {
	path, err := rt.Config.ServersPath()
	if err != nil {
		return NewConfigError("failed to resolve servers file", err)
	}
	rt.ServersPath = path

	parsed, err := mcp.LoadServersFile(path)
	if err != nil {
		// Local tools still work without any MCP server.
		rt.Logger.Warn("servers file ignored", "path", path, "error", err)
		rt.ParseErrors = []error{err}
		parsed = &mcp.ParseResult{}
	}
	rt.ParseErrors = append(rt.ParseErrors, parsed.Errors...)
	for _, perr := range parsed.Errors {
		rt.Logger.Warn("invalid server entry", "error", perr)
	}

	manager, err := mcp.NewManager(mcp.ManagerConfig{
		Registry: rt.Registry,
		Servers:  parsed.Servers,
		Timeout:  rt.Config.ToolTimeout,
		Commands: opts.Commands,
		Logger:   rt.Logger,
	})
	if err != nil {
		return NewExecutionError("failed to create server manager", err)
	}
	rt.Manager = manager

	if opts.SkipDiscovery {
		return nil
	}

	report, err := manager.Discover(ctx)
	rt.Report = report
	if err != nil {
		// Configuration problems only disable the offending servers.
		rt.Logger.Warn("some mcp servers were rejected", "error", err)
	}
	return nil
}

func (rt *Runtime) setupProvider(ctx context.Context, opts RuntimeOptions) error {
	switch {
	case opts.Provider != nil:
		rt.Provider = opts.Provider
		return nil
	case opts.DryRun:
		rt.Provider = llm.NewScripted(opts.Script...)
		return nil
	case opts.SkipProvider:
		return nil
	}

	key, err := rt.Config.APIKey(ctx)
	if err != nil {
		return err
	}

	provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
		BaseURL: rt.Config.Provider.BaseURL,
		APIKey:  key,
		Model:   rt.Config.Provider.Model,
		Timeout: rt.Config.Provider.Timeout,
		Logger:  rt.Logger,
	})
	if err != nil {
		return NewProviderError("failed to create provider", err)
	}

	retry := llm.DefaultRetryConfig()
	retry.Logger = rt.Logger
	rt.Provider = llm.NewRetryingProvider(provider, retry)
	return nil
}

// Agent builds the orchestration loop over the runtime's collaborators.
func (rt *Runtime) Agent() *agent.Agent {
	a := agent.NewAgent(rt.Provider, rt.Registry).
		WithConfig(agent.Config{Model: rt.Config.Provider.Model}).
		WithToolContext().
		WithLogger(rt.Logger)
	if rt.History != nil {
		a = a.WithRecorder(rt.History)
	}
	if rt.Tracing != nil {
		a = a.WithTracerProvider(rt.Tracing.TracerProvider())
	}
	return a
}

// Close flushes tracing and closes the history store.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.Tracing.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	if rt.History != nil {
		if err := rt.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history close: %w", err))
		}
	}
	return stderrors.Join(errs...)
}
