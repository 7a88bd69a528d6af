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

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/pkg/errors"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// Transport reaches one MCP server.
type Transport interface {
	// Kind returns the transport classification.
	Kind() TransportKind

	// Discover lists the server's tools.
	Discover(ctx context.Context) ([]ToolDefinition, error)

	// Invoke calls a tool by its remote (unprefixed) name. Protocol and
	// process failures are returned as errors; a JSON-RPC error or an
	// isError result is an error-status Result.
	Invoke(ctx context.Context, remoteName string, args map[string]any) (*tools.Result, error)
}

// TransportOptions are shared by all transports.
type TransportOptions struct {
	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Commands spawns stdio processes. Defaults to exec.CommandContext.
	Commands CommandFactory

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// NewTransport builds the transport for a server. A server's own timeout
// overrides opts.Timeout.
func NewTransport(cfg ServerConfig, opts TransportOptions) (Transport, error) {
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Commands == nil {
		opts.Commands = DefaultCommandFactory
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch cfg.Transport {
	case TransportHTTP:
		return NewHTTPTransport(cfg, opts)
	case TransportDocker:
		return NewDockerTransport(cfg, opts), nil
	case TransportLocal:
		return NewLocalTransport(cfg, opts)
	default:
		return nil, &errors.ConfigError{
			Key:    cfg.Name + ".command",
			Reason: fmt.Sprintf("unknown transport %q", cfg.Transport),
		}
	}
}

// exchanger sends one request and returns the matching response.
type exchanger interface {
	exchange(ctx context.Context, op string, req *Request) (*Response, error)
}

// endpoint carries the identity shared by every transport.
type endpoint struct {
	server string
	kind   TransportKind
	logger *slog.Logger
}

func (e endpoint) Kind() TransportKind { return e.kind }

func (e endpoint) transportError(op, message string, cause error) *errors.TransportError {
	return &errors.TransportError{
		Server:    e.server,
		Transport: string(e.kind),
		Op:        op,
		Message:   message,
		Cause:     cause,
	}
}

// listTools runs tools/list over ex.
func (e endpoint) listTools(ctx context.Context, ex exchanger) ([]ToolDefinition, error) {
	req := newRequest(mcp.MethodToolsList, nil)

	var resp *Response
	err := log.LogRPC(ctx, e.logger, log.RPCCall{Method: req.Method, RequestID: req.ID}, func() error {
		var err error
		resp, err = ex.exchange(ctx, "tools/list", req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, e.transportError("tools/list", resp.Error.Message, resp.Error)
	}

	defs, err := decodeToolsList(resp.Result)
	if err != nil {
		return nil, e.transportError("tools/list", "malformed result", err)
	}
	return defs, nil
}

// callTool runs tools/call over ex.
func (e endpoint) callTool(ctx context.Context, ex exchanger, remoteName string, args map[string]any) (*tools.Result, error) {
	req := newCallRequest(remoteName, args)

	var resp *Response
	call := log.RPCCall{Method: req.Method, RequestID: req.ID, Tool: remoteName}
	err := log.LogRPC(ctx, e.logger, call, func() error {
		var err error
		resp, err = ex.exchange(ctx, "tools/call", req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = resp.Error.Error()
		}
		return tools.Failed(msg), nil
	}
	if len(resp.Result) == 0 {
		return nil, e.transportError("tools/call", "response carries neither result nor error", nil)
	}

	result, err := decodeCallResult(resp.Result)
	if err != nil {
		return nil, e.transportError("tools/call", "malformed result", err)
	}
	return result, nil
}
