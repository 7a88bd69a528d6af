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
	"os/exec"
	"path/filepath"

	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/pkg/errors"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// LocalTransport spawns a local executable for every call.
type LocalTransport struct {
	runner *stdioRunner
	path   string
}

// NewLocalTransport resolves the command to an absolute executable path.
// Failure to resolve is a configuration error for this server only.
func NewLocalTransport(cfg ServerConfig, opts TransportOptions) (*LocalTransport, error) {
	path, err := ResolveCommand(cfg.Command)
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    cfg.Name + ".command",
			Reason: "command is not an executable on PATH",
			Cause:  err,
		}
	}

	return &LocalTransport{
		path: path,
		runner: &stdioRunner{
			endpoint: endpoint{
				server: cfg.Name,
				kind:   TransportLocal,
				logger: log.WithServer(opts.Logger, cfg.Name, string(TransportLocal)),
			},
			command:   path,
			args:      append([]string{}, cfg.Args...),
			extraEnv:  cfg.EnvList(),
			timeout:   opts.Timeout,
			handshake: cfg.Handshake,
			commands:  opts.Commands,
		},
	}, nil
}

// ResolveCommand finds command on PATH (or as given) and makes it absolute.
func ResolveCommand(command string) (string, error) {
	found, err := exec.LookPath(command)
	if err != nil {
		return "", err
	}
	return filepath.Abs(found)
}

// Path returns the resolved executable.
func (t *LocalTransport) Path() string { return t.path }

// Kind implements Transport.
func (t *LocalTransport) Kind() TransportKind { return TransportLocal }

// Discover implements Transport.
func (t *LocalTransport) Discover(ctx context.Context) ([]ToolDefinition, error) {
	return t.runner.listTools(ctx, t.runner)
}

// Invoke implements Transport.
func (t *LocalTransport) Invoke(ctx context.Context, remoteName string, args map[string]any) (*tools.Result, error) {
	return t.runner.callTool(ctx, t.runner, remoteName, args)
}
