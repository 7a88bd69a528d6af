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

	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// DockerTransport starts a fresh container for every call.
type DockerTransport struct {
	runner *stdioRunner
}

// NewDockerTransport creates a docker transport. Args that do not begin with
// "run" are prefixed with "run -i --rm".
func NewDockerTransport(cfg ServerConfig, opts TransportOptions) *DockerTransport {
	return &DockerTransport{
		runner: &stdioRunner{
			endpoint: endpoint{
				server: cfg.Name,
				kind:   TransportDocker,
				logger: log.WithServer(opts.Logger, cfg.Name, string(TransportDocker)),
			},
			command:   "docker",
			args:      DockerArgs(cfg.Args),
			extraEnv:  cfg.EnvList(),
			timeout:   opts.Timeout,
			handshake: cfg.Handshake,
			commands:  opts.Commands,
		},
	}
}

// DockerArgs returns the docker argument list for configured args.
func DockerArgs(args []string) []string {
	if len(args) > 0 && args[0] == "run" {
		return append([]string{}, args...)
	}
	return append([]string{"run", "-i", "--rm"}, args...)
}

// Kind implements Transport.
func (t *DockerTransport) Kind() TransportKind { return TransportDocker }

// Discover implements Transport.
func (t *DockerTransport) Discover(ctx context.Context) ([]ToolDefinition, error) {
	return t.runner.listTools(ctx, t.runner)
}

// Invoke implements Transport.
func (t *DockerTransport) Invoke(ctx context.Context, remoteName string, args map[string]any) (*tools.Result, error) {
	return t.runner.callTool(ctx, t.runner, remoteName, args)
}
