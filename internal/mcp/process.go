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
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/pkg/errors"
)

// CommandFactory creates the process for one stdio call. Implementations
// must build the command with exec.CommandContext so that cancelling ctx
// kills it.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

// DefaultCommandFactory is exec.CommandContext.
func DefaultCommandFactory(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// maxStderr bounds the stderr excerpt carried in errors.
const maxStderr = 2048

// killGrace is how long Wait lingers on output pipes after the process is
// killed.
const killGrace = 2 * time.Second

// stdioRunner spawns one process per request. The request lines are written
// to stdin, stdin is closed and the response is read from stdout after the
// process exits.
type stdioRunner struct {
	endpoint

	command   string
	args      []string
	extraEnv  []string
	timeout   time.Duration
	handshake bool
	commands  CommandFactory
}

func (r *stdioRunner) exchange(ctx context.Context, op string, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reqs := []*Request{req}
	if r.handshake {
		reqs = []*Request{initializeRequest(), req}
	}
	input, err := encodeLines(reqs...)
	if err != nil {
		return nil, r.transportError(op, "encode request", err)
	}
	log.Trace(ctx, r.logger, "stdio request", slog.String("payload", string(input)))

	cmd := r.commands(callCtx, r.command, r.args...)
	if len(r.extraEnv) > 0 {
		// Later entries win, so configured values override the inherited ones.
		base := cmd.Env
		if base == nil {
			base = os.Environ()
		}
		cmd.Env = append(append([]string{}, base...), r.extraEnv...)
	}
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace

	runErr := cmd.Run()
	errText := strings.TrimSpace(stderr.String())
	if errText != "" {
		r.logger.Debug("mcp server stderr", "op", op, "stderr", log.Truncate(errText, maxStderr))
	}

	// Cancellation and expiry win over whatever the killed process printed.
	if ctx.Err() != nil {
		terr := r.transportError(op, "call cancelled", ctx.Err())
		terr.Stderr = log.Truncate(errText, maxStderr)
		return nil, terr
	}
	if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		terr := r.transportError(op, "no response before deadline", &errors.TimeoutError{
			Operation: fmt.Sprintf("%s %s", r.server, op),
			Duration:  r.timeout,
			Cause:     callCtx.Err(),
		})
		terr.Stderr = log.Truncate(errText, maxStderr)
		return nil, terr
	}

	log.Trace(ctx, r.logger, "stdio response", slog.String("payload", stdout.String()))
	if resp := selectResponse(stdout.Bytes(), req.ID); resp != nil {
		return resp, nil
	}

	message := "no JSON-RPC response in output"
	var cause error
	if runErr != nil {
		message = "process failed without a JSON-RPC response"
		cause = runErr
	} else if stdout.Len() > 0 {
		message = "malformed JSON-RPC response"
	}
	terr := r.transportError(op, message, cause)
	terr.Stderr = log.Truncate(errText, maxStderr)
	return nil, terr
}
