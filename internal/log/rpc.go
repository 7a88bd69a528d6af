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

package log

import (
	"context"
	"log/slog"
	"time"
)

// RPCCall describes one outgoing JSON-RPC call for logging purposes.
type RPCCall struct {
	// Method is the JSON-RPC method (e.g., "tools/list", "tools/call").
	Method string

	// RequestID is the JSON-RPC request id.
	RequestID string

	// Tool is the remote tool name for tools/call.
	Tool string
}

func (c RPCCall) attrs() []any {
	attrs := []any{
		"event", "rpc_call",
		"method", c.Method,
		"request_id", c.RequestID,
	}
	if c.Tool != "" {
		attrs = append(attrs, "remote_tool", c.Tool)
	}
	return attrs
}

// LogRPC runs fn and logs the call at debug level, failures at info.
// Callers decide whether a failure deserves a warning.
func LogRPC(ctx context.Context, logger *slog.Logger, call RPCCall, fn func() error) error {
	start := time.Now()
	logger.DebugContext(ctx, "rpc call started", call.attrs()...)

	err := fn()

	attrs := append(call.attrs(), DurationKey, time.Since(start).Milliseconds())
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		logger.InfoContext(ctx, "rpc call failed", attrs...)
		return err
	}

	logger.DebugContext(ctx, "rpc call completed", attrs...)
	return nil
}
