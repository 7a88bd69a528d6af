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
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/bjeremy23/jibberish/pkg/tools"
)

// RemoteTool adapts a discovered MCP tool to the tools.Tool interface.
// It is registered under its public (prefixed) name and calls the server
// with the remote name.
type RemoteTool struct {
	server    ServerConfig
	def       ToolDefinition
	transport Transport
	schema    *tools.Schema
}

// NewRemoteTool creates the adapter for one tool definition.
func NewRemoteTool(server ServerConfig, def ToolDefinition, transport Transport) *RemoteTool {
	return &RemoteTool{
		server:    server,
		def:       def,
		transport: transport,
		schema:    &tools.Schema{Inputs: convertInputSchema(def.InputSchema)},
	}
}

// Name returns the public name, e.g. "k8s_get_pods".
func (t *RemoteTool) Name() string {
	return t.server.PublicName(t.def.Name)
}

// RemoteName returns the name the server knows the tool by.
func (t *RemoteTool) RemoteName() string {
	return t.def.Name
}

// Server implements tools.Origin.
func (t *RemoteTool) Server() string {
	return t.server.Name
}

// Transport returns the transport kind used to reach the server.
func (t *RemoteTool) Transport() TransportKind {
	return t.transport.Kind()
}

// Description returns the tool description from the MCP definition.
func (t *RemoteTool) Description() string {
	return t.def.Description
}

// Schema returns the converted input schema.
func (t *RemoteTool) Schema() *tools.Schema {
	return t.schema
}

// Execute calls the server. Transport failures become error-status results.
// Cancellation of ctx is returned as an error so that the caller can stop.
func (t *RemoteTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	result, err := t.transport.Invoke(ctx, t.def.Name, args)
	recordCallDuration(t.transport.Kind(), time.Since(start))

	if err != nil {
		if ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
			return nil, err
		}
		return tools.FromError(err), nil
	}
	if result == nil {
		return tools.Failed("server returned no result"), nil
	}
	return result, nil
}

// convertInputSchema converts a JSON Schema object into a ParameterSchema.
// Only the top-level object properties are kept.
func convertInputSchema(raw json.RawMessage) *tools.ParameterSchema {
	out := &tools.ParameterSchema{Type: "object"}
	if len(raw) == 0 {
		return out
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return out
	}

	if typ, ok := schema["type"].(string); ok && typ != "" {
		out.Type = typ
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*tools.Property, len(props))
		for name, p := range props {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			prop := &tools.Property{}
			switch typ := pm["type"].(type) {
			case string:
				prop.Type = typ
			case []any:
				// ["string", "null"] style unions keep the first concrete type
				for _, v := range typ {
					if s, ok := v.(string); ok && s != "null" {
						prop.Type = s
						break
					}
				}
			}
			if desc, ok := pm["description"].(string); ok {
				prop.Description = desc
			}
			if enum, ok := pm["enum"].([]any); ok {
				prop.Enum = enum
			}
			if def, ok := pm["default"]; ok {
				prop.Default = def
			}
			out.Properties[name] = prop
		}
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}
