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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bjeremy23/jibberish/pkg/tools"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// newRequest builds a request with a fresh uuid id.
func newRequest(method mcp.MCPMethod, params any) *Request {
	if params == nil {
		params = struct{}{}
	}
	return &Request{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      uuid.NewString(),
		Method:  string(method),
		Params:  params,
	}
}

// callParams are the tools/call parameters. Arguments are always present.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func newCallRequest(remoteName string, args map[string]any) *Request {
	if args == nil {
		args = map[string]any{}
	}
	return newRequest(mcp.MethodToolsCall, callParams{Name: remoteName, Arguments: args})
}

// initializeRequest is sent ahead of stdio requests for servers that require
// the handshake.
func initializeRequest() *Request {
	return newRequest(mcp.MethodInitialize, map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "jibberish",
			"version": "1.0.0",
		},
	})
}

// Response is a JSON-RPC 2.0 response. The id is kept raw because servers
// echo it back as whatever JSON type they received or chose.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// idEquals compares a raw response id with a request id.
func (r *Response) idEquals(id string) bool {
	if len(r.ID) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s == id
	}
	return strings.TrimSpace(string(r.ID)) == id
}

// encodeLines renders requests as newline-delimited JSON.
func encodeLines(reqs ...*Request) ([]byte, error) {
	var buf bytes.Buffer
	for _, req := range reqs {
		data, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", req.Method, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// selectResponse picks the response for id from stdio output. Lines that are
// not JSON objects are skipped. Without an id match the first line carrying a
// result is used. It returns nil when nothing qualifies.
func selectResponse(output []byte, id string) *Response {
	var fallback *Response

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.idEquals(id) {
			return &resp
		}
		if fallback == nil && len(resp.Result) > 0 {
			r := resp
			fallback = &r
		}
	}
	return fallback
}

// ToolDefinition is one entry of a tools/list result.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// decodeToolsList reads a tools/list result. Entries without a name are
// dropped.
func decodeToolsList(result json.RawMessage) ([]ToolDefinition, error) {
	var list struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}

	defs := make([]ToolDefinition, 0, len(list.Tools))
	for _, def := range list.Tools {
		if def.Name == "" {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// decodeCallResult converts a tools/call result into a tool result. Text
// blocks are joined with newlines; other blocks are rendered as a short
// placeholder.
func decodeCallResult(result json.RawMessage) (*tools.Result, error) {
	raw := result
	parsed, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		if !json.Valid(result) {
			return nil, fmt.Errorf("decode tools/call result: %w", err)
		}
		// Some servers answer with a bare result object instead of content
		// blocks; hand it back verbatim.
		return tools.OK(string(bytes.TrimSpace(result))), nil
	}

	parts := make([]string, 0, len(parsed.Content))
	for _, content := range parsed.Content {
		parts = append(parts, renderContent(content))
	}
	text := strings.Join(parts, "\n")

	if parsed.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return tools.Failed(text), nil
	}
	if text == "" && parsed.StructuredContent != nil {
		if data, err := json.Marshal(parsed.StructuredContent); err == nil {
			text = string(data)
		}
	}
	return tools.OK(text), nil
}

func renderContent(content mcp.Content) string {
	if text, ok := mcp.AsTextContent(content); ok {
		return text.Text
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return fmt.Sprintf("[image: %s]", image.MIMEType)
	}

	// Remaining block kinds are rendered from their wire form.
	data, err := json.Marshal(content)
	if err != nil {
		return "[unsupported content]"
	}
	var block struct {
		Type     string `json:"type"`
		MIMEType string `json:"mimeType"`
		URI      string `json:"uri"`
		Resource struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(data, &block); err != nil {
		return "[unsupported content]"
	}

	switch block.Type {
	case "audio":
		return fmt.Sprintf("[audio: %s]", block.MIMEType)
	case "resource":
		if block.Resource.Text != "" {
			return block.Resource.Text
		}
		return fmt.Sprintf("[resource: %s]", block.Resource.URI)
	case "resource_link":
		return fmt.Sprintf("[resource: %s]", block.URI)
	default:
		return fmt.Sprintf("[%s content]", block.Type)
	}
}
