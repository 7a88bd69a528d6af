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
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/pkg/errors"
	"github.com/bjeremy23/jibberish/pkg/httpclient"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// maxHTTPResponse bounds the response body read from an HTTP server.
const maxHTTPResponse = 10 << 20

// HTTPTransport posts each JSON-RPC request to a URL.
type HTTPTransport struct {
	endpoint

	url     string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPTransport creates an HTTP transport. POSTs are never retried.
func NewHTTPTransport(cfg ServerConfig, opts TransportOptions) (*HTTPTransport, error) {
	logger := log.WithServer(opts.Logger, cfg.Name, string(TransportHTTP))

	hc := httpclient.DefaultConfig()
	hc.Timeout = opts.Timeout
	hc.AllowNonIdempotentRetry = false
	hc.RateLimit = cfg.RateLimit
	hc.Logger = logger

	client, err := httpclient.New(hc)
	if err != nil {
		return nil, &errors.ConfigError{Key: cfg.Name, Reason: "invalid HTTP client settings", Cause: err}
	}

	return &HTTPTransport{
		endpoint: endpoint{server: cfg.Name, kind: TransportHTTP, logger: logger},
		url:      cfg.Command,
		headers:  cfg.Headers,
		timeout:  opts.Timeout,
		client:   client,
	}, nil
}

// Discover implements Transport.
func (t *HTTPTransport) Discover(ctx context.Context) ([]ToolDefinition, error) {
	return t.listTools(ctx, t)
}

// Invoke implements Transport.
func (t *HTTPTransport) Invoke(ctx context.Context, remoteName string, args map[string]any) (*tools.Result, error) {
	return t.callTool(ctx, t, remoteName, args)
}

func (t *HTTPTransport) exchange(ctx context.Context, op string, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, t.transportError(op, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, t.transportError(op, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.wrapDeadline(ctx, callCtx, op, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxHTTPResponse+1))
	if err != nil {
		return nil, t.wrapDeadline(ctx, callCtx, op, err)
	}
	if len(data) > maxHTTPResponse {
		return nil, t.transportError(op, fmt.Sprintf("response exceeds %d bytes", maxHTTPResponse), nil)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		terr := t.transportError(op, fmt.Sprintf("HTTP %d", httpResp.StatusCode), nil)
		terr.Stderr = log.Truncate(strings.TrimSpace(string(data)), maxStderr)
		return nil, terr
	}

	// Streamable HTTP servers may answer with a single SSE event.
	if strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		data = sseData(data)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, t.transportError(op, "malformed JSON-RPC response", err)
	}
	return &resp, nil
}

func (t *HTTPTransport) wrapDeadline(parent, callCtx context.Context, op string, err error) error {
	if parent.Err() != nil {
		return t.transportError(op, "call cancelled", parent.Err())
	}
	var netErr net.Error
	if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return t.transportError(op, "no response before deadline", &errors.TimeoutError{
			Operation: fmt.Sprintf("%s %s", t.server, op),
			Duration:  t.timeout,
			Cause:     err,
		})
	}
	return t.transportError(op, "request failed", err)
}

// sseData joins the data lines of an event stream body.
func sseData(body []byte) []byte {
	var out bytes.Buffer
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			out.Write(bytes.TrimSpace(rest))
		}
	}
	return out.Bytes()
}
