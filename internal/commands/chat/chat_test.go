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

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
	"github.com/bjeremy23/jibberish/pkg/llm"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "servers_file: " + filepath.Join(dir, "servers.json") + "\nhistory:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	t.Setenv("JIBBERISH_SERVERS_FILE", "")
	shared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })
	return dir
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()

	assert.Equal(t, "chat", cmd.Use)
	for _, name := range []string{"dry-run", "script", "metrics-addr", "no-watch"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestChat_KeepsConversationAcrossTurns(t *testing.T) {
	isolate(t)
	provider := llm.NewScripted("Hi there.", "You said hello before.")

	var out bytes.Buffer
	err := runChat(context.Background(), strings.NewReader("hello\n\nwhat did I say?\nexit\nignored\n"), &out, options{
		runtime: shared.RuntimeOptions{Provider: provider},
		watch:   true,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Hi there.")
	assert.Contains(t, out.String(), "You said hello before.")

	requests := provider.Requests()
	require.Len(t, requests, 2)

	// The second completion sees the first exchange.
	var contents []string
	for _, msg := range requests[1].Messages {
		contents = append(contents, msg.Content)
	}
	joined := strings.Join(contents, "\n")
	assert.Contains(t, joined, "hello")
	assert.Contains(t, joined, "Hi there.")
	assert.Contains(t, joined, "what did I say?")

	// The first message describes the available tools.
	assert.Equal(t, llm.MessageRoleSystem, requests[0].Messages[0].Role)
	assert.Contains(t, requests[0].Messages[0].Content, "read_file")
}

func TestChat_ProviderFailureEndsTurnOnly(t *testing.T) {
	isolate(t)
	provider := llm.NewScripted("first answer")

	var out bytes.Buffer
	err := runChat(context.Background(), strings.NewReader("one\ntwo\n"), &out, options{
		runtime: shared.RuntimeOptions{Provider: provider},
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "first answer")
	assert.Contains(t, out.String(), "model request failed")
}

func TestChat_CancelledContextStops(t *testing.T) {
	isolate(t)
	provider := llm.NewScripted("unused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := runChat(ctx, strings.NewReader("question\n"), &out, options{
		runtime: shared.RuntimeOptions{Provider: provider, SkipDiscovery: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.Remaining())
}

func TestMetricsRouter(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	rt, err := shared.NewRuntime(ctx, shared.RuntimeOptions{Provider: llm.NewScripted(), SkipDiscovery: true})
	require.NoError(t, err)
	defer rt.Close(ctx)

	srv := httptest.NewServer(metricsRouter(rt))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(3), health["tools"])

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	missing, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

// lockedBuffer is a bytes.Buffer safe for the session and test goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// forecastServer is an HTTP MCP server offering a single forecast tool.
func forecastServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     string `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "tools/list":
			resp["result"] = map[string]any{"tools": []map[string]any{
				{"name": "forecast", "description": "Weather forecast"},
			}}
		case "tools/call":
			resp["result"] = map[string]any{"content": []map[string]any{{"type": "text", "text": "sunny"}}}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChat_ReloadUpdatesToolContext(t *testing.T) {
	dir := isolate(t)
	serversPath := filepath.Join(dir, "servers.json")
	require.NoError(t, os.WriteFile(serversPath, []byte(`{}`), 0o600))
	weather := forecastServer(t)

	provider := llm.NewScripted("first answer", "second answer")
	in, feed := io.Pipe()
	out := &lockedBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- runChat(context.Background(), in, out, options{
			runtime: shared.RuntimeOptions{Provider: provider},
			watch:   true,
		})
	}()

	_, err := io.WriteString(feed, "what tools are there?\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "first answer") },
		5*time.Second, 20*time.Millisecond)

	servers := `{"weather": {"command": "` + weather.URL + `"}}`
	require.NoError(t, os.WriteFile(serversPath, []byte(servers), 0o600))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "servers reloaded: 4 tools available") },
		5*time.Second, 20*time.Millisecond)

	_, err = io.WriteString(feed, "and now?\n")
	require.NoError(t, err)
	require.NoError(t, feed.Close())
	require.NoError(t, <-done)

	requests := provider.Requests()
	require.Len(t, requests, 2)
	assert.NotContains(t, requests[0].Messages[0].Content, "weather_forecast")
	assert.Equal(t, llm.MessageRoleSystem, requests[1].Messages[0].Role)
	assert.Contains(t, requests[1].Messages[0].Content, "weather_forecast")
	assert.Contains(t, out.String(), "second answer")
}
