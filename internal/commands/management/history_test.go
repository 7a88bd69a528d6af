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

package management

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
	"github.com/bjeremy23/jibberish/internal/history"
	"github.com/bjeremy23/jibberish/pkg/agent"
	"github.com/bjeremy23/jibberish/pkg/toolcall"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// seed writes a config whose history database holds three invocations.
func seed(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "servers_file: " + filepath.Join(dir, "servers.json") + "\nhistory:\n  enabled: true\n  path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	shared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() {
		shared.SetConfigPathForTest("")
		shared.SetJSONForTest(false)
	})

	ctx := context.Background()
	store, err := history.Open(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	for _, inv := range []agent.Invocation{
		{ID: "1", Tool: "read_file", Arguments: map[string]any{"filepath": "/etc/hosts"}, Syntax: toolcall.SyntaxFunction,
			Result: tools.OK("127.0.0.1 localhost"), Started: now.Add(-48 * time.Hour), Duration: 3 * time.Millisecond},
		{ID: "2", Tool: "linux_command", Arguments: map[string]any{"command": "ls"}, Syntax: toolcall.SyntaxTagged,
			Result: tools.Failed("command declined"), Started: now.Add(-time.Hour), Duration: time.Millisecond},
		{ID: "3", Tool: "wx_forecast", Server: "weather", Arguments: map[string]any{"city": "Oslo"}, Syntax: toolcall.SyntaxStructured,
			Result: tools.OK("sunny"), Started: now.Add(-time.Minute), Duration: 40 * time.Millisecond},
	} {
		require.NoError(t, store.Record(ctx, inv))
	}
}

func TestNewHistoryCommand(t *testing.T) {
	cmd := NewHistoryCommand()

	assert.Equal(t, "history", cmd.Use)
	for _, name := range []string{"limit", "tool", "since", "failed"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestHistoryList(t *testing.T) {
	seed(t)

	var out bytes.Buffer
	require.NoError(t, historyList(context.Background(), &out, listOptions{limit: 20}))

	assert.Contains(t, out.String(), "read_file")
	assert.Contains(t, out.String(), "linux_command")
	assert.Contains(t, out.String(), "city=Oslo")
}

func TestHistoryList_Filters(t *testing.T) {
	seed(t)
	shared.SetJSONForTest(true)

	tests := []struct {
		name string
		opts listOptions
		want []string
	}{
		{name: "newest first", opts: listOptions{limit: 20}, want: []string{"3", "2", "1"}},
		{name: "limit", opts: listOptions{limit: 1}, want: []string{"3"}},
		{name: "tool", opts: listOptions{limit: 20, tool: "read_file"}, want: []string{"1"}},
		{name: "since", opts: listOptions{limit: 20, since: 24 * time.Hour}, want: []string{"3", "2"}},
		{name: "failed", opts: listOptions{limit: 20, failed: true}, want: []string{"2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, historyList(context.Background(), &out, tt.opts))

			var resp historyListResponse
			require.NoError(t, json.Unmarshal(out.Bytes(), &resp))

			var ids []string
			for _, e := range resp.Entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestHistoryPrune(t *testing.T) {
	seed(t)

	cmd := NewHistoryCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"prune", "--older-than", "24h"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "removed 1 entries")

	out.Reset()
	shared.SetJSONForTest(true)
	require.NoError(t, historyList(context.Background(), &out, listOptions{limit: 20}))

	var resp historyListResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Len(t, resp.Entries, 2)
}

func TestHistoryPrune_RejectsNonPositive(t *testing.T) {
	seed(t)

	cmd := NewHistoryCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"prune", "--older-than", "0s"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, shared.ExitExecutionFailed, shared.ExitCode(err))
}
