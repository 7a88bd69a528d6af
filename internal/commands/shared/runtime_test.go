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

package shared

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjeremy23/jibberish/internal/mcp"
	"github.com/bjeremy23/jibberish/pkg/agent"
	"github.com/bjeremy23/jibberish/pkg/llm"
	"github.com/bjeremy23/jibberish/pkg/tools/approval"
)

func writeRuntimeConfig(t *testing.T, servers string, withHistory bool, extra string) string {
	t.Helper()
	dir := t.TempDir()
	serversPath := filepath.Join(dir, "servers.json")
	if servers != "" {
		require.NoError(t, os.WriteFile(serversPath, []byte(servers), 0o600))
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "servers_file: " + serversPath + "\n"
	if withHistory {
		cfg += "history:\n  path: " + filepath.Join(dir, "history.db") + "\n"
	} else {
		cfg += "history:\n  enabled: false\n"
	}
	cfg += extra
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	t.Setenv("JIBBERISH_SERVERS_FILE", "")
	SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { SetConfigPathForTest("") })
	return dir
}

func TestNewRuntime_DryRun(t *testing.T) {
	writeRuntimeConfig(t, "", true, "")
	ctx := context.Background()

	rt, err := NewRuntime(ctx, RuntimeOptions{DryRun: true, Script: []string{"hello"}, Approver: approval.Static(false)})
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.Equal(t, "scripted", rt.Provider.Name())
	assert.Equal(t, []string{"read_file", "write_file", "linux_command"}, rt.Registry.Names())
	assert.NotNil(t, rt.History)
	assert.NotNil(t, rt.Tracing)
	require.NotNil(t, rt.Report)
	assert.Empty(t, rt.Report.Servers)

	conv := agent.NewConversation()
	result, err := rt.Agent().Run(ctx, conv, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.FinalText)

	messages := conv.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, llm.MessageRoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "linux_command")
}

func TestNewRuntime_RecordsInvocations(t *testing.T) {
	dir := writeRuntimeConfig(t, "", true, "")
	file := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(file, []byte("hi\n"), 0o600))
	ctx := context.Background()

	rt, err := NewRuntime(ctx, RuntimeOptions{
		DryRun: true,
		Script: []string{`TOOL_CALL: read_file(filepath="` + file + `")`, "done"},
	})
	require.NoError(t, err)
	defer rt.Close(ctx)

	result, err := rt.Agent().Run(ctx, agent.NewConversation(), "read it")
	require.NoError(t, err)
	assert.Equal(t, "done", result.FinalText)

	entries, err := rt.History.List(ctx, historyListAll)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "read_file", entries[0].Tool)
	assert.Equal(t, "ok", entries[0].Status)
}

func TestNewRuntime_InvalidServerEntries(t *testing.T) {
	writeRuntimeConfig(t, `{"broken": {"args": ["x"]}, "tools": {"command": "definitely-not-a-real-binary-xyz"}}`, false, "")
	ctx := context.Background()

	rt, err := NewRuntime(ctx, RuntimeOptions{SkipProvider: true})
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.Len(t, rt.ParseErrors, 1)
	assert.Nil(t, rt.Provider)
	assert.Nil(t, rt.History)

	report, ok := rt.Report.Server("tools")
	require.True(t, ok)
	assert.Equal(t, mcp.StatusFailed, report.Status)
	assert.Equal(t, 3, rt.Registry.Len())
}

func TestNewRuntime_InvalidConfig(t *testing.T) {
	writeRuntimeConfig(t, "", false, "tool_timeout: -5s\n")

	_, err := NewRuntime(context.Background(), RuntimeOptions{DryRun: true})
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestNewRuntime_MissingAPIKey(t *testing.T) {
	writeRuntimeConfig(t, "", false, "provider:\n  api_key_env: JIBBERISH_TEST_MISSING_KEY\n")
	t.Setenv("JIBBERISH_TEST_MISSING_KEY", "")
	mockEmptyKeychain(t)

	_, err := NewRuntime(context.Background(), RuntimeOptions{SkipDiscovery: true})
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
	assert.Contains(t, Suggestion(err)+err.Error(), "set-key")
}

func TestNewRuntime_UnreadableServersFileKeepsLocalTools(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		errors     int
		configured int
	}{
		{name: "broken document", file: `{"weather": `, errors: 1},
		{name: "one malformed entry", file: `{"good": {"command": "definitely-not-a-real-binary-xyz"}, "bad": {"command": "docker", "args": "run img"}}`, errors: 1, configured: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeRuntimeConfig(t, tt.file, false, "")
			ctx := context.Background()

			rt, err := NewRuntime(ctx, RuntimeOptions{DryRun: true})
			require.NoError(t, err)
			defer rt.Close(ctx)

			assert.Len(t, rt.ParseErrors, tt.errors)
			assert.Len(t, rt.Manager.Servers(), tt.configured)
			assert.Equal(t, []string{"read_file", "write_file", "linux_command"}, rt.Registry.Names())
		})
	}
}
