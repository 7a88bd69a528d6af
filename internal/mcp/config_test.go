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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		command string
		want    TransportKind
	}{
		{"http://localhost:8080/mcp", TransportHTTP},
		{"https://mcp.example.com", TransportHTTP},
		{"docker", TransportDocker},
		{"/usr/local/bin/kubectl-mcp", TransportLocal},
		{"npx", TransportLocal},
		{"docker-compose", TransportLocal},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTransport(tt.command))
		})
	}
}

func TestParseServers_ObjectForm(t *testing.T) {
	data := []byte(`{
		"k8s": {
			"command": "docker",
			"args": ["-v", "/home/me/.kube:/root/.kube", "mcp/k8s"],
			"description": "Kubernetes tools"
		},
		"files": {
			"command": "http://localhost:9000/mcp",
			"enabled": false,
			"tool_prefix": "fs",
			"timeout": "5s",
			"rate_limit": 2
		}
	}`)

	result, err := ParseServers(data, FormatJSON)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Servers, 2)

	files := result.Servers[0]
	assert.Equal(t, "files", files.Name)
	assert.False(t, files.Enabled)
	assert.Equal(t, TransportHTTP, files.Transport)
	assert.Equal(t, "fs", files.ToolPrefix)
	assert.Equal(t, 5*time.Second, files.Timeout)
	assert.Equal(t, 2.0, files.RateLimit)

	k8s := result.Servers[1]
	assert.Equal(t, "k8s", k8s.Name)
	assert.True(t, k8s.Enabled)
	assert.Equal(t, TransportDocker, k8s.Transport)
	assert.Equal(t, "k8s", k8s.ToolPrefix)
	assert.Equal(t, []string{"-v", "/home/me/.kube:/root/.kube", "mcp/k8s"}, k8s.Args)
	assert.NotNil(t, k8s.Env)
	assert.Equal(t, "Kubernetes tools", k8s.Description)
}

func TestParseServers_ArrayForm(t *testing.T) {
	data := []byte(`[
		{"name": "weather", "command": "weather-mcp", "env": ["UNITS=metric"], "timeout": 12},
		{"name": "broken"}
	]`)

	result, err := ParseServers(data, FormatJSON)
	require.NoError(t, err)

	require.Len(t, result.Servers, 1)
	weather := result.Servers[0]
	assert.Equal(t, "weather", weather.Name)
	assert.Equal(t, TransportLocal, weather.Transport)
	assert.Equal(t, map[string]string{"UNITS": "metric"}, weather.Env)
	assert.Equal(t, 12*time.Second, weather.Timeout)
	assert.Empty(t, weather.Args)

	require.Len(t, result.Errors, 1)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, result.Errors[0], &cfgErr)
	assert.Equal(t, "broken.command", cfgErr.Key)
	assert.Error(t, result.Err())
}

func TestParseServers_MissingCommandRejectsOnlyThatServer(t *testing.T) {
	data := []byte(`{"good": {"command": "good-mcp"}, "bad": {"args": ["x"]}}`)

	result, err := ParseServers(data, FormatJSON)
	require.NoError(t, err)
	require.Len(t, result.Servers, 1)
	assert.Equal(t, "good", result.Servers[0].Name)
	require.Len(t, result.Errors, 1)
	assert.True(t, errors.IsConfig(result.Errors[0]))
}

func TestParseServers_MalformedEntryRejectsOnlyThatServer(t *testing.T) {
	tests := []struct {
		name string
		data string
		key  string
	}{
		{"object form", `{"good": {"command": "/bin/true"}, "bad": {"command": "docker", "args": "run img"}}`, "bad"},
		{"array form", `[{"name": "good", "command": "/bin/true"}, {"name": "bad", "command": "docker", "enabled": "yes"}]`, "bad"},
		{"array form without name", `[{"name": "good", "command": "/bin/true"}, "oops"]`, "servers[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServers([]byte(tt.data), FormatJSON)
			require.NoError(t, err)
			require.Len(t, result.Servers, 1)
			assert.Equal(t, "good", result.Servers[0].Name)

			require.Len(t, result.Errors, 1)
			var cfgErr *errors.ConfigError
			require.ErrorAs(t, result.Errors[0], &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestParseServers_DottedServerName(t *testing.T) {
	data := []byte(`{"k8s.prod": {"command": "docker", "args": ["mcp/k8s"]}, "k8s.dev": {"command": "docker", "tool_prefix": "kdev"}}`)

	result, err := ParseServers(data, FormatJSON)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Servers, 2)

	assert.Equal(t, "k8s.dev", result.Servers[0].Name)
	assert.Equal(t, "kdev", result.Servers[0].ToolPrefix)
	assert.Equal(t, "k8s.prod", result.Servers[1].Name)
	assert.Equal(t, "k8s_prod", result.Servers[1].ToolPrefix)
	assert.Equal(t, "k8s_prod_get_pods", result.Servers[1].PublicName("get_pods"))
}

func TestParseServers_YAML(t *testing.T) {
	data := []byte(`
k8s:
  command: docker
  args: [mcp/k8s]
  include: ["get_*"]
  exclude: ["get_secrets"]
  env:
    KUBECONFIG: /root/.kube/config
`)

	result, err := ParseServers(data, FormatYAML)
	require.NoError(t, err)
	require.Len(t, result.Servers, 1)

	k8s := result.Servers[0]
	assert.Equal(t, []string{"get_*"}, k8s.Include)
	assert.Equal(t, "/root/.kube/config", k8s.Env["KUBECONFIG"])
	assert.True(t, k8s.Admits("get_pods"))
	assert.False(t, k8s.Admits("get_secrets"))
	assert.False(t, k8s.Admits("delete_pod"))
}

func TestParseServers_MCPServersWrapper(t *testing.T) {
	data := []byte(`{"mcpServers": {"git": {"command": "git-mcp"}}}`)

	result, err := ParseServers(data, FormatJSON)
	require.NoError(t, err)
	require.Len(t, result.Servers, 1)
	assert.Equal(t, "git", result.Servers[0].Name)
}

func TestParseServers_ExpandsEnv(t *testing.T) {
	t.Setenv("JIB_TEST_TOKEN", "s3cret")
	data := []byte(`{"gh": {"command": "gh-mcp", "args": ["--token", "${JIB_TEST_TOKEN}"], "env": {"GITHUB_TOKEN": "$JIB_TEST_TOKEN"}}}`)

	result, err := ParseServers(data, FormatJSON)
	require.NoError(t, err)
	require.Len(t, result.Servers, 1)
	assert.Equal(t, []string{"--token", "s3cret"}, result.Servers[0].Args)
	assert.Equal(t, "s3cret", result.Servers[0].Env["GITHUB_TOKEN"])
}

func TestParseServers_InvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		data string
		key  string
	}{
		{"bad timeout", `{"a": {"command": "x", "timeout": "soon"}}`, "a.timeout"},
		{"negative rate", `{"a": {"command": "x", "rate_limit": -1}}`, "a.rate_limit"},
		{"bad glob", `{"a": {"command": "x", "include": ["[oops"]}}`, "a.include"},
		{"bad prefix", `{"a": {"command": "x", "tool_prefix": "has space"}}`, "a.tool_prefix"},
		{"name not usable as prefix", `{"9lives": {"command": "x"}}`, "9lives.tool_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServers([]byte(tt.data), FormatJSON)
			require.NoError(t, err)
			assert.Empty(t, result.Servers)
			require.Len(t, result.Errors, 1)

			var cfgErr *errors.ConfigError
			require.ErrorAs(t, result.Errors[0], &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestParseServers_InvalidDocument(t *testing.T) {
	_, err := ParseServers([]byte(`{"a": `), FormatJSON)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	result, err := ParseServers([]byte("  "), FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, result.Servers)
}

func TestLoadServersFile(t *testing.T) {
	dir := t.TempDir()

	result, err := LoadServersFile(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, result.Servers)

	path := filepath.Join(dir, "servers.yml")
	require.NoError(t, os.WriteFile(path, []byte("git:\n  command: git-mcp\n"), 0o644))
	result, err = LoadServersFile(path)
	require.NoError(t, err)
	require.Len(t, result.Servers, 1)
	assert.Equal(t, "git", result.Servers[0].Name)
}

func TestServerConfig_PublicName(t *testing.T) {
	cfg := ServerConfig{Name: "kubernetes", ToolPrefix: "k8s"}
	assert.Equal(t, "k8s_get_pods", cfg.PublicName("get_pods"))
}

func TestServerConfig_EnvList(t *testing.T) {
	cfg := ServerConfig{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, cfg.EnvList())
}

func TestRedactEnv(t *testing.T) {
	out := RedactEnv(map[string]string{
		"GITHUB_TOKEN": "ghp_abc",
		"API_KEY":      "sk-123",
		"DB_PASSWORD":  "hunter2",
		"REGION":       "us-east-1",
		"EMPTY_SECRET": "",
	})

	assert.Equal(t, "****", out["GITHUB_TOKEN"])
	assert.Equal(t, "****", out["API_KEY"])
	assert.Equal(t, "****", out["DB_PASSWORD"])
	assert.Equal(t, "us-east-1", out["REGION"])
	assert.Equal(t, "", out["EMPTY_SECRET"])
}

func TestDockerArgs(t *testing.T) {
	assert.Equal(t, []string{"run", "-i", "--rm", "mcp/k8s"}, DockerArgs([]string{"mcp/k8s"}))
	assert.Equal(t, []string{"run", "--rm", "-i", "img"}, DockerArgs([]string{"run", "--rm", "-i", "img"}))
	assert.Equal(t, []string{"run", "-i", "--rm"}, DockerArgs(nil))
}
