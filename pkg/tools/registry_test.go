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

package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

// mockTool is a mock implementation of the Tool interface for testing.
type mockTool struct {
	name   string
	server string
	schema *Schema
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock " + m.name }
func (m *mockTool) Schema() *Schema     { return m.schema }
func (m *mockTool) Server() string      { return m.server }

func (m *mockTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	return OK("ran " + m.name), nil
}

func newMock(name, server string) *mockTool {
	return &mockTool{
		name:   name,
		server: server,
		schema: &Schema{Inputs: &ParameterSchema{Type: "object"}},
	}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		tool    Tool
		wantErr bool
	}{
		{name: "valid tool", tool: newMock("read_file", "")},
		{name: "nil tool", tool: nil, wantErr: true},
		{name: "empty name", tool: newMock("", ""), wantErr: true},
		{name: "nil schema", tool: &mockTool{name: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.tool)
			if tt.wantErr {
				var ve *errors.ValidationError
				assert.ErrorAs(t, err, &ve)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := NewRegistry()
	first := newMock("k8s_kubectl_get", "k8s")
	require.NoError(t, r.Register(first))

	err := r.Register(newMock("k8s_kubectl_get", "other"))
	var dup *errors.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "k8s_kubectl_get", dup.Name)

	got, err := r.Get("k8s_kubectl_get")
	require.NoError(t, err)
	assert.Same(t, first, got, "existing entry must not be overwritten")
}

func TestRegistry_LookupRoundTrip(t *testing.T) {
	r := NewRegistry()
	tool := newMock("write_file", "")
	require.NoError(t, r.Register(tool))

	got, err := r.Get("write_file")
	require.NoError(t, err)
	assert.Same(t, tool, got)
	assert.True(t, r.Has("write_file"))

	_, err = r.Get("missing")
	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "tool", nf.Resource)
	assert.Equal(t, "missing", nf.ID)
	assert.False(t, r.Has("missing"))
}

func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMock("read_file", "")))
	require.NoError(t, r.Register(newMock("k8s_kubectl_get", "k8s")))
	require.NoError(t, r.Register(newMock("write_file", "")))
	require.NoError(t, r.Register(newMock("fs_list", "fs")))
	require.NoError(t, r.Register(newMock("linux_command", "")))

	assert.Equal(t,
		[]string{"read_file", "write_file", "linux_command", "k8s_kubectl_get", "fs_list"},
		r.Names(),
	)
	assert.Equal(t, 5, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMock("read_file", "")))
	require.NoError(t, r.Register(newMock("k8s_a", "k8s")))
	require.NoError(t, r.Register(newMock("k8s_b", "k8s")))
	require.NoError(t, r.Register(newMock("fs_a", "fs")))

	assert.Equal(t, 2, r.UnregisterServer("k8s"))
	assert.Equal(t, []string{"read_file", "fs_a"}, r.Names())
	assert.Equal(t, 0, r.UnregisterServer(""), "local tools are never removed by server")

	assert.True(t, r.Unregister("fs_a"))
	assert.False(t, r.Unregister("fs_a"))
	assert.Equal(t, []string{"read_file"}, r.Names())

	// a freed name can be registered again
	require.NoError(t, r.Register(newMock("k8s_a", "k8s")))
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMock("read_file", "")))

	snap := r.Snapshot()
	require.NoError(t, r.Register(newMock("k8s_a", "k8s")))
	r.Unregister("read_file")

	assert.Equal(t, []string{"read_file"}, snap.Names())
	assert.Equal(t, []string{"k8s_a"}, r.Names())
}

func TestRegistry_Descriptors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMock("k8s_a", "k8s")))

	d := r.Descriptors()
	require.Len(t, d, 1)
	assert.Equal(t, "k8s_a", d[0].Name)
	assert.Equal(t, "k8s", d[0].Server)
	assert.Equal(t, "mock k8s_a", d[0].Description)
}

func TestValidateArgs(t *testing.T) {
	tool := &mockTool{
		name: "read_file",
		schema: &Schema{Inputs: &ParameterSchema{
			Type:       "object",
			Properties: map[string]*Property{"filepath": {Type: "string"}},
			Required:   []string{"filepath"},
		}},
	}

	assert.NoError(t, ValidateArgs(tool, map[string]any{"filepath": "/tmp/a"}))

	err := ValidateArgs(tool, map[string]any{})
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "filepath", ve.Field)
}

type aliasedTool struct {
	*mockTool
}

func (a aliasedTool) ArgumentAliases() map[string]string {
	return map[string]string{"path": "filepath", "file_path": "filepath"}
}

func TestNormalizeArgs(t *testing.T) {
	tool := aliasedTool{newMock("write_file", "")}

	tests := []struct {
		name string
		args map[string]any
		want map[string]any
	}{
		{
			name: "alias renamed",
			args: map[string]any{"path": "/a", "content": "x"},
			want: map[string]any{"filepath": "/a", "content": "x"},
		},
		{
			name: "second alias renamed",
			args: map[string]any{"file_path": "/b"},
			want: map[string]any{"filepath": "/b"},
		},
		{
			name: "canonical wins",
			args: map[string]any{"filepath": "/c", "path": "/ignored"},
			want: map[string]any{"filepath": "/c"},
		},
		{
			name: "no aliases present",
			args: map[string]any{"filepath": "/d"},
			want: map[string]any{"filepath": "/d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(tt.args)
			assert.Equal(t, tt.want, NormalizeArgs(tool, tt.args))
			assert.Len(t, tt.args, before)
		})
	}

	plain := newMock("read_file", "")
	args := map[string]any{"path": "/a"}
	assert.Equal(t, args, NormalizeArgs(plain, args))
}

func TestParameterSchema_PropertyNames(t *testing.T) {
	p := &ParameterSchema{
		Properties: map[string]*Property{
			"max_lines":  {Type: "integer"},
			"filepath":   {Type: "string"},
			"start_line": {Type: "integer"},
		},
		Required: []string{"filepath"},
	}

	assert.Equal(t, []string{"filepath", "max_lines", "start_line"}, p.PropertyNames())
	assert.True(t, p.IsRequired("filepath"))
	assert.False(t, p.IsRequired("max_lines"))

	var nilSchema *ParameterSchema
	assert.Nil(t, nilSchema.PropertyNames())
}

func TestResult_Text(t *testing.T) {
	assert.Equal(t, "hello", OK("hello").Text())
	assert.Equal(t, "ERROR: unknown tool: x", Failed("unknown tool: x").Text())
	assert.True(t, Failed("x").IsError())
	assert.False(t, OK("").IsError())

	var nilResult *Result
	assert.True(t, nilResult.IsError())
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	assert.Equal(t, "Authorization: Bearer [REDACTED]", r.Redact("Authorization: Bearer abcdefghijklmnop"))
	assert.Equal(t, "postgres://admin:[REDACTED]@db:5432", r.Redact("postgres://admin:hunter22@db:5432"))
	assert.Equal(t, "nothing to see", r.Redact("nothing to see"))

	args := r.RedactArgs(map[string]any{
		"password": "hunter2",
		"command":  "curl -H 'Authorization: Bearer abcdefghijklmnop'",
		"count":    3,
	})
	assert.Equal(t, "[REDACTED]", args["password"])
	assert.Equal(t, "curl -H 'Authorization: Bearer [REDACTED]'", args["command"])
	assert.Equal(t, 3, args["count"])
}
