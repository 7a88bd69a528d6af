package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjeremy23/jibberish/pkg/llm"
	"github.com/bjeremy23/jibberish/pkg/toolcall"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

func TestBuildToolContext(t *testing.T) {
	descriptors := []tools.ToolDescriptor{
		{
			Name:        "read_file",
			Description: "Read a file",
			Schema: &tools.Schema{Inputs: &tools.ParameterSchema{
				Type: "object",
				Properties: map[string]*tools.Property{
					"filepath":   {Type: "string", Description: "Path to read"},
					"start_line": {Type: "integer"},
				},
				Required: []string{"filepath"},
			}},
		},
		{Name: "k8s_get_pods", Description: "List pods", Server: "k8s"},
	}

	msg, ok := BuildToolContext(descriptors)
	require.True(t, ok)
	assert.Equal(t, llm.MessageRoleSystem, msg.Role)

	content := msg.Content
	assert.Contains(t, content, "- read_file: Read a file")
	assert.Contains(t, content, "filepath (string) (required): Path to read")
	assert.Contains(t, content, "start_line (integer) (optional)")
	assert.Contains(t, content, "- k8s_get_pods: List pods [server: k8s]")

	// Every example line parses back to the first tool.
	for _, syntax := range toolcall.Syntaxes {
		example := toolcall.Format(toolcall.Request{
			ToolName:  "read_file",
			Arguments: map[string]any{"filepath": "<filepath>"},
		}, syntax)
		assert.Contains(t, content, example)

		req, ok := toolcall.Parse(example)
		require.True(t, ok, "example %q should parse", example)
		assert.Equal(t, "read_file", req.ToolName)
		assert.Equal(t, "<filepath>", req.Arguments["filepath"])
	}
}

func TestBuildToolContext_Empty(t *testing.T) {
	_, ok := BuildToolContext(nil)
	assert.False(t, ok)
}

func TestBuildToolContext_MentionsLimit(t *testing.T) {
	msg, ok := BuildToolContext([]tools.ToolDescriptor{{Name: "echo", Description: "Echo"}})
	require.True(t, ok)
	assert.True(t, strings.Contains(msg.Content, "At most 3 tool calls"))
}
