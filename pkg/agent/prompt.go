package agent

import (
	"fmt"
	"strings"

	"github.com/bjeremy23/jibberish/pkg/llm"
	"github.com/bjeremy23/jibberish/pkg/toolcall"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// BuildToolContext renders the system message that tells the model which
// tools exist and how to request one. Returns false when there are no tools.
func BuildToolContext(descriptors []tools.ToolDescriptor) (llm.Message, bool) {
	if len(descriptors) == 0 {
		return llm.Message{}, false
	}

	var b strings.Builder
	b.WriteString("You have access to the following tools to help answer questions:\n\n")
	for _, d := range descriptors {
		writeDescriptor(&b, d)
	}

	example := exampleRequest(descriptors[0])
	b.WriteString("\nTo use a tool, reply with exactly one tool call on its own line in any of these forms:\n\n")
	for _, syntax := range toolcall.Syntaxes {
		b.WriteString("  ")
		b.WriteString(toolcall.Format(example, syntax))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nRequest one tool at a time. The result is returned as a tool message; "+
		"you may then call another tool or answer. At most %d tool calls are allowed per question. "+
		"Use the exact parameter names listed above. Answer without a tool call when none is needed.\n", MaxIterations)

	return llm.SystemMessage(b.String()), true
}

func writeDescriptor(b *strings.Builder, d tools.ToolDescriptor) {
	fmt.Fprintf(b, "- %s: %s", d.Name, d.Description)
	if d.Server != "" {
		fmt.Fprintf(b, " [server: %s]", d.Server)
	}
	b.WriteString("\n")

	if d.Schema == nil || d.Schema.Inputs == nil {
		return
	}
	inputs := d.Schema.Inputs
	for _, name := range inputs.PropertyNames() {
		prop := inputs.Properties[name]
		typ := "any"
		desc := ""
		if prop != nil {
			if prop.Type != "" {
				typ = prop.Type
			}
			desc = prop.Description
		}
		req := "optional"
		if inputs.IsRequired(name) {
			req = "required"
		}
		fmt.Fprintf(b, "    • %s (%s) (%s)", name, typ, req)
		if desc != "" {
			b.WriteString(": " + desc)
		}
		b.WriteString("\n")
	}
}

// exampleRequest builds a call with placeholder values for the required
// parameters of d.
func exampleRequest(d tools.ToolDescriptor) toolcall.Request {
	args := map[string]any{}
	if d.Schema != nil && d.Schema.Inputs != nil {
		for _, name := range d.Schema.Inputs.Required {
			prop := d.Schema.Inputs.Properties[name]
			args[name] = placeholder(name, prop)
		}
	}
	return toolcall.Request{ToolName: d.Name, Arguments: args}
}

func placeholder(name string, prop *tools.Property) any {
	if prop == nil {
		return "<" + name + ">"
	}
	switch prop.Type {
	case "integer":
		return 1
	case "number":
		return 1.5
	case "boolean":
		return true
	default:
		return "<" + name + ">"
	}
}
