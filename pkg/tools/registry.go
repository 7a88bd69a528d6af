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
	"sort"
	"sync"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

// Tool represents an invocable tool, local or remote.
type Tool interface {
	// Name returns the unique, public identifier for this tool
	Name() string

	// Description returns a human-readable description of what the tool does
	Description() string

	// Schema returns the parameter schema for the tool's arguments
	Schema() *Schema

	// Execute runs the tool. A returned error is a failure to run the tool
	// at all; tool-level failures are reported through an error-status Result.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Origin is implemented by tools contributed by an MCP server.
type Origin interface {
	// Server returns the configured name of the contributing server.
	Server() string
}

// OriginOf returns the server that contributed t, or "" for local tools.
func OriginOf(t Tool) string {
	if o, ok := t.(Origin); ok {
		return o.Server()
	}
	return ""
}

// Schema defines the argument schema for a tool using JSON Schema conventions.
type Schema struct {
	// Inputs defines the expected arguments
	Inputs *ParameterSchema `json:"inputs"`
}

// ParameterSchema defines a set of parameters using JSON Schema conventions.
type ParameterSchema struct {
	// Type is the JSON type (normally "object")
	Type string `json:"type"`

	// Properties defines the named parameters
	Properties map[string]*Property `json:"properties,omitempty"`

	// Required lists the required property names
	Required []string `json:"required,omitempty"`

	// Description provides human-readable context
	Description string `json:"description,omitempty"`
}

// Property defines a single parameter.
type Property struct {
	// Type is the JSON type of this property
	Type string `json:"type"`

	// Description explains what this property represents
	Description string `json:"description,omitempty"`

	// Enum lists allowed values
	Enum []any `json:"enum,omitempty"`

	// Default provides a default value if not specified
	Default any `json:"default,omitempty"`
}

// PropertyNames returns the schema's parameter names, required first, each
// group sorted.
func (p *ParameterSchema) PropertyNames() []string {
	if p == nil {
		return nil
	}
	required := make(map[string]bool, len(p.Required))
	for _, r := range p.Required {
		required[r] = true
	}

	var req, opt []string
	for name := range p.Properties {
		if required[name] {
			req = append(req, name)
		} else {
			opt = append(opt, name)
		}
	}
	sort.Strings(req)
	sort.Strings(opt)
	return append(req, opt...)
}

// IsRequired reports whether name is a required parameter.
func (p *ParameterSchema) IsRequired(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Registry holds every invocable tool under its public name.
//
// Mutation is serialized behind a single writer lock. Readers that need a
// stable view for the length of a conversation turn take a Snapshot.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. It fails with *errors.DuplicateNameError
// if the name is already present; existing entries are never overwritten.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return &errors.ValidationError{Field: "tool", Message: "cannot register nil tool"}
	}

	name := tool.Name()
	if name == "" {
		return &errors.ValidationError{Field: "name", Message: "tool name cannot be empty"}
	}
	if tool.Schema() == nil {
		return &errors.ValidationError{Field: "schema", Message: "tool schema cannot be nil: " + name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return &errors.DuplicateNameError{Resource: "tool", Name: name}
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a tool. It reports whether the tool was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)
	r.removeFromOrder(func(n string) bool { return n == name })
	return true
}

// UnregisterServer removes every tool contributed by server and returns how
// many were removed.
func (r *Registry) UnregisterServer(server string) int {
	if server == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, tool := range r.tools {
		if OriginOf(tool) == server {
			delete(r.tools, name)
			removed++
		}
	}
	if removed > 0 {
		r.removeFromOrder(func(n string) bool {
			_, exists := r.tools[n]
			return !exists
		})
	}
	return removed
}

// removeFromOrder drops matching names. Caller holds the write lock.
func (r *Registry) removeFromOrder(drop func(string) bool) {
	kept := r.order[:0]
	for _, n := range r.order {
		if !drop(n) {
			kept = append(kept, n)
		}
	}
	r.order = kept
}

// Get retrieves a tool by its exact public name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &errors.NotFoundError{
			Resource: "tool",
			ID:       name,
		}
	}

	return tool, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all tools in registration order with local tools first.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	local := make([]Tool, 0, len(r.order))
	var remote []Tool
	for _, name := range r.order {
		tool := r.tools[name]
		if OriginOf(tool) == "" {
			local = append(local, tool)
		} else {
			remote = append(remote, tool)
		}
	}
	return append(local, remote...)
}

// Names returns the public names in List order.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// Snapshot returns an independent copy of the registry. Later mutations of
// r are not visible through the snapshot.
func (r *Registry) Snapshot() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Registry{
		tools: make(map[string]Tool, len(r.tools)),
		order: append([]string(nil), r.order...),
	}
	for name, tool := range r.tools {
		snap.tools[name] = tool
	}
	return snap
}

// ToolDescriptor describes a tool for prompt generation.
type ToolDescriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Server      string  `json:"server,omitempty"`
	Schema      *Schema `json:"schema"`
}

// Descriptors returns descriptors for all registered tools in List order.
func (r *Registry) Descriptors() []ToolDescriptor {
	tools := r.List()
	descriptors := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			Server:      OriginOf(tool),
			Schema:      tool.Schema(),
		})
	}
	return descriptors
}

// Aliased is implemented by tools that accept alternative names for some of
// their parameters.
type Aliased interface {
	// ArgumentAliases maps each alternative name to its canonical parameter.
	ArgumentAliases() map[string]string
}

// NormalizeArgs renames alternative parameter names to their canonical names
// for tools implementing Aliased. A canonical name already present wins and
// the alternative is dropped. args itself is not modified.
func NormalizeArgs(tool Tool, args map[string]any) map[string]any {
	aliased, ok := tool.(Aliased)
	if !ok {
		return args
	}
	aliases := aliased.ArgumentAliases()

	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		if _, present := args[alias]; present {
			names = append(names, alias)
		}
	}
	if len(names) == 0 {
		return args
	}
	sort.Strings(names)

	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, alias := range names {
		canonical := aliases[alias]
		if _, present := out[canonical]; !present {
			out[canonical] = out[alias]
		}
		delete(out, alias)
	}
	return out
}

// ValidateArgs checks args against the tool's required parameters.
func ValidateArgs(tool Tool, args map[string]any) error {
	schema := tool.Schema()
	if schema == nil || schema.Inputs == nil {
		return nil
	}

	for _, required := range schema.Inputs.Required {
		if _, exists := args[required]; !exists {
			return &errors.ValidationError{
				Field:      required,
				Message:    "required argument missing for tool " + tool.Name(),
				Suggestion: "Check the tool schema for required arguments",
			}
		}
	}
	return nil
}
