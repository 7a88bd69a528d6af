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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

// DefaultServersFile is the servers file name in the user's home directory.
const DefaultServersFile = ".jbrsh-mcp-servers.json"

// DefaultTimeout bounds a single transport call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// ServerNameRegex validates server names: up to 128 printable characters
// without whitespace.
var ServerNameRegex = regexp.MustCompile(`^[[:graph:]]{1,128}$`)

// ToolPrefixRegex validates tool prefixes, which become part of tool names.
// Prefixes must start with a letter and contain only letters, numbers,
// hyphens, and underscores. Maximum length is 64 characters.
var ToolPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

var prefixUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// DefaultToolPrefix derives a prefix from a server name by replacing every
// character a tool name cannot carry with an underscore.
func DefaultToolPrefix(name string) string {
	return prefixUnsafe.ReplaceAllString(name, "_")
}

// TransportKind identifies how a server is reached.
type TransportKind string

const (
	TransportDocker TransportKind = "docker"
	TransportLocal  TransportKind = "local_process"
	TransportHTTP   TransportKind = "http"
)

// ClassifyTransport picks the transport for a command. URLs win over docker,
// and anything else is a local process.
func ClassifyTransport(command string) TransportKind {
	switch {
	case strings.HasPrefix(command, "http://"), strings.HasPrefix(command, "https://"):
		return TransportHTTP
	case command == "docker":
		return TransportDocker
	default:
		return TransportLocal
	}
}

// ServerConfig is one validated servers file entry. It is not modified after
// parsing.
type ServerConfig struct {
	Name        string
	Enabled     bool
	Transport   TransportKind
	Command     string
	Args        []string
	Env         map[string]string
	Description string
	ToolPrefix  string

	// Include and Exclude are doublestar globs matched against remote tool
	// names. An empty Include admits everything.
	Include []string
	Exclude []string

	// Timeout bounds each call. Zero means the manager default.
	Timeout time.Duration

	// RateLimit caps HTTP requests per second. Zero disables it.
	RateLimit float64

	// Headers are extra HTTP request headers.
	Headers map[string]string

	// Handshake sends an initialize request ahead of each stdio request.
	Handshake bool
}

// PublicName returns the registry name for a remote tool.
func (c ServerConfig) PublicName(remote string) string {
	return c.ToolPrefix + "_" + remote
}

// Admits reports whether a remote tool name passes the include and exclude
// filters.
func (c ServerConfig) Admits(remote string) bool {
	if len(c.Include) > 0 {
		matched := false
		for _, pattern := range c.Include {
			if ok, _ := doublestar.Match(pattern, remote); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range c.Exclude {
		if ok, _ := doublestar.Match(pattern, remote); ok {
			return false
		}
	}
	return true
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (c ServerConfig) EnvList() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

// sensitiveEnvMarkers flag env keys whose values are never displayed.
var sensitiveEnvMarkers = []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "PASS", "CREDENTIAL", "AUTH"}

// RedactEnv returns a copy of env with sensitive values masked.
func RedactEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		upper := strings.ToUpper(k)
		masked := false
		for _, marker := range sensitiveEnvMarkers {
			if strings.Contains(upper, marker) {
				masked = true
				break
			}
		}
		if masked && v != "" {
			out[k] = "****"
		} else {
			out[k] = v
		}
	}
	return out
}

// FileFormat is the encoding of a servers file.
type FileFormat string

const (
	FormatJSON FileFormat = "json"
	FormatYAML FileFormat = "yaml"
)

// FormatFromPath picks YAML for .yaml and .yml files and JSON otherwise.
func FormatFromPath(path string) FileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseResult holds the servers that parsed and the per-server errors of
// those that did not.
type ParseResult struct {
	Servers []ServerConfig
	Errors  []error
}

// Err joins the per-server errors.
func (r *ParseResult) Err() error {
	return errors.Join(r.Errors...)
}

// rawServer is the on-disk shape of a server entry.
type rawServer struct {
	Name        string            `json:"name"`
	Enabled     *bool             `json:"enabled"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         envMap            `json:"env"`
	Description string            `json:"description"`
	ToolPrefix  string            `json:"tool_prefix"`
	Include     []string          `json:"include"`
	Exclude     []string          `json:"exclude"`
	Timeout     json.RawMessage   `json:"timeout"`
	RateLimit   float64           `json:"rate_limit"`
	Headers     map[string]string `json:"headers"`
	Handshake   bool              `json:"handshake"`
}

// envMap accepts either an object or a list of KEY=VALUE strings.
type envMap map[string]string

func (e *envMap) UnmarshalJSON(data []byte) error {
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err == nil {
		*e = obj
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("env must be an object or a list of KEY=VALUE strings")
	}
	out := make(map[string]string, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("env entry %q is not KEY=VALUE", kv)
		}
		out[k] = v
	}
	*e = out
	return nil
}

// LoadServersFile reads and parses a servers file. A missing file yields an
// empty result.
func LoadServersFile(path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ParseResult{}, nil
		}
		return nil, fmt.Errorf("failed to read servers file %s: %w", path, err)
	}
	return ParseServers(data, FormatFromPath(path))
}

// ParseServers decodes a servers file. The document error is returned when the
// file itself cannot be decoded; invalid entries are reported in
// ParseResult.Errors and skipped. Servers are sorted by name.
func ParseServers(data []byte, format FileFormat) (*ParseResult, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, &errors.ConfigError{Key: "servers", Reason: "invalid YAML", Cause: err}
		}
		data = converted
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &ParseResult{}, nil
	}

	entries, err := decodeEntries(data)
	if err != nil {
		return nil, &errors.ConfigError{Key: "servers", Reason: "invalid servers file", Cause: err}
	}

	result := &ParseResult{}
	for _, entry := range entries {
		if entry.err != nil {
			result.Errors = append(result.Errors, entry.err)
			continue
		}
		cfg, err := entry.server.toConfig()
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Servers = append(result.Servers, cfg)
	}

	sort.Slice(result.Servers, func(i, j int) bool {
		return result.Servers[i].Name < result.Servers[j].Name
	})
	return result, nil
}

// rawEntry is one decoded entry, or the error that kept it from decoding.
type rawEntry struct {
	server rawServer
	err    error
}

// decodeEntries handles the object form, the array form and an object wrapped
// in an "mcpServers" key. Only a document that is not an object or array
// fails as a whole; a malformed entry is reported on that entry.
func decodeEntries(data []byte) ([]rawEntry, error) {
	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		entries := make([]rawEntry, 0, len(list))
		for i, raw := range list {
			var server rawServer
			if err := json.Unmarshal(raw, &server); err != nil {
				key := fmt.Sprintf("servers[%d]", i)
				var named struct {
					Name string `json:"name"`
				}
				if json.Unmarshal(raw, &named) == nil && named.Name != "" {
					key = named.Name
				}
				entries = append(entries, rawEntry{err: &errors.ConfigError{Key: key, Reason: "invalid server entry", Cause: err}})
				continue
			}
			entries = append(entries, rawEntry{server: server})
		}
		return entries, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if inner, ok := obj["mcpServers"]; ok && len(obj) == 1 {
		if err := json.Unmarshal(inner, &obj); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]rawEntry, 0, len(obj))
	for _, name := range names {
		raw := obj[name]
		var server rawServer
		if err := json.Unmarshal(raw, &server); err != nil {
			entries = append(entries, rawEntry{err: &errors.ConfigError{Key: name, Reason: "invalid server entry", Cause: err}})
			continue
		}
		server.Name = name
		entries = append(entries, rawEntry{server: server})
	}
	return entries, nil
}

func (r rawServer) toConfig() (ServerConfig, error) {
	key := func(field string) string { return r.Name + "." + field }

	if r.Name == "" {
		return ServerConfig{}, &errors.ConfigError{Key: "name", Reason: "server name is required"}
	}
	if !ServerNameRegex.MatchString(r.Name) {
		return ServerConfig{}, &errors.ConfigError{Key: key("name"), Reason: fmt.Sprintf("invalid server name %q", r.Name)}
	}
	if strings.TrimSpace(r.Command) == "" {
		return ServerConfig{}, &errors.ConfigError{Key: key("command"), Reason: "command is required"}
	}

	cfg := ServerConfig{
		Name:        r.Name,
		Enabled:     r.Enabled == nil || *r.Enabled,
		Command:     strings.TrimSpace(r.Command),
		Args:        make([]string, 0, len(r.Args)),
		Env:         make(map[string]string, len(r.Env)),
		Description: r.Description,
		ToolPrefix:  r.ToolPrefix,
		Include:     r.Include,
		Exclude:     r.Exclude,
		RateLimit:   r.RateLimit,
		Headers:     make(map[string]string, len(r.Headers)),
		Handshake:   r.Handshake,
	}
	cfg.Transport = ClassifyTransport(cfg.Command)
	if cfg.ToolPrefix == "" {
		cfg.ToolPrefix = DefaultToolPrefix(r.Name)
	}
	if !ToolPrefixRegex.MatchString(cfg.ToolPrefix) {
		return ServerConfig{}, &errors.ConfigError{Key: key("tool_prefix"), Reason: fmt.Sprintf("invalid tool_prefix %q", cfg.ToolPrefix)}
	}

	for _, arg := range r.Args {
		cfg.Args = append(cfg.Args, os.ExpandEnv(arg))
	}
	for k, v := range r.Env {
		cfg.Env[k] = os.ExpandEnv(v)
	}
	for k, v := range r.Headers {
		cfg.Headers[k] = os.ExpandEnv(v)
	}

	for _, pattern := range append(append([]string{}, r.Include...), r.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return ServerConfig{}, &errors.ConfigError{Key: key("include"), Reason: fmt.Sprintf("invalid glob %q", pattern)}
		}
	}

	timeout, err := parseTimeout(r.Timeout)
	if err != nil {
		return ServerConfig{}, &errors.ConfigError{Key: key("timeout"), Reason: "invalid timeout", Cause: err}
	}
	cfg.Timeout = timeout

	if cfg.RateLimit < 0 {
		return ServerConfig{}, &errors.ConfigError{Key: key("rate_limit"), Reason: "rate_limit must be >= 0"}
	}
	return cfg, nil
}

// parseTimeout accepts a Go duration string or a number of seconds.
func parseTimeout(raw json.RawMessage) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
		if d < 0 {
			return 0, fmt.Errorf("timeout must not be negative")
		}
		return d, nil
	}

	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return 0, fmt.Errorf("timeout must be a duration string or seconds")
	}
	if seconds < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one
// decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(doc)
}
