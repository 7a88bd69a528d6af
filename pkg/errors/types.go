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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents invalid input, such as tool arguments that
// do not satisfy the tool's schema.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a lookup miss.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "tool", "server")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// DuplicateNameError is returned when a name is registered twice.
// Registrations never overwrite an existing entry.
type DuplicateNameError struct {
	// Resource is the type of resource (e.g., "tool")
	Resource string

	// Name is the colliding name
	Name string
}

// Error implements the error interface.
func (e *DuplicateNameError) Error() string {
	resource := e.Resource
	if resource == "" {
		resource = "tool"
	}
	return fmt.Sprintf("%s already registered: %s", resource, e.Name)
}

// ErrorType implements ErrorClassifier.
func (e *DuplicateNameError) ErrorType() string { return "duplicate" }

// IsRetryable implements ErrorClassifier.
func (e *DuplicateNameError) IsRetryable() bool { return false }

// ProviderError represents completion provider failures.
type ProviderError struct {
	// Provider is the name of the completion provider (e.g., "openai")
	Provider string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Hint provides actionable guidance for resolution
	Hint string

	// RequestID correlates this error with provider logs
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ProviderError) ErrorType() string { return "provider" }

// IsRetryable reports whether the provider signalled a transient failure.
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsUserVisible implements UserVisibleError.
func (e *ProviderError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ProviderError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *ProviderError) Suggestion() string { return e.Hint }

// ConfigError represents configuration problems. A ConfigError scoped to a
// single MCP server disables that server only.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "servers.k8s.command")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// IsUserVisible implements UserVisibleError.
func (e *ConfigError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ConfigError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *ConfigError) Suggestion() string {
	if strings.HasSuffix(e.Key, "tool_prefix") {
		return "Give each MCP server a distinct tool_prefix"
	}
	return ""
}

// TimeoutError represents operation timeouts.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "tools/call", "completion")
	Operation string

	// Duration is the bound that was exceeded
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

// DiscoveryError is produced when a server's tools/list call fails.
// The server contributes zero tools; discovery of other servers continues.
type DiscoveryError struct {
	// Server is the configured server name
	Server string

	// Cause is the underlying transport or decode failure
	Cause error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for server %s: %v", e.Server, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *DiscoveryError) ErrorType() string { return "discovery" }

// IsRetryable implements ErrorClassifier.
func (e *DiscoveryError) IsRetryable() bool { return true }

// TransportError covers spawn failures, timeouts, non-zero exits and
// malformed responses. It is turned into an error-status tool result and
// never terminates the caller.
type TransportError struct {
	// Server is the configured server name
	Server string

	// Transport is the transport kind ("docker", "local_process", "http")
	Transport string

	// Op is the JSON-RPC method being performed
	Op string

	// Message describes the failure
	Message string

	// Stderr holds trimmed diagnostic output from a spawned process
	Stderr string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s transport error", e.Transport)
	if e.Server != "" {
		fmt.Fprintf(&b, " (server %s)", e.Server)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " during %s", e.Op)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, " [stderr: %s]", e.Stderr)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TransportError) ErrorType() string { return "transport" }

// IsRetryable is always false: a dispatched call may already have had
// side effects.
func (e *TransportError) IsRetryable() bool { return false }
