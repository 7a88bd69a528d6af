// Package llm defines the completion collaborator used by the agent loop.
//
// A Provider turns an ordered list of messages into assistant text. The
// engine never depends on a particular vendor; providers live in
// pkg/llm/providers.
package llm

import (
	"context"
	"time"
)

// Provider is the completion capability: messages in, assistant text out.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "openai").
	Name() string

	// Complete sends a synchronous completion request and returns the full response.
	// This method blocks until the response is complete or ctx is done.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest contains all parameters for a completion request.
type CompletionRequest struct {
	// Messages is the conversation history including the current prompt.
	Messages []Message

	// Model specifies which model to use. Empty means the provider default.
	Model string

	// Temperature controls randomness. If nil, uses the provider default.
	Temperature *float64

	// MaxTokens limits the response length. If nil, uses the provider default.
	MaxTokens *int

	// StopSequences are strings that halt generation when encountered.
	StopSequences []string

	// Metadata contains request tracking information (correlation IDs, etc).
	Metadata map[string]string
}

// Message represents a single message in a conversation.
type Message struct {
	// Role indicates who sent this message.
	Role MessageRole

	// Content is the text content of the message.
	Content string

	// Name identifies the tool that produced this result.
	// Only set when Role is "tool".
	Name string
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	// MessageRoleSystem indicates a system message (context, instructions).
	MessageRoleSystem MessageRole = "system"

	// MessageRoleUser indicates a message from the user.
	MessageRoleUser MessageRole = "user"

	// MessageRoleAssistant indicates a message from the model.
	MessageRoleAssistant MessageRole = "assistant"

	// MessageRoleTool indicates a tool execution result.
	MessageRoleTool MessageRole = "tool"
)

// SystemMessage, UserMessage and AssistantMessage build messages.
func SystemMessage(content string) Message {
	return Message{Role: MessageRoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: MessageRoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: MessageRoleAssistant, Content: content}
}

// ToolMessage builds the message carrying a tool result back to the model.
func ToolMessage(tool, content string) Message {
	return Message{Role: MessageRoleTool, Content: content, Name: tool}
}

// CompletionResponse contains the full response from a completion.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string

	// FinishReason explains why generation stopped.
	FinishReason FinishReason

	// Usage contains token consumption information.
	Usage TokenUsage

	// Model is the actual model ID that handled this request.
	Model string

	// RequestID is the unique identifier for this request (for tracing).
	RequestID string

	// Created is the timestamp when this response was generated.
	Created time.Time
}

// FinishReason indicates why completion generation stopped.
type FinishReason string

const (
	// FinishReasonStop indicates natural completion.
	FinishReasonStop FinishReason = "stop"

	// FinishReasonLength indicates max_tokens limit reached.
	FinishReasonLength FinishReason = "length"

	// FinishReasonContentFilter indicates content policy violation.
	FinishReasonContentFilter FinishReason = "content_filter"
)

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
