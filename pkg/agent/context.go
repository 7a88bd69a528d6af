package agent

import (
	"strings"

	"github.com/bjeremy23/jibberish/pkg/llm"
)

// ContextManager bounds the messages sent to the provider.
type ContextManager struct {
	// maxTokens is the maximum context window size
	maxTokens int
}

// NewContextManager creates a new context manager.
func NewContextManager(maxTokens int) *ContextManager {
	return &ContextManager{maxTokens: maxTokens}
}

// Window returns the messages to send for the next completion. Leading
// system messages are always kept; the remaining budget is filled with the
// newest messages. The input slice is not modified.
func (cm *ContextManager) Window(messages []llm.Message) []llm.Message {
	if cm.maxTokens <= 0 || cm.EstimateTokens(messages) <= cm.maxTokens {
		return messages
	}

	head := 0
	for head < len(messages) && messages[head].Role == llm.MessageRoleSystem {
		head++
	}

	remaining := cm.maxTokens - cm.EstimateTokens(messages[:head])
	start := len(messages)
	for i := len(messages) - 1; i >= head; i-- {
		msgTokens := cm.estimateMessageTokens(messages[i])
		if remaining-msgTokens < 0 && start < len(messages) {
			break
		}
		remaining -= msgTokens
		start = i
	}

	windowed := make([]llm.Message, 0, head+len(messages)-start)
	windowed = append(windowed, messages[:head]...)
	windowed = append(windowed, messages[start:]...)

	// The newest message is always kept; shorten it when it alone overflows.
	if last := len(windowed) - 1; last >= head && remaining < 0 {
		budget := cm.maxTokens - cm.EstimateTokens(windowed[:head]) - messageOverhead
		windowed[last].Content = cm.TruncateContent(windowed[last].Content, max(budget, 1))
	}
	return windowed
}

// EstimateTokens estimates the total token count for a list of messages.
// Uses a simple heuristic of 4 characters per token.
func (cm *ContextManager) EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += cm.estimateMessageTokens(msg)
	}
	return total
}

// messageOverhead is the per-message token allowance for role and structure.
const messageOverhead = 10

// estimateMessageTokens estimates tokens for a single message.
func (cm *ContextManager) estimateMessageTokens(msg llm.Message) int {
	return len(msg.Content)/4 + messageOverhead
}

// TruncateContent truncates message content to fit within a token budget.
func (cm *ContextManager) TruncateContent(content string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(content) <= maxChars {
		return content
	}
	if maxChars <= 3 {
		return "..."
	}

	truncated := content[:maxChars-3]
	// Try to truncate at a word boundary
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// ContextStats describes context usage.
type ContextStats struct {
	MessageCount    int
	EstimatedTokens int
	MaxTokens       int
	UtilizationPct  float64
}

// GetStats returns statistics about the context usage.
func (cm *ContextManager) GetStats(messages []llm.Message) ContextStats {
	estimatedTokens := cm.EstimateTokens(messages)
	var utilizationPct float64
	if cm.maxTokens > 0 {
		utilizationPct = float64(estimatedTokens) / float64(cm.maxTokens) * 100
	}

	return ContextStats{
		MessageCount:    len(messages),
		EstimatedTokens: estimatedTokens,
		MaxTokens:       cm.maxTokens,
		UtilizationPct:  utilizationPct,
	}
}
