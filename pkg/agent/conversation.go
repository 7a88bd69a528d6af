package agent

import (
	"sync"

	"github.com/bjeremy23/jibberish/pkg/llm"
)

// Conversation is the append-only message history of a session. It is
// shared across turns so that later turns see earlier tool results.
type Conversation struct {
	mu       sync.Mutex
	messages []llm.Message

	// hasToolContext is set while messages[0] is the tool-context message
	hasToolContext bool
}

// NewConversation creates a conversation seeded with the given messages,
// typically the system prompt and the tool context.
func NewConversation(seed ...llm.Message) *Conversation {
	return &Conversation{messages: append([]llm.Message{}, seed...)}
}

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// SetToolContext installs msg as the leading tool-context message, replacing
// the one set before. With ok false the previous message is removed.
func (c *Conversation) SetToolContext(msg llm.Message, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.hasToolContext && ok:
		c.messages[0] = msg
	case c.hasToolContext:
		c.messages = append([]llm.Message{}, c.messages[1:]...)
		c.hasToolContext = false
	case ok:
		c.messages = append([]llm.Message{msg}, c.messages...)
		c.hasToolContext = true
	}
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message{}, c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
