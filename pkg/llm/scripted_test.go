package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

func TestScripted_ReturnsInOrder(t *testing.T) {
	p := NewScripted("first", "second")
	ctx := context.Background()

	resp, err := p.Complete(ctx, CompletionRequest{Messages: []Message{UserMessage("q1")}})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)
	assert.Equal(t, FinishReasonStop, resp.FinishReason)
	assert.NotEmpty(t, resp.RequestID)

	resp, err = p.Complete(ctx, CompletionRequest{Messages: []Message{UserMessage("q2")}})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)
	assert.Zero(t, p.Remaining())

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "q2", reqs[1].Messages[0].Content)
}

func TestScripted_Exhausted(t *testing.T) {
	p := NewScripted()
	_, err := p.Complete(context.Background(), CompletionRequest{})

	var pe *errors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "scripted", pe.Provider)
	assert.NotEmpty(t, pe.Suggestion())

	p.Push("late")
	resp, err := p.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "late", resp.Content)
}

func TestScripted_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScripted("x").Complete(ctx, CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMessageConstructors(t *testing.T) {
	assert.Equal(t, MessageRoleSystem, SystemMessage("s").Role)
	assert.Equal(t, MessageRoleUser, UserMessage("u").Role)
	assert.Equal(t, MessageRoleAssistant, AssistantMessage("a").Role)

	tool := ToolMessage("read_file", "contents")
	assert.Equal(t, MessageRoleTool, tool.Role)
	assert.Equal(t, "read_file", tool.Name)
}
