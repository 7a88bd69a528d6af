package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

// Scripted is a deterministic provider that returns queued responses in
// order. It records every request it receives.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	requests  []CompletionRequest
}

// NewScripted creates a provider that answers with responses, one per call.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: append([]string{}, responses...)}
}

// Name returns the provider identifier.
func (s *Scripted) Name() string {
	return "scripted"
}

// Push queues more responses.
func (s *Scripted) Push(responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// Complete returns the next queued response. It fails once the queue is
// empty.
func (s *Scripted) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req.Messages = append([]Message{}, req.Messages...)
	s.requests = append(s.requests, req)

	if len(s.responses) == 0 {
		return nil, &errors.ProviderError{
			Provider: "scripted",
			Message:  fmt.Sprintf("no scripted response left after %d calls", len(s.requests)-1),
			Hint:     "Pass one --script value per expected completion",
		}
	}
	next := s.responses[0]
	s.responses = s.responses[1:]

	return &CompletionResponse{
		Content:      next,
		FinishReason: FinishReasonStop,
		Model:        "scripted",
		RequestID:    uuid.NewString(),
		Created:      time.Now(),
	}, nil
}

// Requests returns copies of the requests received so far.
func (s *Scripted) Requests() []CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CompletionRequest{}, s.requests...)
}

// Remaining returns the number of queued responses.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
