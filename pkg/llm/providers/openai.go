// Package providers contains concrete implementations of completion providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bjeremy23/jibberish/pkg/errors"
	"github.com/bjeremy23/jibberish/pkg/httpclient"
	"github.com/bjeremy23/jibberish/pkg/llm"
)

const (
	// DefaultOpenAIBaseURL is the OpenAI API endpoint.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is used when neither the config nor the request
	// names a model.
	DefaultOpenAIModel = "gpt-4o-mini"

	// maxResponseBytes bounds the completion response body.
	maxResponseBytes = 8 << 20
)

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1 or a local
	// compatible server.
	BaseURL string

	// APIKey is sent as a bearer token. Local servers may not need one.
	APIKey string

	// Model is the default model.
	Model string

	// Timeout bounds each completion request (defaults to 120s).
	Timeout time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// OpenAIProvider talks to any /chat/completions compatible endpoint.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, &errors.ConfigError{
			Key:    "provider.base_url",
			Reason: fmt.Sprintf("base URL %q must start with http:// or https://", cfg.BaseURL),
		}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	if hc.Timeout <= 0 {
		hc.Timeout = 120 * time.Second
	}
	hc.UserAgent = "jibberish-openai/1.0"
	// Retries are handled by llm.RetryingProvider.
	hc.RetryAttempts = 0
	hc.Logger = cfg.Logger

	httpClient, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &OpenAIProvider{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: httpClient,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the default model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete posts the conversation to /chat/completions.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiReq := p.buildAPIRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, p.providerError(0, fmt.Sprintf("failed to marshal request: %v", err), requestID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, p.providerError(0, fmt.Sprintf("failed to create request: %v", err), requestID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.providerError(0, fmt.Sprintf("request failed: %v", err), requestID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, p.providerError(resp.StatusCode, fmt.Sprintf("failed to read response: %v", err), requestID, err)
	}

	if resp.StatusCode != http.StatusOK {
		perr := p.providerError(resp.StatusCode, fmt.Sprintf("API request failed with status %d", resp.StatusCode), requestID, nil)
		var errResp openAIErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			perr.Message = errResp.Error.Message
		} else if text := strings.TrimSpace(string(respBody)); text != "" {
			perr.Message = fmt.Sprintf("%s: %s", perr.Message, truncate(text, 200))
		}
		perr.Hint = suggestionForStatus(resp.StatusCode)
		return nil, perr
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, p.providerError(resp.StatusCode, fmt.Sprintf("failed to parse response: %v", err), requestID, err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, p.providerError(resp.StatusCode, "response contained no choices", requestID, nil)
	}

	choice := apiResp.Choices[0]
	created := time.Now()
	if apiResp.Created > 0 {
		created = time.Unix(apiResp.Created, 0)
	}
	if apiResp.ID != "" {
		requestID = apiResp.ID
	}

	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: llm.FinishReason(choice.FinishReason),
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
		Model:     apiResp.Model,
		RequestID: requestID,
		Created:   created,
	}, nil
}

// buildAPIRequest converts a CompletionRequest. Tool results are sent as user
// messages because the conversation carries them as plain text rather than
// native tool-call ids.
func (p *OpenAIProvider) buildAPIRequest(req llm.CompletionRequest) *openAIRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.MessageRoleTool:
			messages = append(messages, openAIMessage{
				Role:    "user",
				Content: fmt.Sprintf("Tool %s returned:\n%s", msg.Name, msg.Content),
			})
		default:
			messages = append(messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}

	return &openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
	}
}

func (p *OpenAIProvider) providerError(status int, message, requestID string, cause error) *errors.ProviderError {
	return &errors.ProviderError{
		Provider:   p.Name(),
		StatusCode: status,
		Message:    message,
		RequestID:  requestID,
		Cause:      cause,
	}
}

// suggestionForStatus returns a helpful suggestion based on the status code.
func suggestionForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that your API key is valid: set OPENAI_API_KEY or store it with 'jibberish config set-key'"
	case http.StatusForbidden:
		return "Your API key may not have access to this model"
	case http.StatusNotFound:
		return "Check the provider base_url and model name"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Wait a moment and try again"
	default:
		if statusCode >= 500 {
			return "The provider is having problems. Try again later"
		}
		return ""
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
