// Package agent runs the bounded tool-calling loop for one user turn.
//
// The agent loop:
// 1. Sends the conversation to the completion provider
// 2. Parses the reply for a single tool-call request
// 3. Dispatches the request to a tool from the registry
// 4. Appends the reply and the tool result to the conversation
// 5. Repeats until the reply has no tool call or MaxIterations is reached
//
// Reaching the iteration cap is a normal terminal state, not an error: the
// last assistant text becomes the answer and Result.Truncated is set.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/pkg/llm"
	"github.com/bjeremy23/jibberish/pkg/toolcall"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// MaxIterations is the hard cap on tool calls within one turn.
const MaxIterations = 3

const tracerName = "github.com/bjeremy23/jibberish/pkg/agent"

// State is a state of the turn state machine.
type State string

const (
	StateAwaitingCompletion State = "awaiting_completion"
	StateParsing            State = "parsing"
	StateDispatching        State = "dispatching"
	StateAppending          State = "appending"
	StateDone               State = "done"
)

// Agent runs turns against a provider and a tool registry.
type Agent struct {
	// provider produces assistant text
	provider llm.Provider

	// registry provides access to available tools
	registry *tools.Registry

	config Config

	// contextManager bounds the messages sent to the provider
	contextManager *ContextManager

	// recorder receives every invocation (optional)
	recorder Recorder

	// eventHandler receives progress events (optional)
	eventHandler EventHandler

	// toolContext keeps the conversation's tool-context message in step
	// with the registry
	toolContext bool

	logger *slog.Logger
	tracer trace.Tracer
}

// Recorder persists tool invocations.
type Recorder interface {
	Record(ctx context.Context, inv Invocation) error
}

// EventType identifies a progress event.
type EventType string

const (
	// EventToolCall is emitted before a tool is dispatched.
	EventToolCall EventType = "tool_call"

	// EventToolResult is emitted after a tool returns.
	EventToolResult EventType = "tool_result"
)

// Event reports loop progress, e.g. for printing tool activity in a CLI.
type Event struct {
	Type       EventType
	Iteration  int
	Narration  string
	Invocation Invocation
}

// EventHandler receives progress events.
type EventHandler func(event Event)

// Invocation records a single tool call.
type Invocation struct {
	// ID uniquely identifies this invocation
	ID string

	// Tool is the public tool name as requested
	Tool string

	// Server is the MCP server that owns the tool, empty for local tools
	Server string

	// Arguments are the parsed arguments
	Arguments map[string]any

	// Syntax is the grammar the request was written in
	Syntax toolcall.Syntax

	// Result is the tool outcome; never nil once dispatched
	Result *tools.Result

	// Started is when dispatch began
	Started time.Time

	// Duration is how long the tool took to execute
	Duration time.Duration
}

// Result is the outcome of one turn.
type Result struct {
	// FinalText is the answer shown to the user
	FinalText string

	// Narration is the text before the tool marker in the final reply
	Narration string

	// Invocations lists every tool call made during the turn
	Invocations []Invocation

	// Iterations is the number of tool calls dispatched
	Iterations int

	// Truncated is set when the turn stopped at MaxIterations
	Truncated bool

	// States traces the visited states in order
	States []State

	// Usage sums token consumption across completions
	Usage llm.TokenUsage

	// Duration is the total turn time
	Duration time.Duration
}

// NewAgent creates a new agent.
func NewAgent(provider llm.Provider, registry *tools.Registry) *Agent {
	config := DefaultConfig()
	return &Agent{
		provider:       provider,
		registry:       registry,
		config:         config,
		contextManager: NewContextManager(config.ContextTokens),
		logger:         log.WithComponent(slog.Default(), "agent"),
		tracer:         otel.Tracer(tracerName),
	}
}

// WithConfig replaces the agent configuration.
func (a *Agent) WithConfig(config Config) *Agent {
	a.config = config.WithDefaults()
	a.contextManager = NewContextManager(a.config.ContextTokens)
	return a
}

// WithRecorder sets the invocation recorder.
func (a *Agent) WithRecorder(recorder Recorder) *Agent {
	a.recorder = recorder
	return a
}

// WithEventHandler sets a handler for progress events.
func (a *Agent) WithEventHandler(handler EventHandler) *Agent {
	a.eventHandler = handler
	return a
}

// WithToolContext makes Run describe the registered tools to the model. The
// description is rebuilt from every turn's registry snapshot, so tools added
// or removed by a reload are reflected in the next turn.
func (a *Agent) WithToolContext() *Agent {
	a.toolContext = true
	return a
}

// WithLogger sets the logger.
func (a *Agent) WithLogger(logger *slog.Logger) *Agent {
	a.logger = log.WithComponent(logger, "agent")
	return a
}

// WithTracerProvider sets the tracer provider used for spans.
func (a *Agent) WithTracerProvider(tp trace.TracerProvider) *Agent {
	a.tracer = tp.Tracer(tracerName)
	return a
}

// Run processes one user turn. conv is extended in place with the user
// message, every assistant reply and every tool result.
//
// The error return is reserved for provider failures and cancellation; tool
// failures of any kind are fed back to the model as tool output.
func (a *Agent) Run(ctx context.Context, conv *Conversation, userText string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String(log.ProviderKey, a.provider.Name()),
	))
	defer span.End()

	// The turn keeps the registry view it started with.
	registry := a.registry.Snapshot()
	seen := make(map[string]int)

	if a.toolContext {
		conv.SetToolContext(BuildToolContext(registry.Descriptors()))
	}

	conv.Append(llm.UserMessage(userText))

	finish := func() *Result {
		result.States = append(result.States, StateDone)
		result.Duration = time.Since(start)
		recordTurn(result)
		span.SetAttributes(
			attribute.Int("iterations", result.Iterations),
			attribute.Bool("truncated", result.Truncated),
		)
		return result
	}

	for {
		result.States = append(result.States, StateAwaitingCompletion)
		window := a.contextManager.Window(conv.Messages())
		stats := a.contextManager.GetStats(window)
		a.logger.Debug("requesting completion",
			log.IterationKey, result.Iterations+1,
			"messages", stats.MessageCount,
			"estimated_tokens", stats.EstimatedTokens,
			"utilization_pct", stats.UtilizationPct,
		)
		resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
			Messages:    window,
			Model:       a.config.Model,
			Temperature: a.config.Temperature,
			MaxTokens:   a.config.MaxTokens,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "completion failed")
			result.Duration = time.Since(start)
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, fmt.Errorf("completion failed: %w", err)
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens
		text := resp.Content

		result.States = append(result.States, StateParsing)
		req, ok := toolcall.Parse(text)
		if !ok {
			if toolcall.Contains(text) {
				a.logger.Debug("tool call marker without a well-formed call, treating reply as answer",
					log.IterationKey, result.Iterations+1)
			}
			conv.Append(llm.AssistantMessage(text))
			result.FinalText = text
			return finish(), nil
		}

		result.States = append(result.States, StateDispatching)
		key := callKey(req)
		if seen[key] > 0 {
			a.logger.Warn("repeated tool call", log.ToolKey, req.ToolName, "count", seen[key]+1)
		}
		seen[key]++

		a.emit(Event{Type: EventToolCall, Iteration: result.Iterations + 1, Narration: req.Before, Invocation: Invocation{
			Tool:      req.ToolName,
			Arguments: req.Arguments,
			Syntax:    req.Syntax,
		}})

		inv, err := a.dispatch(ctx, registry, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			result.Duration = time.Since(start)
			return result, err
		}
		result.Invocations = append(result.Invocations, inv)
		a.emit(Event{Type: EventToolResult, Iteration: result.Iterations + 1, Invocation: inv})
		a.record(ctx, inv)

		result.States = append(result.States, StateAppending)
		conv.Append(llm.AssistantMessage(text))
		conv.Append(llm.ToolMessage(req.ToolName, inv.Result.Text()))
		result.Iterations++

		if result.Iterations >= a.config.MaxIterations {
			a.logger.Warn("tool call limit reached", log.IterationKey, result.Iterations)
			result.Truncated = true
			result.FinalText = text
			result.Narration = req.Before
			return finish(), nil
		}
	}
}

// dispatch looks up and executes one tool. It only returns an error when
// ctx is done; every other failure is an error-status result.
func (a *Agent) dispatch(ctx context.Context, registry *tools.Registry, req toolcall.Request) (Invocation, error) {
	inv := Invocation{
		ID:        uuid.NewString(),
		Tool:      req.ToolName,
		Arguments: req.Arguments,
		Syntax:    req.Syntax,
		Started:   time.Now(),
	}

	ctx, span := a.tracer.Start(ctx, "agent.dispatch", trace.WithAttributes(
		attribute.String(log.ToolKey, req.ToolName),
		attribute.String("syntax", string(req.Syntax)),
		attribute.String(log.InvocationKey, inv.ID),
	))
	defer span.End()

	tool, err := registry.Get(req.ToolName)
	if err != nil {
		inv.Result = tools.Failed("unknown tool: " + req.ToolName)
	} else {
		inv.Server = tools.OriginOf(tool)
		inv.Result, err = a.execute(ctx, tool, req.Arguments)
		if err != nil && ctx.Err() != nil {
			return inv, ctx.Err()
		}
	}
	inv.Duration = time.Since(inv.Started)

	status := string(inv.Result.Status)
	span.SetAttributes(attribute.String("status", status))
	if inv.Result.IsError() {
		span.SetStatus(codes.Error, inv.Result.ErrorDetail)
	}
	recordToolCall(req.ToolName, status)

	a.logger.Debug("tool dispatched",
		log.InvocationKey, inv.ID,
		log.ToolKey, req.ToolName,
		log.ServerKey, inv.Server,
		"status", status,
		log.DurationKey, inv.Duration.Milliseconds(),
	)
	return inv, nil
}

// execute runs a tool, converting errors and panics into results.
func (a *Agent) execute(ctx context.Context, tool tools.Tool, args map[string]any) (res *tools.Result, err error) {
	args = tools.NormalizeArgs(tool, args)
	if verr := tools.ValidateArgs(tool, args); verr != nil {
		return tools.FromError(verr), nil
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("tool panicked", log.ToolKey, tool.Name(), "panic", r)
			res, err = tools.Failed(fmt.Sprintf("tool %s panicked: %v", tool.Name(), r)), nil
		}
	}()

	res, err = tool.Execute(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return tools.FromError(err), err
		}
		return tools.FromError(err), nil
	}
	if res == nil {
		return tools.Failed("tool returned no result"), nil
	}
	return res, nil
}

func (a *Agent) emit(event Event) {
	if a.eventHandler != nil {
		a.eventHandler(event)
	}
}

func (a *Agent) record(ctx context.Context, inv Invocation) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.Record(ctx, inv); err != nil {
		a.logger.Warn("failed to record invocation", log.ToolKey, inv.Tool, log.InvocationKey, inv.ID, "error", err)
	}
}

// callKey identifies a call by tool name and arguments. encoding/json sorts
// map keys, so equal arguments encode identically.
func callKey(req toolcall.Request) string {
	data, err := json.Marshal(req.Arguments)
	if err != nil {
		return req.ToolName
	}
	return req.ToolName + " " + string(data)
}
