package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	jerrors "github.com/bjeremy23/jibberish/pkg/errors"
	"github.com/bjeremy23/jibberish/pkg/llm"
	"github.com/bjeremy23/jibberish/pkg/toolcall"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// mockTool is a simple tool for testing
type mockTool struct {
	name     string
	server   string
	required []string
	output   string
	err      error
	panics   bool

	mu    sync.Mutex
	calls []map[string]any
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "A mock tool" }

func (m *mockTool) Schema() *tools.Schema {
	props := map[string]*tools.Property{}
	for _, r := range m.required {
		props[r] = &tools.Property{Type: "string"}
	}
	return &tools.Schema{Inputs: &tools.ParameterSchema{
		Type:       "object",
		Properties: props,
		Required:   m.required,
	}}
}

func (m *mockTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, args)
	m.mu.Unlock()

	if m.panics {
		panic("boom")
	}
	if m.err != nil {
		return nil, m.err
	}
	return tools.OK(m.output), nil
}

func (m *mockTool) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// serverTool reports an MCP origin.
type serverTool struct{ *mockTool }

func (s serverTool) Server() string { return s.server }

func newRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range ts {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register(%s) error = %v", tool.Name(), err)
		}
	}
	return r
}

func lastMessage(conv *Conversation) llm.Message {
	msgs := conv.Messages()
	return msgs[len(msgs)-1]
}

func TestRun_NoToolCall(t *testing.T) {
	provider := llm.NewScripted("The answer is 42.")
	agent := NewAgent(provider, tools.NewRegistry())
	conv := NewConversation(llm.SystemMessage("be helpful"))

	result, err := agent.Run(context.Background(), conv, "what is the answer?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.FinalText != "The answer is 42." {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.Iterations != 0 || len(result.Invocations) != 0 {
		t.Errorf("Iterations = %d, Invocations = %d, want 0, 0", result.Iterations, len(result.Invocations))
	}
	if result.Truncated {
		t.Error("Truncated = true, want false")
	}
	want := []State{StateAwaitingCompletion, StateParsing, StateDone}
	if !equalStates(result.States, want) {
		t.Errorf("States = %v, want %v", result.States, want)
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("conversation has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != llm.MessageRoleUser || msgs[2].Role != llm.MessageRoleAssistant {
		t.Errorf("roles = %s, %s", msgs[1].Role, msgs[2].Role)
	}
}

func TestRun_SingleToolCall(t *testing.T) {
	weather := &mockTool{name: "weather", required: []string{"city"}, output: "sunny"}
	provider := llm.NewScripted(
		`Let me check. TOOL_CALL: weather(city="Paris")`,
		"It is sunny in Paris.",
	)
	agent := NewAgent(provider, newRegistry(t, weather))
	conv := NewConversation()

	result, err := agent.Run(context.Background(), conv, "weather in Paris?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.FinalText != "It is sunny in Paris." {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if len(result.Invocations) != 1 {
		t.Fatalf("Invocations = %d, want 1", len(result.Invocations))
	}
	inv := result.Invocations[0]
	if inv.ID == "" || inv.Tool != "weather" || inv.Syntax != toolcall.SyntaxFunction {
		t.Errorf("Invocation = %+v", inv)
	}
	if inv.Arguments["city"] != "Paris" {
		t.Errorf("Arguments = %v", inv.Arguments)
	}

	// user, assistant (call), tool, assistant (answer)
	msgs := conv.Messages()
	if len(msgs) != 4 {
		t.Fatalf("conversation has %d messages, want 4", len(msgs))
	}
	if msgs[2].Role != llm.MessageRoleTool || msgs[2].Content != "sunny" || msgs[2].Name != "weather" {
		t.Errorf("tool message = %+v", msgs[2])
	}

	// The second completion sees the tool result.
	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider saw %d requests, want 2", len(reqs))
	}
	seen := reqs[1].Messages
	if seen[len(seen)-1].Content != "sunny" {
		t.Errorf("second request last message = %q", seen[len(seen)-1].Content)
	}
}

func TestRun_IterationCap(t *testing.T) {
	echo := &mockTool{name: "echo", output: "again"}
	provider := llm.NewScripted(
		"TOOL_CALL: echo(n=1)",
		"TOOL_CALL: echo(n=2)",
		"still going TOOL_CALL: echo(n=3)",
		"never requested",
	)
	agent := NewAgent(provider, newRegistry(t, echo))
	conv := NewConversation()

	result, err := agent.Run(context.Background(), conv, "loop forever")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.Truncated {
		t.Error("Truncated = false, want true")
	}
	if result.Iterations != MaxIterations || echo.callCount() != MaxIterations {
		t.Errorf("Iterations = %d, calls = %d, want %d", result.Iterations, echo.callCount(), MaxIterations)
	}
	if result.FinalText != "still going TOOL_CALL: echo(n=3)" {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.Narration != "still going" {
		t.Errorf("Narration = %q", result.Narration)
	}
	if provider.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", provider.Remaining())
	}
	if result.States[len(result.States)-1] != StateDone {
		t.Errorf("last state = %s", result.States[len(result.States)-1])
	}
}

func TestRun_ConfigClampsIterations(t *testing.T) {
	tests := []struct {
		name    string
		maxIter int
		want    int
	}{
		{"one", 1, 1},
		{"zero uses cap", 0, MaxIterations},
		{"above cap", 10, MaxIterations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			echo := &mockTool{name: "echo", output: "x"}
			provider := llm.NewScripted("TOOL_CALL: echo()", "TOOL_CALL: echo()", "TOOL_CALL: echo()", "TOOL_CALL: echo()")
			agent := NewAgent(provider, newRegistry(t, echo)).WithConfig(Config{MaxIterations: tt.maxIter})

			result, err := agent.Run(context.Background(), NewConversation(), "go")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result.Iterations != tt.want || !result.Truncated {
				t.Errorf("Iterations = %d, Truncated = %v, want %d, true", result.Iterations, result.Truncated, tt.want)
			}
		})
	}
}

func TestRun_UnknownTool(t *testing.T) {
	provider := llm.NewScripted("TOOL_CALL: missing(x=1)", "Sorry, no such tool.")
	agent := NewAgent(provider, tools.NewRegistry())
	conv := NewConversation()

	result, err := agent.Run(context.Background(), conv, "do it")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	inv := result.Invocations[0]
	if !inv.Result.IsError() || inv.Result.ErrorDetail != "unknown tool: missing" {
		t.Errorf("Result = %+v", inv.Result)
	}
	msgs := conv.Messages()
	if msgs[2].Content != "ERROR: unknown tool: missing" {
		t.Errorf("tool message = %q", msgs[2].Content)
	}
	if result.FinalText != "Sorry, no such tool." {
		t.Errorf("FinalText = %q", result.FinalText)
	}
}

func TestRun_ToolFailuresBecomeResults(t *testing.T) {
	transportErr := &jerrors.TransportError{Server: "k8s", Transport: "docker", Op: "tools/call", Message: "process exited"}

	tests := []struct {
		name       string
		tool       *mockTool
		call       string
		wantDetail string
	}{
		{
			name:       "transport error",
			tool:       &mockTool{name: "k8s_pods", err: transportErr},
			call:       "TOOL_CALL: k8s_pods()",
			wantDetail: "k8s",
		},
		{
			name:       "missing required argument",
			tool:       &mockTool{name: "read", required: []string{"path"}},
			call:       "TOOL_CALL: read()",
			wantDetail: "path",
		},
		{
			name:       "panic",
			tool:       &mockTool{name: "bad", panics: true},
			call:       "TOOL_CALL: bad()",
			wantDetail: "panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := llm.NewScripted(tt.call, "recovered")
			agent := NewAgent(provider, newRegistry(t, tt.tool))
			conv := NewConversation()

			result, err := agent.Run(context.Background(), conv, "go")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			inv := result.Invocations[0]
			if !inv.Result.IsError() {
				t.Fatalf("Result status = %s, want error", inv.Result.Status)
			}
			if !strings.Contains(inv.Result.ErrorDetail, tt.wantDetail) {
				t.Errorf("ErrorDetail = %q, want it to contain %q", inv.Result.ErrorDetail, tt.wantDetail)
			}
			toolMsg := conv.Messages()[2]
			if !strings.HasPrefix(toolMsg.Content, "ERROR: ") {
				t.Errorf("tool message = %q", toolMsg.Content)
			}
			if result.FinalText != "recovered" {
				t.Errorf("FinalText = %q", result.FinalText)
			}
		})
	}
}

func TestRun_SyntaxInvariance(t *testing.T) {
	args := map[string]any{"path": "/tmp/a.txt", "lines": int64(5)}

	for _, syntax := range toolcall.Syntaxes {
		t.Run(string(syntax), func(t *testing.T) {
			reader := &mockTool{name: "read_file", output: "contents"}
			call := toolcall.Format(toolcall.Request{ToolName: "read_file", Arguments: args}, syntax)
			provider := llm.NewScripted(call, "done")
			agent := NewAgent(provider, newRegistry(t, reader))

			result, err := agent.Run(context.Background(), NewConversation(), "read it")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if reader.callCount() != 1 {
				t.Fatalf("calls = %d, want 1", reader.callCount())
			}
			got := reader.calls[0]
			if got["path"] != "/tmp/a.txt" || got["lines"] != int64(5) {
				t.Errorf("arguments = %#v", got)
			}
			if result.Invocations[0].Syntax != syntax {
				t.Errorf("Syntax = %s, want %s", result.Invocations[0].Syntax, syntax)
			}
		})
	}
}

type aliasedTool struct {
	*mockTool
}

func (a aliasedTool) ArgumentAliases() map[string]string {
	return map[string]string{"path": "filepath"}
}

func TestRun_ArgumentAliases(t *testing.T) {
	writer := &mockTool{name: "write_file", required: []string{"filepath"}, output: "written"}
	call := "```json\n{\"tool_calls\": [{\"name\": \"write_file\", \"arguments\": {\"path\": \"/tmp/out.txt\"}}]}\n```"
	agent := NewAgent(llm.NewScripted(call, "done"), newRegistry(t, aliasedTool{writer}))

	result, err := agent.Run(context.Background(), NewConversation(), "write it")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if writer.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", writer.callCount())
	}
	if got := writer.calls[0]; got["filepath"] != "/tmp/out.txt" || got["path"] != nil {
		t.Errorf("arguments = %#v", got)
	}
	if inv := result.Invocations[0]; inv.Result.IsError() || inv.Syntax != toolcall.SyntaxCodeBlock {
		t.Errorf("invocation = %+v", inv)
	}
}

func TestRun_ProviderError(t *testing.T) {
	provider := llm.NewScripted()
	agent := NewAgent(provider, tools.NewRegistry())

	_, err := agent.Run(context.Background(), NewConversation(), "hello")
	if err == nil {
		t.Fatal("Run() error = nil, want provider error")
	}
	var perr *jerrors.ProviderError
	if !errors.As(err, &perr) {
		t.Errorf("error = %T, want *errors.ProviderError in chain", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := NewAgent(llm.NewScripted("hi"), tools.NewRegistry())
	_, err := agent.Run(ctx, NewConversation(), "hello")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRun_RepeatedCallsStillDispatched(t *testing.T) {
	echo := &mockTool{name: "echo", output: "same"}
	provider := llm.NewScripted(`TOOL_CALL: echo(v="a")`, `TOOL_CALL: echo(v="a")`, "ok")
	agent := NewAgent(provider, newRegistry(t, echo))

	result, err := agent.Run(context.Background(), NewConversation(), "repeat")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if echo.callCount() != 2 || result.Iterations != 2 {
		t.Errorf("calls = %d, Iterations = %d, want 2, 2", echo.callCount(), result.Iterations)
	}
}

type recorder struct {
	invocations []Invocation
	err         error
}

func (r *recorder) Record(ctx context.Context, inv Invocation) error {
	r.invocations = append(r.invocations, inv)
	return r.err
}

func TestRun_RecorderAndEvents(t *testing.T) {
	pods := serverTool{&mockTool{name: "k8s_pods", server: "k8s", output: "pod-a"}}
	provider := llm.NewScripted("TOOL_CALL: k8s_pods()", "one pod")
	rec := &recorder{err: errors.New("disk full")}

	var events []EventType
	agent := NewAgent(provider, newRegistry(t, pods)).
		WithRecorder(rec).
		WithEventHandler(func(e Event) { events = append(events, e.Type) })

	if _, err := agent.Run(context.Background(), NewConversation(), "pods?"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(rec.invocations) != 1 || rec.invocations[0].Server != "k8s" {
		t.Errorf("recorded = %+v", rec.invocations)
	}
	if len(events) != 2 || events[0] != EventToolCall || events[1] != EventToolResult {
		t.Errorf("events = %v", events)
	}
}

func TestRun_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	echo := &mockTool{name: "echo", output: "x"}
	provider := llm.NewScripted("TOOL_CALL: echo()", "done")
	agent := NewAgent(provider, newRegistry(t, echo)).WithTracerProvider(tp)

	if _, err := agent.Run(context.Background(), NewConversation(), "go"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	if len(names) != 2 || names[0] != "agent.dispatch" || names[1] != "agent.run" {
		t.Errorf("spans = %v, want [agent.dispatch agent.run]", names)
	}
}

func TestRun_Metrics(t *testing.T) {
	before := testutil.ToFloat64(toolCallsTotal.WithLabelValues("metric_missing", "error"))
	truncBefore := testutil.ToFloat64(turnTruncations)

	provider := llm.NewScripted("TOOL_CALL: metric_missing()", "TOOL_CALL: metric_missing()", "TOOL_CALL: metric_missing()")
	agent := NewAgent(provider, tools.NewRegistry())
	if _, err := agent.Run(context.Background(), NewConversation(), "go"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := testutil.ToFloat64(toolCallsTotal.WithLabelValues("metric_missing", "error")) - before; got != 3 {
		t.Errorf("tool calls delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(turnTruncations) - truncBefore; got != 1 {
		t.Errorf("truncations delta = %v, want 1", got)
	}
}

func TestConversation_SharedAcrossTurns(t *testing.T) {
	provider := llm.NewScripted("first", "second")
	agent := NewAgent(provider, tools.NewRegistry())
	conv := NewConversation(llm.SystemMessage("sys"))

	if _, err := agent.Run(context.Background(), conv, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := agent.Run(context.Background(), conv, "two"); err != nil {
		t.Fatal(err)
	}

	if conv.Len() != 5 {
		t.Errorf("Len() = %d, want 5", conv.Len())
	}
	if lastMessage(conv).Content != "second" {
		t.Errorf("last message = %q", lastMessage(conv).Content)
	}
	if n := len(provider.Requests()[1].Messages); n != 4 {
		t.Errorf("second turn sent %d messages, want 4", n)
	}
}

func TestRun_ToolContextFollowsRegistry(t *testing.T) {
	registry := newRegistry(t, &mockTool{name: "read_file", output: "x"})
	provider := llm.NewScripted("first", "second", "third")
	agent := NewAgent(provider, registry).WithToolContext()
	conv := NewConversation()

	if _, err := agent.Run(context.Background(), conv, "one"); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(serverTool{&mockTool{name: "weather_forecast", server: "weather"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := agent.Run(context.Background(), conv, "two"); err != nil {
		t.Fatal(err)
	}

	requests := provider.Requests()
	first := requests[0].Messages[0]
	if first.Role != llm.MessageRoleSystem || strings.Contains(first.Content, "weather_forecast") {
		t.Errorf("first turn tool context = %q", first.Content)
	}
	second := requests[1].Messages[0]
	if !strings.Contains(second.Content, "weather_forecast") || !strings.Contains(second.Content, "read_file") {
		t.Errorf("second turn tool context = %q", second.Content)
	}

	systems := 0
	for _, msg := range requests[1].Messages {
		if msg.Role == llm.MessageRoleSystem {
			systems++
		}
	}
	if systems != 1 {
		t.Errorf("second turn sent %d system messages, want 1", systems)
	}

	registry.UnregisterServer("weather")
	registry.Unregister("read_file")
	if _, err := agent.Run(context.Background(), conv, "three"); err != nil {
		t.Fatal(err)
	}
	for _, msg := range provider.Requests()[2].Messages {
		if msg.Role == llm.MessageRoleSystem {
			t.Errorf("empty registry still sends tool context %q", msg.Content)
		}
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
