// Package jq filters JSON tool output with jq expressions.
package jq

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

const (
	// DefaultTimeout is the default execution time for jq expressions (1 second)
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor evaluates jq expressions with timeout and size limits.
type Executor struct {
	timeout      time.Duration
	maxInputSize int
}

// NewExecutor creates a new jq executor. Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Compile parses and compiles an expression. Syntax errors are reported as
// *errors.ValidationError on the "jq" field.
func Compile(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "jq",
			Message:    fmt.Sprintf("invalid jq expression: %v", err),
			Suggestion: "Check the expression syntax, e.g. '.items[].name'",
		}
	}

	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:   "jq",
			Message: fmt.Sprintf("jq compilation failed: %v", err),
		}
	}
	return code, nil
}

// Execute runs expression against decoded JSON data. A single result is
// returned as is; several results are returned as a slice.
func (e *Executor) Execute(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}

	results, err := e.run(ctx, expression, data)
	if err != nil {
		return nil, err
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *Executor) run(ctx context.Context, expression string, data any) ([]any, error) {
	code, err := Compile(expression)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var results []any
	iter := code.RunWithContext(execCtx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if stderrors.Is(err, context.DeadlineExceeded) || execCtx.Err() != nil {
				return nil, &errors.TimeoutError{Operation: "jq " + expression, Duration: e.timeout, Cause: err}
			}
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, v)
	}
	return results, nil
}

// FilterText decodes text as JSON, applies expression and renders every
// result on its own line. Strings are printed raw, everything else as
// indented JSON.
func (e *Executor) FilterText(ctx context.Context, expression, text string) (string, error) {
	if len(text) > e.maxInputSize {
		return "", fmt.Errorf("input size (%d bytes) exceeds maximum (%d bytes)", len(text), e.maxInputSize)
	}

	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return "", &errors.ValidationError{
			Field:      "jq",
			Message:    "tool output is not JSON",
			Suggestion: "Run the call without --jq to see the raw output",
		}
	}
	if expression == "" {
		expression = "."
	}

	results, err := e.run(ctx, expression, data)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(results))
	for _, v := range results {
		line, err := render(v)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func render(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode jq result: %w", err)
	}
	return string(data), nil
}

// Validate checks that an expression compiles.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := Compile(expression)
	return err
}
