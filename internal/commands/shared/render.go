// Copyright 2025 The jibberish Authors
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

package shared

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bjeremy23/jibberish/pkg/agent"
)

// TurnJSON is the --json rendering of one turn.
type TurnJSON struct {
	JSONResponse
	Answer      string           `json:"answer"`
	Truncated   bool             `json:"truncated"`
	Iterations  int              `json:"iterations"`
	Invocations []InvocationJSON `json:"invocations"`
	DurationMS  int64            `json:"duration_ms"`
}

// InvocationJSON is one tool invocation in JSON output.
type InvocationJSON struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Server     string         `json:"server,omitempty"`
	Syntax     string         `json:"syntax"`
	Arguments  map[string]any `json:"arguments"`
	Status     string         `json:"status"`
	Output     string         `json:"output"`
	DurationMS int64          `json:"duration_ms"`
}

// NewTurnJSON converts a turn result for JSON output.
func NewTurnJSON(command string, result *agent.Result) TurnJSON {
	out := TurnJSON{
		JSONResponse: NewJSONResponse(command),
		Answer:       Answer(result),
		Truncated:    result.Truncated,
		Iterations:   result.Iterations,
		Invocations:  []InvocationJSON{},
		DurationMS:   result.Duration.Milliseconds(),
	}
	for _, inv := range result.Invocations {
		out.Invocations = append(out.Invocations, InvocationJSON{
			ID:         inv.ID,
			Tool:       inv.Tool,
			Server:     inv.Server,
			Syntax:     string(inv.Syntax),
			Arguments:  inv.Arguments,
			Status:     string(inv.Result.Status),
			Output:     inv.Result.Text(),
			DurationMS: inv.Duration.Milliseconds(),
		})
	}
	return out
}

// Answer is the text shown to the user for a turn. A truncated turn shows
// the narration that preceded its last tool call.
func Answer(result *agent.Result) string {
	if result.Truncated {
		return strings.TrimSpace(result.Narration)
	}
	return strings.TrimSpace(result.FinalText)
}

// PrintTurn writes the answer, and with verbose the invocation list.
func PrintTurn(w io.Writer, result *agent.Result, verbose bool) {
	if verbose {
		for i, inv := range result.Invocations {
			fmt.Fprintln(w, RenderInvocation(i+1, inv))
		}
		if len(result.Invocations) > 0 {
			fmt.Fprintln(w)
		}
	}

	if answer := Answer(result); answer != "" {
		fmt.Fprintln(w, answer)
	}

	if result.Truncated {
		last := result.Invocations[len(result.Invocations)-1]
		if !verbose {
			fmt.Fprintln(w, last.Result.Text())
		}
		fmt.Fprintln(w, RenderWarn(fmt.Sprintf("stopped after %d tool calls", result.Iterations)))
	}
}

// RenderInvocation renders one invocation as a status line plus indented
// output.
func RenderInvocation(n int, inv agent.Invocation) string {
	var b strings.Builder
	label := "ok"
	if inv.Result.IsError() {
		label = "error"
	}
	fmt.Fprintf(&b, "%s %d. %s %s", SymbolTool, n, Bold.Render(inv.Tool), RenderStatus(!inv.Result.IsError(), label))
	if inv.Server != "" {
		fmt.Fprintf(&b, " %s", Muted.Render("("+inv.Server+")"))
	}
	fmt.Fprintf(&b, " %s", Muted.Render(inv.Duration.Round(time.Millisecond).String()))
	for _, line := range strings.Split(strings.TrimRight(inv.Result.Text(), "\n"), "\n") {
		b.WriteString("\n    ")
		b.WriteString(line)
	}
	return b.String()
}
