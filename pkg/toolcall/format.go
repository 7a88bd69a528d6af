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

package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Format renders a request in the given syntax. Parse(Format(r, s)) yields
// the same tool name and arguments for top-level string, integer, float and
// bool values. Floats nested inside lists or objects may come back as
// integers when they are whole.
func Format(r Request, syntax Syntax) string {
	switch syntax {
	case SyntaxStructured:
		return fmt.Sprintf("%s %s %s", MarkerStructured, r.ToolName, formatObject(r.Arguments))
	case SyntaxCodeBlock:
		return fmt.Sprintf("%s\n{\"tool_calls\": [{\"name\": %s, \"arguments\": %s}]}\n%s",
			MarkerCodeBlock, jsonValue(r.ToolName), formatObject(r.Arguments), codeFence)
	case SyntaxTagged:
		list := formatArgList(r.Arguments)
		if list == "" {
			return fmt.Sprintf("%s %s", MarkerTagged, r.ToolName)
		}
		return fmt.Sprintf("%s %s: %s", MarkerTagged, r.ToolName, list)
	default:
		return fmt.Sprintf("%s %s(%s)", MarkerFunction, r.ToolName, formatArgList(r.Arguments))
	}
}

// formatObject renders args as a JSON object with sorted keys. Whole
// top-level floats keep a fractional part so they decode as floats.
func formatObject(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(jsonValue(k))
		b.WriteString(": ")
		b.WriteString(jsonValue(args[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func jsonValue(v any) string {
	if f, ok := v.(float64); ok && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return formatValue(f)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func formatArgList(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(args[k]))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case string:
		return quote(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return quote(fmt.Sprint(t))
		}
		return quote(string(data))
	}
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}
