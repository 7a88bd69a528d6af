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

// Package toolcall extracts a single tool invocation from free-form model
// output.
//
// Four textual syntaxes are recognized:
//
//	TOOL_CALL: read_file(filepath="/etc/hosts", max_lines=10)
//	USE_TOOL: read_file {"filepath": "/etc/hosts", "max_lines": 10}
//	[TOOL] read_file: filepath=/etc/hosts, max_lines=10
//	```json
//	{"tool_calls": [{"name": "read_file", "arguments": {"filepath": "/etc/hosts"}}]}
//	```
//
// The earliest marker in the text decides the syntax. At most one request is
// extracted per text; a code block listing several calls yields the first.
// A json code block without tool calls is ordinary content and is skipped.
package toolcall

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Syntax identifies which textual form produced a request.
type Syntax string

const (
	SyntaxFunction   Syntax = "function"
	SyntaxStructured Syntax = "structured"
	SyntaxTagged     Syntax = "tagged"
	SyntaxCodeBlock  Syntax = "code_block"
)

// Markers introducing each syntax. Matching is case-sensitive except for
// the code block fence.
const (
	MarkerFunction   = "TOOL_CALL:"
	MarkerStructured = "USE_TOOL:"
	MarkerTagged     = "[TOOL]"
	MarkerCodeBlock  = "```json"

	codeFence = "```"
)

// Syntaxes lists every supported syntax.
var Syntaxes = []Syntax{SyntaxFunction, SyntaxStructured, SyntaxTagged, SyntaxCodeBlock}

// Request is one tool invocation extracted from model output.
type Request struct {
	ToolName  string
	Arguments map[string]any

	// SourceSpan is the exact substring that was parsed, marker included.
	SourceSpan string
	Syntax     Syntax

	// Before and After hold the trimmed narration surrounding SourceSpan.
	Before string
	After  string
}

// grammar parses the text following a marker. It returns the tool name, its
// arguments and the number of bytes consumed.
type grammar func(s string) (name string, args map[string]any, n int, ok bool)

var markers = []struct {
	marker string
	syntax Syntax
	parse  grammar
	fold   bool
}{
	{MarkerFunction, SyntaxFunction, parseFunctionCall, false},
	{MarkerStructured, SyntaxStructured, parseStructured, false},
	{MarkerTagged, SyntaxTagged, parseTagged, false},
	{MarkerCodeBlock, SyntaxCodeBlock, parseCodeBlock, true},
}

// Parse extracts the request introduced by the earliest marker in text.
// It returns false when there is no marker or the marked call is malformed;
// a malformed call is never retried against a later marker.
func Parse(text string) (Request, bool) {
	from := 0
	for {
		start, idx := nextMarker(text, from)
		if idx < 0 {
			return Request{}, false
		}

		m := markers[idx]
		bodyStart := start + len(m.marker)
		name, args, n, ok := m.parse(text[bodyStart:])
		if !ok {
			if m.syntax == SyntaxCodeBlock {
				from = bodyStart + fenceEnd(text[bodyStart:])
				continue
			}
			return Request{}, false
		}
		if args == nil {
			args = map[string]any{}
		}

		end := bodyStart + n
		return Request{
			ToolName:   name,
			Arguments:  args,
			SourceSpan: text[start:end],
			Syntax:     m.syntax,
			Before:     strings.TrimSpace(text[:start]),
			After:      strings.TrimSpace(text[end:]),
		}, true
	}
}

// Contains reports whether text carries any tool-call marker.
func Contains(text string) bool {
	_, idx := nextMarker(text, 0)
	return idx >= 0
}

// nextMarker returns the position and markers index of the earliest marker
// at or after from, or -1, -1.
func nextMarker(text string, from int) (int, int) {
	start, idx := -1, -1
	for i, m := range markers {
		var pos int
		if m.fold {
			pos = indexFold(text[from:], m.marker)
		} else {
			pos = strings.Index(text[from:], m.marker)
		}
		if pos < 0 {
			continue
		}
		if pos += from; start < 0 || pos < start {
			start, idx = pos, i
		}
	}
	return start, idx
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// fenceEnd returns the offset just past the closing fence of a code block
// body, or 0 when the block is not closed.
func fenceEnd(s string) int {
	if i := strings.Index(s, codeFence); i >= 0 {
		return i + len(codeFence)
	}
	return 0
}

// parseCodeBlock handles a json code block holding
// {"tool_calls": [{"name": ..., "arguments": {...}}]}. Entries without a
// name are skipped and only the first named call is used. Arguments may also
// be given as a JSON-encoded string.
func parseCodeBlock(s string) (string, map[string]any, int, bool) {
	closeAt := strings.Index(s, codeFence)
	if closeAt < 0 {
		return "", nil, 0, false
	}

	var block struct {
		ToolCalls []struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s[:closeAt])), &block); err != nil {
		return "", nil, 0, false
	}

	for _, call := range block.ToolCalls {
		name := strings.TrimSpace(call.Name)
		if name == "" {
			continue
		}
		args, ok := decodeArguments(call.Arguments)
		if !ok {
			return "", nil, 0, false
		}
		return name, args, closeAt + len(codeFence), true
	}
	return "", nil, 0, false
}

func decodeArguments(raw json.RawMessage) (map[string]any, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return map[string]any{}, true
	}
	if text[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, false
		}
		if text = strings.TrimSpace(text); text == "" {
			return map[string]any{}, true
		}
	}
	args, n, ok := decodeObject(text)
	if !ok || n != len(strings.TrimSpace(text)) {
		return nil, false
	}
	return args, true
}

// parseFunctionCall handles name(k="v", n=3). A JSON object in place of the
// parenthesized list is accepted as well.
func parseFunctionCall(s string) (string, map[string]any, int, bool) {
	i := skipSpace(s, 0, false)
	name, i := scanName(s, i)
	if name == "" {
		return "", nil, 0, false
	}

	j := skipSpace(s, i, true)
	if j < len(s) && s[j] == '{' {
		args, n, ok := decodeObject(s[j:])
		if !ok {
			return "", nil, 0, false
		}
		return name, args, j + n, true
	}

	i = skipSpace(s, i, false)
	if i >= len(s) || s[i] != '(' {
		return "", nil, 0, false
	}
	closeAt := matchParen(s, i)
	if closeAt < 0 {
		return "", nil, 0, false
	}

	args, ok := parseArgList(s[i+1 : closeAt])
	if !ok {
		return "", nil, 0, false
	}
	return name, args, closeAt + 1, true
}

// parseStructured handles name {json}.
func parseStructured(s string) (string, map[string]any, int, bool) {
	i := skipSpace(s, 0, false)
	name, i := scanName(s, i)
	if name == "" {
		return "", nil, 0, false
	}

	i = skipSpace(s, i, true)
	if i >= len(s) || s[i] != '{' {
		return "", nil, 0, false
	}
	args, n, ok := decodeObject(s[i:])
	if !ok {
		return "", nil, 0, false
	}
	return name, args, i + n, true
}

// parseTagged handles name: k=v, k2="v 2" up to the end of the line.
func parseTagged(s string) (string, map[string]any, int, bool) {
	i := skipSpace(s, 0, false)
	name, i := scanName(s, i)
	if name == "" {
		return "", nil, 0, false
	}

	end := strings.IndexByte(s, '\n')
	if end < 0 {
		end = len(s)
	}
	if end < i {
		return "", nil, 0, false
	}

	rest := strings.TrimSpace(s[i:end])
	if rest != "" {
		if rest[0] != ':' {
			return "", nil, 0, false
		}
		rest = rest[1:]
	}

	args, ok := parseArgList(rest)
	if !ok {
		return "", nil, 0, false
	}
	return name, args, len(strings.TrimRight(s[:end], " \t\r")), true
}

// parseArgList splits a comma separated k=v list. Fragments without a key are
// appended to the previous value; a keyless first fragment is malformed.
func parseArgList(body string) (map[string]any, bool) {
	args := map[string]any{}
	lastKey := ""

	for _, frag := range splitTopLevel(body) {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}

		key, raw, hasKey := cutAssignment(frag)
		if !hasKey {
			if lastKey == "" {
				return nil, false
			}
			args[lastKey] = stringValue(args[lastKey]) + ", " + frag
			continue
		}

		args[key] = coerce(raw)
		lastKey = key
	}
	return args, true
}

// cutAssignment splits key=value where key is an identifier.
func cutAssignment(frag string) (string, string, bool) {
	eq := strings.IndexByte(frag, '=')
	if eq <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(frag[:eq])
	if !isIdentifier(key) {
		return "", "", false
	}
	return key, strings.TrimSpace(frag[eq+1:]), true
}

// coerce converts a raw argument token into a typed value.
func coerce(raw string) any {
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return unquote(raw[1:len(raw)-1], raw[0])
	}

	switch raw {
	case "true":
		return true
	case "false":
		return false
	}

	if looksNumeric(raw) {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if c == '-' || c == '+' {
		if len(s) == 1 {
			return false
		}
		c = s[1]
	}
	return (c >= '0' && c <= '9') || c == '.'
}

func unquote(s string, quote byte) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '\\', '"', '\'':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// splitTopLevel splits on commas outside quotes.
func splitTopLevel(s string) []string {
	var (
		parts []string
		quote byte
		last  int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ',':
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	return append(parts, s[last:])
}

// matchParen returns the index of the parenthesis closing s[open], or -1.
func matchParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeObject decodes the JSON object at the start of s and reports how many
// bytes it used.
func decodeObject(s string) (map[string]any, int, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, 0, false
	}
	n := len(strings.TrimRight(s[:dec.InputOffset()], " \t\r\n"))

	for k, v := range obj {
		obj[k] = normalizeNumbers(v)
	}
	return obj, n, true
}

// normalizeNumbers turns json.Number into int64 or float64, recursively.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}

// scanName reads a tool name: a letter or underscore followed by letters,
// digits, underscores, hyphens or dots.
func scanName(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		c := s[i]
		if c == '_' || isLetter(c) || (i > start && (isDigit(c) || c == '-' || c == '.')) {
			i++
			continue
		}
		break
	}
	return s[start:i], i
}

func skipSpace(s string, i int, newlines bool) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t':
			i++
		case '\n', '\r':
			if !newlines {
				return i
			}
			i++
		default:
			return i
		}
	}
	return i
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || isLetter(c) || (i > 0 && (isDigit(c) || c == '-')) {
			continue
		}
		return false
	}
	return true
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
