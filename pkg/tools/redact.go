// Copyright 2025 Tom Barlow
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

package tools

import (
	"regexp"
	"strings"
)

// Redactor masks credentials in tool arguments and output before they are
// logged or written to the invocation history. The conversation itself is
// never redacted.
type Redactor struct {
	patterns []redactionPattern
}

type redactionPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// sensitiveArgNames are argument names whose values are always masked.
var sensitiveArgNames = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

// NewRedactor creates a redactor with patterns for common credential shapes.
func NewRedactor() *Redactor {
	r := &Redactor{}

	// AWS access key ids
	r.add(`AKIA[A-Z0-9]{16}`, "[REDACTED]")
	// Authorization headers
	r.add(`(?i)Bearer\s+([a-zA-Z0-9_\-\.]{10,})`, "Bearer [REDACTED]")
	// key=value style credentials
	r.add(`(?i)(api[_-]?key|apikey|access[_-]?token|auth[_-]?token|token|secret|private[_-]?key)\s*[=:]\s*['"]?([a-zA-Z0-9_\-/+=\.]{16,})['"]?`, "$1=[REDACTED]")
	// passwords in URLs
	r.add(`://([^:@\s]+):([^@\s]+)@`, "://$1:[REDACTED]@")
	// passwords in connection strings
	r.add(`(?i)(password|pwd|pass)\s*=\s*([^;'"\s]{3,})`, "$1=[REDACTED]")
	// kubeconfig client keys
	r.add(`(?i)(client-key-data|client-certificate-data)\s*:\s*\S+`, "$1: [REDACTED]")

	return r
}

func (r *Redactor) add(pattern, replacement string) {
	r.patterns = append(r.patterns, redactionPattern{
		regex:       regexp.MustCompile(pattern),
		replacement: replacement,
	})
}

// Redact replaces every credential-shaped match in s.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactArgs returns a copy of args with sensitive values masked. String
// values under other names are passed through Redact.
func (r *Redactor) RedactArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveArg(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveArg(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveArgNames {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
