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

// Status is the outcome of a tool call.
type Status string

const (
	// StatusOK marks a successful tool call.
	StatusOK Status = "ok"
	// StatusError marks a failed tool call.
	StatusError Status = "error"
)

// Result is the outcome of one tool invocation. It is fed back to the
// model as a tool message.
type Result struct {
	// Status is ok or error
	Status Status `json:"status"`

	// Output is the text produced by the tool
	Output string `json:"output"`

	// ErrorDetail explains a failure. Empty when Status is ok.
	ErrorDetail string `json:"error_detail,omitempty"`
}

// OK returns a successful result.
func OK(output string) *Result {
	return &Result{Status: StatusOK, Output: output}
}

// Failed returns an error-status result.
func Failed(detail string) *Result {
	return &Result{Status: StatusError, ErrorDetail: detail}
}

// FromError converts an execution error into an error-status result.
func FromError(err error) *Result {
	return Failed(err.Error())
}

// IsError reports whether the call failed.
func (r *Result) IsError() bool {
	return r == nil || r.Status == StatusError
}

// Text renders the result as a tool message body. Failures are prefixed
// with "ERROR: " so the model can tell them apart from output.
func (r *Result) Text() string {
	if r == nil {
		return "ERROR: no result"
	}
	if r.Status == StatusError {
		detail := r.ErrorDetail
		if detail == "" {
			detail = r.Output
		}
		return "ERROR: " + detail
	}
	return r.Output
}
