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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/bjeremy23/jibberish/pkg/errors"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitConfigError     = 2
	ExitProviderError   = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for execution failures
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitExecutionFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for invalid configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfigError,
		Message: msg,
		Cause:   cause,
	}
}

// NewProviderError creates an error for provider-related failures
func NewProviderError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitProviderError,
		Message: msg,
		Cause:   cause,
	}
}

// ExitCode maps an error to its process exit code. An ExitError keeps its
// own code; otherwise provider errors map to 4, configuration errors to 2
// and everything else to 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var provErr *pkgerrors.ProviderError
	if errors.As(err, &provErr) {
		return ExitProviderError
	}
	if pkgerrors.IsConfig(err) {
		return ExitConfigError
	}
	return ExitExecutionFailed
}

// HandleExitError prints err with any suggestion and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// PrintError writes the error line and the first user-visible suggestion
// found in the chain.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, RenderError("Error: "+err.Error()))
	if suggestion := Suggestion(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}

// Suggestion returns the suggestion of the first UserVisibleError in err's
// chain, or "".
func Suggestion(err error) string {
	var userErr pkgerrors.UserVisibleError
	if errors.As(err, &userErr) && userErr.IsUserVisible() {
		return userErr.Suggestion()
	}
	return ""
}
