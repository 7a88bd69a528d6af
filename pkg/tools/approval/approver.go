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

// Package approval decides whether a model-requested command may run.
package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// PromptEnv enables confirmation before model-requested shell commands.
const PromptEnv = "PROMPT_AI_COMMANDS"

// PromptRequired reports whether PROMPT_AI_COMMANDS asks for confirmation.
// Accepted values are true, always, yes and 1.
func PromptRequired() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(PromptEnv))) {
	case "true", "always", "yes", "1":
		return true
	}
	return false
}

// Approver handles command execution approval decisions.
type Approver interface {
	// Approve returns true if the command should run.
	Approve(ctx context.Context, toolName, command string) (bool, error)
}

// Static always returns the same decision.
type Static bool

// Approve implements Approver.
func (s Static) Approve(ctx context.Context, toolName, command string) (bool, error) {
	return bool(s), nil
}

// Prompter asks on the terminal using a huh confirm form. When stdin is not
// a terminal it declines without prompting.
type Prompter struct {
	isTerminal func() bool
}

// NewPrompter creates a terminal approver.
func NewPrompter() *Prompter {
	return &Prompter{
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

// Approve implements Approver.
func (p *Prompter) Approve(ctx context.Context, toolName, command string) (bool, error) {
	if !p.isTerminal() {
		return false, nil
	}

	var run bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Run %q?", command)).
				Description("Requested by the assistant through " + toolName).
				Affirmative("Run").
				Negative("Cancel").
				Value(&run),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	return run, nil
}

// LineApprover reads a y/N answer from a reader. Used when no terminal UI
// is wanted, and in tests.
type LineApprover struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewLineApprover creates a line-based approver.
func NewLineApprover(r io.Reader, w io.Writer) *LineApprover {
	return &LineApprover{reader: bufio.NewReader(r), writer: w}
}

// Approve implements Approver. EOF and unknown answers deny.
func (l *LineApprover) Approve(ctx context.Context, toolName, command string) (bool, error) {
	fmt.Fprintf(l.writer, "%s wants to run: %s\nProceed? [y/N]: ", toolName, command)

	line, err := l.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
