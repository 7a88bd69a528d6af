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

/*
Package cli provides the root command and shared wiring for jibberish's CLI.

This package creates the root Cobra command and handles global concerns like
version information, persistent flags, command groups and help output.
Individual commands are implemented in the internal/commands subpackages.

# Command Tree

	jibberish
	├── ask             One question, up to 3 tool calls
	├── chat            Interactive session with a persistent conversation
	├── tools
	│   ├── list        Registered tools and their origin
	│   └── call        Invoke one tool directly
	├── servers
	│   ├── list        Configured MCP servers (env redacted)
	│   └── check       Run discovery and report per server
	├── history         Recorded tool invocations
	│   └── prune
	├── config
	│   ├── show
	│   ├── path
	│   ├── set-key
	│   └── delete-key
	└── version

# Global Flags

	--verbose, -v   Show tool invocations and info-level logs
	--quiet, -q     Suppress non-error output
	--json          Machine-readable output
	--config        Settings file (default ~/.config/jibberish/config.yaml)

# Exit Codes

	0  success
	1  execution failure
	2  configuration error
	4  provider error
*/
package cli
