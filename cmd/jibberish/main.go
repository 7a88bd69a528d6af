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

package main

import (
	"github.com/bjeremy23/jibberish/internal/cli"
	"github.com/bjeremy23/jibberish/internal/commands/ask"
	"github.com/bjeremy23/jibberish/internal/commands/chat"
	"github.com/bjeremy23/jibberish/internal/commands/config"
	"github.com/bjeremy23/jibberish/internal/commands/management"
	"github.com/bjeremy23/jibberish/internal/commands/mcp"
	versioncmd "github.com/bjeremy23/jibberish/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	cli.AddCommands(rootCmd,
		// Asking
		ask.NewCommand(),
		chat.NewCommand(),

		// Tools and servers
		mcp.NewToolsCommand(),
		mcp.NewServersCommand(),

		// Management
		management.NewHistoryCommand(),
		config.NewConfigCommand(),
		versioncmd.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
