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

// Package config implements the 'jibberish config' commands.
package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/bjeremy23/jibberish/internal/commands/shared"
	"github.com/bjeremy23/jibberish/internal/config"
	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/internal/secrets"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
		Annotations: map[string]string{
			"group": "management",
		},
		Long: `View and manage jibberish configuration.

Subcommands:
  show       - Display the effective configuration
  path       - Show config file location
  set-key    - Store the provider API key in the system keychain
  delete-key - Remove the stored API key`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newSetKeyCommand())
	cmd.AddCommand(newDeleteKeyCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd.Context(), cmd.OutOrStdout())
	}

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults and environment overrides.

The API key is never printed; only where it was found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func configPath() (string, error) {
	if p := shared.GetConfigPath(); p != "" {
		return p, nil
	}
	p, err := config.ConfigPath()
	if err != nil {
		return "", shared.NewConfigError("failed to determine config path", err)
	}
	return p, nil
}

// effectiveConfig is the JSON show output: the loaded configuration plus the
// resolved locations.
type effectiveConfig struct {
	Config      *config.Config `json:"config"`
	ConfigFile  string         `json:"config_file"`
	ServersPath string         `json:"servers_path"`
	HistoryPath string         `json:"history_path"`
	APIKey      string         `json:"api_key"`
}

func runConfigShow(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewConfigError("failed to load configuration", err)
	}

	show := effectiveConfig{Config: cfg}
	show.ConfigFile, _ = configPath()
	show.ServersPath, _ = cfg.ServersPath()
	show.HistoryPath, _ = cfg.HistoryPath()
	show.APIKey = keyStatus(ctx, cfg)

	if shared.GetJSON() {
		type response struct {
			shared.JSONResponse
			effectiveConfig
		}
		return shared.EmitJSON(out, response{
			JSONResponse:    shared.NewJSONResponse("config show"),
			effectiveConfig: show,
		})
	}

	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Configuration:"), show.ConfigFile)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Servers file: "), show.ServersPath)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("History:      "), show.HistoryPath)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("API key:      "), show.APIKey)
	fmt.Fprintln(out, strings.Repeat("=", 50))

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}

// keyStatus reports where the API key comes from without revealing it.
func keyStatus(ctx context.Context, cfg *config.Config) string {
	if v := os.Getenv(cfg.Provider.APIKeyEnv); v != "" {
		return fmt.Sprintf("from $%s (%s)", cfg.Provider.APIKeyEnv, log.SanitizeAPIKey(v))
	}
	key, err := cfg.SecretResolver().Get(ctx, config.APIKeySecret)
	if err != nil {
		return "not set"
	}
	return fmt.Sprintf("from keychain (%s)", log.SanitizeAPIKey(key))
}

func newSetKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the provider API key in the system keychain",
		Long: `Prompt for the API key and store it in the system keychain under the
"jibberish" service. When stdin is not a terminal the key is read from its
first line, e.g.:

  printenv OPENAI_API_KEY | jibberish config set-key

The environment variable named by provider.api_key_env still takes
precedence over the stored key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey(cmd.Context(), cmd.InOrStdin())
			if err != nil {
				return err
			}
			return storeKey(cmd.Context(), cmd.OutOrStdout(), secrets.NewKeychainBackend(), key)
		},
	}
}

func newDeleteKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteKey(cmd.Context(), cmd.OutOrStdout(), secrets.NewKeychainBackend())
		},
	}
}

// readKey prompts on a terminal and reads one line otherwise.
func readKey(ctx context.Context, in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		var key string
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&key),
		))
		if err := form.RunWithContext(ctx); err != nil {
			return "", shared.NewExecutionError("key prompt failed", err)
		}
		return strings.TrimSpace(key), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", shared.NewExecutionError("failed to read key", err)
	}
	return strings.TrimSpace(line), nil
}

func storeKey(ctx context.Context, out io.Writer, backend secrets.Backend, key string) error {
	if key == "" {
		return shared.NewConfigError("no API key given", nil)
	}
	if !backend.Available() {
		return shared.NewConfigError("system keychain is not available", secrets.ErrBackendUnavailable)
	}
	if err := backend.Set(ctx, config.APIKeySecret, key); err != nil {
		return shared.NewExecutionError("failed to store API key", err)
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("API key stored in %s (%s)", backend.Name(), log.SanitizeAPIKey(key))))
	}
	return nil
}

func deleteKey(ctx context.Context, out io.Writer, backend secrets.Backend) error {
	err := backend.Delete(ctx, config.APIKeySecret)
	switch {
	case errors.Is(err, secrets.ErrSecretNotFound):
		fmt.Fprintln(out, shared.RenderWarn("no API key stored"))
		return nil
	case err != nil:
		return shared.NewExecutionError("failed to delete API key", err)
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(out, shared.RenderOK("API key removed from "+backend.Name()))
	}
	return nil
}
