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

// Package config loads jibberish settings from YAML and the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bjeremy23/jibberish/internal/secrets"
	jerrors "github.com/bjeremy23/jibberish/pkg/errors"
)

const (
	// DefaultServersFile is where MCP servers are configured unless overridden.
	DefaultServersFile = "~/.jbrsh-mcp-servers.json"

	// DefaultAPIKeyEnv names the variable holding the provider API key.
	DefaultAPIKeyEnv = "OPENAI_API_KEY"

	// APIKeySecret is the secret name of the provider API key.
	APIKeySecret = "api_key"
)

// Tracing exporters.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Config represents the complete jibberish configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`

	// ServersFile is the MCP servers file.
	// Environment: JIBBERISH_SERVERS_FILE
	// Default: ~/.jbrsh-mcp-servers.json
	ServersFile string `yaml:"servers_file,omitempty"`

	// ToolTimeout bounds each MCP tool call.
	// Default: 30s
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty"`

	History HistoryConfig `yaml:"history"`
	Tracing TracingConfig `yaml:"tracing"`

	// MetricsAddr serves /metrics during chat sessions when set (e.g., ":9090").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// ProviderConfig configures the OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	// BaseURL is the API root.
	// Environment: JIBBERISH_BASE_URL
	BaseURL string `yaml:"base_url,omitempty"`

	// Model is the model ID.
	// Environment: JIBBERISH_MODEL
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// Default: OPENAI_API_KEY
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Timeout bounds each completion request.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// HistoryConfig configures the tool invocation audit log.
type HistoryConfig struct {
	// Enabled turns recording on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	// Default: <config dir>/history.db
	Path string `yaml:"path,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is one of none, stdout, otlp-http, otlp-grpc.
	// Default: none
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the collector address for OTLP exporters.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `yaml:"insecure,omitempty"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			APIKeyEnv: DefaultAPIKeyEnv,
			Timeout:   60 * time.Second,
		},
		ServersFile: DefaultServersFile,
		ToolTimeout: 30 * time.Second,
		History: HistoryConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Exporter: ExporterNone,
		},
	}
}

// Load loads configuration from a YAML file and the environment.
// Environment variables take precedence over file-based configuration.
// If configPath is empty the default config path is used when it exists.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	path := configPath
	if path == "" {
		if p, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &jerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	// Override with environment variables
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	path, err := ExpandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = def.Provider.BaseURL
	}
	if c.Provider.Model == "" {
		c.Provider.Model = def.Provider.Model
	}
	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = def.Provider.APIKeyEnv
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = def.Provider.Timeout
	}
	if c.ServersFile == "" {
		c.ServersFile = def.ServersFile
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = def.ToolTimeout
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = ExporterNone
	}
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("JIBBERISH_SERVERS_FILE"); val != "" {
		c.ServersFile = val
	}
	if val := os.Getenv("JIBBERISH_MODEL"); val != "" {
		c.Provider.Model = val
	}
	if val := os.Getenv("JIBBERISH_BASE_URL"); val != "" {
		c.Provider.BaseURL = val
	}
}

// Validate checks the configuration. The first problem is returned as a
// *errors.ConfigError.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &jerrors.ConfigError{
			Key:    "provider.base_url",
			Reason: fmt.Sprintf("must be an http(s) URL, got %q", c.Provider.BaseURL),
			Cause:  err,
		}
	}
	if c.Provider.Timeout < 0 {
		return &jerrors.ConfigError{Key: "provider.timeout", Reason: "must not be negative"}
	}
	if c.ToolTimeout < 0 {
		return &jerrors.ConfigError{Key: "tool_timeout", Reason: "must not be negative"}
	}

	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLPHTTP, ExporterOTLPGRPC:
		if c.Tracing.Endpoint == "" {
			return &jerrors.ConfigError{
				Key:    "tracing.endpoint",
				Reason: fmt.Sprintf("required for exporter %s", c.Tracing.Exporter),
			}
		}
	default:
		return &jerrors.ConfigError{
			Key:    "tracing.exporter",
			Reason: fmt.Sprintf("must be one of [none, stdout, otlp-http, otlp-grpc], got %q", c.Tracing.Exporter),
		}
	}
	return nil
}

// ServersPath returns the servers file with ~ expanded.
func (c *Config) ServersPath() (string, error) {
	return ExpandHome(c.ServersFile)
}

// HistoryPath returns the audit log database path.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return ExpandHome(c.History.Path)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// SecretResolver returns the API key lookup chain: the configured
// environment variable first, then the system keychain.
func (c *Config) SecretResolver() *secrets.Resolver {
	return secrets.NewResolver(
		secrets.NewEnvBackend(map[string]string{APIKeySecret: c.Provider.APIKeyEnv}),
		secrets.NewKeychainBackend(),
	)
}

// APIKey resolves the provider API key.
func (c *Config) APIKey(ctx context.Context) (string, error) {
	key, err := c.SecretResolver().Get(ctx, APIKeySecret)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) || errors.Is(err, secrets.ErrBackendUnavailable) {
			return "", &jerrors.ConfigError{
				Key:    "provider.api_key",
				Reason: fmt.Sprintf("set %s or run 'jibberish config set-key'", c.Provider.APIKeyEnv),
				Cause:  err,
			}
		}
		return "", err
	}
	return key, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
