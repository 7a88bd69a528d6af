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

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bjeremy23/jibberish/internal/log"
	"github.com/bjeremy23/jibberish/pkg/errors"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// ServerStatus is the outcome of discovery for one server.
type ServerStatus string

const (
	// StatusReady means tools/list succeeded.
	StatusReady ServerStatus = "ok"
	// StatusFailed means the transport could not be built or tools/list failed.
	StatusFailed ServerStatus = "failed"
	// StatusRejected means the server was refused before any call, e.g. for a
	// shared tool prefix.
	StatusRejected ServerStatus = "rejected"
	// StatusDisabled means the server is configured with enabled=false.
	StatusDisabled ServerStatus = "disabled"
)

// ServerReport describes what one server contributed.
type ServerReport struct {
	Name      string
	Transport TransportKind
	Prefix    string
	Status    ServerStatus

	// Tools are the public names registered for this server.
	Tools []string

	// Skipped counts definitions dropped by filters or name collisions.
	Skipped int

	Err error
}

// DiscoveryReport is the result of one discovery pass.
type DiscoveryReport struct {
	Servers  []ServerReport
	Duration time.Duration
}

// ToolCount returns the number of remote tools registered.
func (r *DiscoveryReport) ToolCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, s := range r.Servers {
		n += len(s.Tools)
	}
	return n
}

// Server returns the report for a server by name.
func (r *DiscoveryReport) Server(name string) (ServerReport, bool) {
	if r == nil {
		return ServerReport{}, false
	}
	for _, s := range r.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerReport{}, false
}

// TransportFactory builds the transport for a server.
type TransportFactory func(cfg ServerConfig, opts TransportOptions) (Transport, error)

// ManagerConfig configures the MCP manager.
type ManagerConfig struct {
	// Registry receives the discovered tools (required)
	Registry *tools.Registry

	// Servers is the initial server set
	Servers []ServerConfig

	// Timeout is the default per-call timeout (defaults to DefaultTimeout)
	Timeout time.Duration

	// Commands spawns stdio processes (optional)
	Commands CommandFactory

	// Transports overrides transport construction (optional)
	Transports TransportFactory

	// Concurrency bounds parallel tools/list calls (defaults to 4)
	Concurrency int

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// Manager owns the configured MCP servers and the tools they contribute to
// the registry. Discover and Reload are serialized.
type Manager struct {
	registry    *tools.Registry
	logger      *slog.Logger
	timeout     time.Duration
	commands    CommandFactory
	transports  TransportFactory
	concurrency int

	mu      sync.Mutex
	servers []ServerConfig
	managed map[string]struct{}
	report  *DiscoveryReport
}

// NewManager creates a new MCP server manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, &errors.ValidationError{Field: "registry", Message: "registry is required"}
	}

	logger := log.WithComponent(cfg.Logger, "mcp")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transports := cfg.Transports
	if transports == nil {
		transports = NewTransport
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Manager{
		registry:    cfg.Registry,
		logger:      logger,
		timeout:     timeout,
		commands:    cfg.Commands,
		transports:  transports,
		concurrency: concurrency,
		servers:     append([]ServerConfig{}, cfg.Servers...),
		managed:     make(map[string]struct{}),
	}, nil
}

// Servers returns the configured servers, enabled or not.
func (m *Manager) Servers() []ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ServerConfig{}, m.servers...)
}

// Report returns the last discovery report, or nil before the first pass.
func (m *Manager) Report() *DiscoveryReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

// Discover registers the tools of every enabled server. Discovery failures
// are logged and leave the server with zero tools. The returned error joins
// the configuration errors; the report is always returned.
func (m *Manager) Discover(ctx context.Context) (*DiscoveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discoverLocked(ctx)
}

// Reload replaces the server set and rediscovers. Tools of servers that are
// gone or changed are removed first.
func (m *Manager) Reload(ctx context.Context, servers []ServerConfig) (*DiscoveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.servers = append([]ServerConfig{}, servers...)
	m.logger.Info("reloading mcp servers", "count", len(servers))
	return m.discoverLocked(ctx)
}

// discovery is the per-server working state of one pass.
type discovery struct {
	cfg       ServerConfig
	transport Transport
	defs      []ToolDefinition
	report    ServerReport
}

func (m *Manager) discoverLocked(ctx context.Context) (*DiscoveryReport, error) {
	start := time.Now()
	m.clearLocked()

	var configErrs []error
	prefixes := make(map[string][]string)
	for _, s := range m.servers {
		if s.Enabled {
			prefixes[s.ToolPrefix] = append(prefixes[s.ToolPrefix], s.Name)
		}
	}

	work := make([]*discovery, 0, len(m.servers))
	for _, s := range m.servers {
		d := &discovery{
			cfg: s,
			report: ServerReport{
				Name:      s.Name,
				Transport: s.Transport,
				Prefix:    s.ToolPrefix,
			},
		}
		work = append(work, d)

		if !s.Enabled {
			d.report.Status = StatusDisabled
			continue
		}

		if owners := prefixes[s.ToolPrefix]; len(owners) > 1 {
			err := &errors.ConfigError{
				Key:    s.Name + ".tool_prefix",
				Reason: fmt.Sprintf("prefix %q is shared by servers %v", s.ToolPrefix, owners),
			}
			d.report.Status = StatusRejected
			d.report.Err = err
			configErrs = append(configErrs, err)
			m.logger.Warn("rejecting mcp server", log.ServerKey, s.Name, "error", err)
			continue
		}

		transport, err := m.transports(s, TransportOptions{
			Timeout:  m.timeout,
			Commands: m.commands,
			Logger:   m.logger,
		})
		if err != nil {
			d.report.Status = StatusFailed
			d.report.Err = err
			if errors.IsConfig(err) {
				configErrs = append(configErrs, err)
			}
			m.logger.Warn("mcp server unavailable", log.ServerKey, s.Name, log.TransportKey, s.Transport, "error", err)
			continue
		}
		d.transport = transport
		d.report.Transport = transport.Kind()
	}

	m.listAll(ctx, work)

	for _, d := range work {
		if d.transport == nil || d.report.Err != nil {
			continue
		}
		m.registerLocked(d)
	}

	report := &DiscoveryReport{Duration: time.Since(start)}
	for _, d := range work {
		report.Servers = append(report.Servers, d.report)
		if d.report.Status == StatusReady {
			recordDiscovered(d.cfg.Name, len(d.report.Tools))
		} else {
			recordDiscovered(d.cfg.Name, 0)
		}
	}
	m.report = report

	m.logger.Debug("mcp discovery complete",
		"servers", len(report.Servers),
		"tools", report.ToolCount(),
		log.DurationKey, report.Duration.Milliseconds(),
	)
	return report, errors.Join(configErrs...)
}

// listAll runs tools/list on every transport with bounded concurrency.
func (m *Manager) listAll(ctx context.Context, work []*discovery) {
	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup

	for _, d := range work {
		if d.transport == nil || d.report.Status != "" {
			continue
		}
		wg.Add(1)
		go func(d *discovery) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				d.fail(ctx.Err())
				return
			}

			defs, err := d.transport.Discover(ctx)
			if err != nil {
				d.fail(err)
				m.logger.Warn("mcp discovery failed", log.ServerKey, d.cfg.Name, log.TransportKey, d.cfg.Transport, "error", d.report.Err)
				return
			}
			d.defs = defs
			d.report.Status = StatusReady
		}(d)
	}
	wg.Wait()
}

func (d *discovery) fail(err error) {
	d.report.Status = StatusFailed
	d.report.Err = &errors.DiscoveryError{Server: d.cfg.Name, Cause: err}
}

// registerLocked registers the admitted definitions of one server.
func (m *Manager) registerLocked(d *discovery) {
	sort.SliceStable(d.defs, func(i, j int) bool { return d.defs[i].Name < d.defs[j].Name })

	for _, def := range d.defs {
		if !d.cfg.Admits(def.Name) {
			d.report.Skipped++
			m.logger.Debug("mcp tool filtered", log.ServerKey, d.cfg.Name, log.ToolKey, def.Name)
			continue
		}

		tool := NewRemoteTool(d.cfg, def, d.transport)
		if err := m.registry.Register(tool); err != nil {
			d.report.Skipped++
			m.logger.Warn("skipping mcp tool", log.ServerKey, d.cfg.Name, log.ToolKey, tool.Name(), "error", err)
			continue
		}
		m.managed[d.cfg.Name] = struct{}{}
		d.report.Tools = append(d.report.Tools, tool.Name())
	}
}

// clearLocked removes every tool contributed by a previously managed server.
func (m *Manager) clearLocked() {
	current := make(map[string]struct{}, len(m.servers))
	for _, s := range m.servers {
		current[s.Name] = struct{}{}
	}

	for name := range m.managed {
		removed := m.registry.UnregisterServer(name)
		m.logger.Debug("unregistered mcp tools", log.ServerKey, name, "count", removed)
		if _, ok := current[name]; !ok {
			forgetServer(name)
		}
	}
	m.managed = make(map[string]struct{})

	if m.report != nil {
		for _, s := range m.report.Servers {
			if _, ok := current[s.Name]; !ok {
				forgetServer(s.Name)
			}
		}
	}
}
