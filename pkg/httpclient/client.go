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

// Package httpclient builds the HTTP clients used for completion providers
// and HTTP MCP servers.
//
// Clients are composed from transport layers, outermost first:
//   - rate limiting (optional, golang.org/x/time/rate)
//   - retries with exponential backoff for idempotent methods
//   - request logging with sanitized URLs, User-Agent injection and
//     OpenTelemetry trace context propagation
//
// POST requests are never retried unless AllowNonIdempotentRetry is set.
package httpclient

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// New creates an HTTP client with the given configuration.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = newLoggingTransport(base, cfg.UserAgent, logger)
	if cfg.RetryAttempts > 0 {
		rt = newRetryTransport(rt, cfg, logger)
	}
	if cfg.RateLimit > 0 {
		rt = newRateLimitTransport(rt, cfg.RateLimit, cfg.RateBurst)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.Timeout,
	}, nil
}
