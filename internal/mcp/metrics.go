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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// toolCallDuration tracks remote tools/call latency per transport
	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jibberish_tool_call_duration_seconds",
			Help:    "Remote tool call duration by transport kind",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"transport"},
	)

	// discoveryTools tracks the number of tools registered per server
	discoveryTools = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jibberish_discovery_tools",
			Help: "Tools registered from each MCP server by the last discovery",
		},
		[]string{"server"},
	)
)

// recordCallDuration observes a remote call
func recordCallDuration(kind TransportKind, d time.Duration) {
	toolCallDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// recordDiscovered sets the tool gauge for a server
func recordDiscovered(server string, count int) {
	discoveryTools.WithLabelValues(server).Set(float64(count))
}

// forgetServer drops the gauge of a server that is no longer configured
func forgetServer(server string) {
	discoveryTools.DeleteLabelValues(server)
}
