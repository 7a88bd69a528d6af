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
Package mcp connects jibberish to external Model Context Protocol servers.

Servers are declared in a servers file (JSON, or YAML by extension). Each entry
is classified into one of three transports:

  - HTTP: the command is an http:// or https:// URL. Every request is a
    single JSON-RPC POST.
  - Docker: the command is "docker". A fresh container is started per call
    with "docker run -i --rm ...".
  - Local process: any other command, resolved to an absolute path and
    spawned per call.

Stdio transports write one JSON-RPC request line, close stdin and read the
response from stdout. No process outlives the call that spawned it.

# Discovery

The Manager calls tools/list on every enabled server and registers one
RemoteTool per returned definition under the name "<tool_prefix>_<name>".
Servers sharing a tool_prefix are rejected before any process is started.
A server that fails discovery is logged and contributes no tools; the rest
continue.

# Configuration

	{
	  "k8s": {
	    "command": "docker",
	    "args": ["-e", "KUBECONFIG=/kube/config", "ghcr.io/example/k8s-mcp"],
	    "tool_prefix": "k8s",
	    "timeout": "45s",
	    "exclude": ["*_delete"]
	  },
	  "search": {
	    "command": "https://mcp.example.com/rpc",
	    "rate_limit": 2
	  }
	}

The legacy array form, a list of objects carrying a "name" field, is also
accepted.

# Reloading

Watcher observes the servers file with fsnotify and calls Manager.Reload
after a debounce delay. Reload removes every tool contributed by managed
servers and rediscovers from the new configuration.
*/
package mcp
