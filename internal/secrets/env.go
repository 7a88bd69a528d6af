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

package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvBackend provides read-only access to secrets via environment variables.
// Each key maps to the variable that holds it, e.g. "api_key" to
// OPENAI_API_KEY.
type EnvBackend struct {
	vars map[string]string
}

// NewEnvBackend creates a new environment variable backend.
func NewEnvBackend(vars map[string]string) *EnvBackend {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return &EnvBackend{vars: copied}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a secret from its environment variable.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	name, ok := e.vars[key]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: no environment variable for %s", ErrSecretNotFound, key)
	}
	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s not set", ErrSecretNotFound, name)
}

// Set returns ErrReadOnlyBackend as environment backend is read-only.
func (e *EnvBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend as environment backend is read-only.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// Available always returns true.
func (e *EnvBackend) Available() bool {
	return true
}
