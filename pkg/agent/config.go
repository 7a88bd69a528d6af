package agent

// Config configures agent execution limits and behavior.
type Config struct {
	// MaxIterations limits the number of tool calls per turn.
	// Values outside 1..MaxIterations are clamped.
	// Default: 3
	MaxIterations int

	// Model is passed through to the provider; empty means provider default
	Model string

	// Temperature controls randomness (optional)
	Temperature *float64

	// MaxTokens limits each completion (optional)
	MaxTokens *int

	// ContextTokens bounds the estimated size of the messages sent per
	// completion. Older messages are dropped first.
	// Default: 32000
	ContextTokens int
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: MaxIterations,
		ContextTokens: 32000,
	}
}

// WithDefaults fills in missing config values with defaults.
func (c Config) WithDefaults() Config {
	result := c
	if result.MaxIterations <= 0 || result.MaxIterations > MaxIterations {
		result.MaxIterations = MaxIterations
	}
	if result.ContextTokens <= 0 {
		result.ContextTokens = 32000
	}
	return result
}
