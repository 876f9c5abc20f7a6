// internal/workers/discovery/synthesize-answer/config.go
package synthesizeanswer

import (
	"time"
)

type Config struct {
	GenAIBaseURL string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	// MaxItems caps how many ranked candidates are handed to the
	// generator and surfaced in the detailed analysis.
	MaxItems int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:    45 * time.Second,
		MaxRetries: 2,
		MaxItems:   5,
	}
}
