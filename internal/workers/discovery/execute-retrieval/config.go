// internal/workers/discovery/execute-retrieval/config.go
package executeretrieval

import (
	"time"
)

type Config struct {
	// CallTimeout bounds each individual backend call.
	CallTimeout time.Duration
	// Timeout bounds the whole retrieval stage.
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		CallTimeout: 10 * time.Second,
		Timeout:     30 * time.Second,
	}
}
