package ollama

import (
	"time"

	"github.com/b0r1v0j3/workers-united/internal/config"
)

// DefaultVisionModel is used when the caller does not name a model.
const DefaultVisionModel = "llava"

// withDefaults fills zero fields so a partially configured client still
// times out and trips its breaker.
func withDefaults(cfg config.OllamaConfig) config.OllamaConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = 5
	}
	if cfg.CircuitReset <= 0 {
		cfg.CircuitReset = 30 * time.Second
	}

	return cfg
}
