package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateEngine(cfg, ve)
	validateIndex(cfg, ve)
	validateEmbedding(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validDurability = map[string]bool{
	"async": true,
	"sync":  true,
}

func validateEngine(cfg *Config, ve *ValidationError) {
	if cfg.Engine.HotCacheCapacity <= 0 {
		ve.Add("engine.hot_cache_capacity must be > 0")
	}
	if cfg.Engine.MemoryLimitBytes < 0 {
		ve.Add("engine.memory_limit_bytes must be >= 0")
	}
	if cfg.Engine.RetrievalTimeout <= 0 {
		ve.Add("engine.retrieval_timeout must be > 0")
	}
	if cfg.Engine.PersistentFloor < 0 {
		ve.Add("engine.persistent_floor must be >= 0")
	}
	if cfg.Engine.PersistentFloor >= cfg.Engine.RetrievalTimeout {
		ve.Add("engine.persistent_floor must be smaller than engine.retrieval_timeout")
	}
	if !validDurability[cfg.Engine.Durability] {
		ve.Add("engine.durability %q is invalid (want: async, sync)", cfg.Engine.Durability)
	}
	if cfg.Engine.Durability == "async" && cfg.Engine.WriteQueueSize <= 0 {
		ve.Add("engine.write_queue_size must be > 0 when durability is async")
	}
	if cfg.Engine.SweepSchedule == "" {
		ve.Add("engine.sweep_schedule must not be empty")
	}
}

var validIndexBackends = map[string]bool{
	"sqlite":  true,
	"chromem": true,
}

func validateIndex(cfg *Config, ve *ValidationError) {
	if !validIndexBackends[cfg.Index.Backend] {
		ve.Add("index.backend %q is invalid (want: sqlite, chromem)", cfg.Index.Backend)
	}
	if cfg.Index.Path == "" {
		ve.Add("index.path must not be empty")
	}
}

var validEmbeddingProviders = map[string]bool{
	"local":  true,
	"ollama": true,
	"openai": true,
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	if !validEmbeddingProviders[cfg.Embedding.Provider] {
		ve.Add("embedding.provider %q is invalid (want: local, ollama, openai)", cfg.Embedding.Provider)
	}
	switch cfg.Embedding.Provider {
	case "ollama":
		if cfg.Embedding.Model == "" {
			ve.Add("embedding.model is required when provider is ollama")
		}
	case "openai":
		if cfg.Embedding.APIKey == "" {
			ve.Add("embedding.api_key is required when provider is openai (set via RECALLD_EMBEDDING_API_KEY)")
		}
	}
	if cfg.Embedding.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
	if cfg.Embedding.Dims < 0 {
		ve.Add("embedding.dims must be >= 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.RateLimitPerMin < 0 {
		ve.Add("gateway.rate_limit_per_min must be >= 0")
	}
	if cfg.Gateway.RateLimitBurst < 0 {
		ve.Add("gateway.rate_limit_burst must be >= 0")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var validLogFormats = map[string]bool{
	"text": true, "json": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

var validTracerExporters = map[string]bool{
	"stdout": true, "noop": true, "": true,
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validTracerExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
}
