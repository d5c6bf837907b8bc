// Package config reads the service settings from the environment.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DatabaseURL string

	VectorBackend    string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantUseTLS     bool
	QdrantCollection string
	VectorSize       int
	memoryEnabled    bool

	RedisAddr     string
	RedisPassword string
	EmbedCacheTTL time.Duration

	NatsURL       string
	MemoryWorkers int
	QueueLen      int

	LLMProvider   string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	GeminiKey     string
	GeminiModel   string
	EmbedProvider string
	EmbedModel    string
	BraveAPIKey   string

	CoherenceStageTimeout time.Duration

	OTLPEndpoint string
	OTelLogs     bool
	RateLimitRPS float64
}

var defaults = map[string]any{
	"listen_addr":             ":9000",
	"log_level":               "info",
	"vector_backend":          "memory",
	"qdrant_host":             "localhost",
	"qdrant_port":             6334,
	"qdrant_collection":       "guide_memories",
	"vector_size":             1536,
	"memory_enabled":          true,
	"embed_cache_ttl":         "24h",
	"memory_workers":          4,
	"memory_queue_len":        100,
	"llm_provider":            "openai",
	"openai_model":            "gpt-4o",
	"gemini_model":            "gemini-2.5-flash",
	"embed_provider":          "",
	"embed_model":             "",
	"coherence_stage_timeout": "8s",
	"otel_logs":               false,
	"rate_limit_rps":          20.0,
}

// Load builds a Config from environment variables. Keys are the upper-case
// names of the defaults above, e.g. VECTOR_BACKEND.
func Load() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// keys without a default
	for _, k := range []string{
		"database_url", "qdrant_api_key", "qdrant_use_tls", "redis_addr", "redis_password",
		"nats_url", "openai_api_key", "openai_base_url", "google_gemini_api_key",
		"brave_api_key", "otel_exporter_otlp_endpoint",
	} {
		if err := v.BindEnv(k); err != nil {
			slog.Warn("Could not bind env key", "key", k, "error", err)
		}
	}

	cfg := &Config{
		ListenAddr:            v.GetString("listen_addr"),
		LogLevel:              v.GetString("log_level"),
		DatabaseURL:           v.GetString("database_url"),
		VectorBackend:         strings.ToLower(v.GetString("vector_backend")),
		QdrantHost:            v.GetString("qdrant_host"),
		QdrantPort:            v.GetInt("qdrant_port"),
		QdrantAPIKey:          v.GetString("qdrant_api_key"),
		QdrantUseTLS:          v.GetBool("qdrant_use_tls"),
		QdrantCollection:      v.GetString("qdrant_collection"),
		VectorSize:            v.GetInt("vector_size"),
		memoryEnabled:         v.GetBool("memory_enabled"),
		RedisAddr:             v.GetString("redis_addr"),
		RedisPassword:         v.GetString("redis_password"),
		EmbedCacheTTL:         v.GetDuration("embed_cache_ttl"),
		NatsURL:               v.GetString("nats_url"),
		MemoryWorkers:         v.GetInt("memory_workers"),
		QueueLen:              v.GetInt("memory_queue_len"),
		LLMProvider:           strings.ToLower(v.GetString("llm_provider")),
		OpenAIKey:             v.GetString("openai_api_key"),
		OpenAIBaseURL:         v.GetString("openai_base_url"),
		OpenAIModel:           v.GetString("openai_model"),
		GeminiKey:             v.GetString("google_gemini_api_key"),
		GeminiModel:           v.GetString("gemini_model"),
		EmbedProvider:         strings.ToLower(v.GetString("embed_provider")),
		EmbedModel:            v.GetString("embed_model"),
		BraveAPIKey:           v.GetString("brave_api_key"),
		CoherenceStageTimeout: v.GetDuration("coherence_stage_timeout"),
		OTLPEndpoint:          v.GetString("otel_exporter_otlp_endpoint"),
		OTelLogs:              v.GetBool("otel_logs"),
		RateLimitRPS:          v.GetFloat64("rate_limit_rps"),
	}
	if cfg.EmbedProvider == "" {
		cfg.EmbedProvider = cfg.LLMProvider
	}
	if cfg.MemoryWorkers <= 0 {
		cfg.MemoryWorkers = 1
	}
	return cfg
}

// MemoryEnabled is the capability flag of the memory subsystem. Memory is
// off when disabled explicitly or when there is no embedding source.
func (c *Config) MemoryEnabled() bool {
	if !c.memoryEnabled {
		return false
	}
	switch c.EmbedProvider {
	case "openai":
		return c.OpenAIKey != ""
	case "gemini":
		return c.GeminiKey != ""
	case "hash":
		return true
	}
	return false
}
