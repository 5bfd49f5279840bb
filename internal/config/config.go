// Package config provides configuration loading for assistd.
//
// Configuration is read from an optional YAML file and overridden by
// ASSISTD_* environment variables. Sections are flat so that every key maps
// to exactly one variable: ASSISTD_RETRIEVAL_TOP_K -> retrieval.top_k.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Storage providers.
const (
	StorageSQLite  = "sqlite"
	StorageMemory  = "memory"
	StorageChromem = "chromem"
	StorageQdrant  = "qdrant"
)

// System prompt policies for the retrieval path.
const (
	PolicyStatic  = "static"
	PolicyDynamic = "dynamic"
)

// FAQ staleness policies.
const (
	StalenessLoadOnce        = "load_once"
	StalenessCheckEachLookup = "check_each_lookup"
	StalenessWatch           = "watch"
)

// MaxContextBudget bounds the retrieval context window in characters.
const MaxContextBudget = 30000

// Config holds the complete assistd configuration.
type Config struct {
	Server     ServerConfig    `koanf:"server"`
	Storage    StorageConfig   `koanf:"storage"`
	Embedding  ProviderConfig  `koanf:"embedding"`
	Generation ProviderConfig  `koanf:"generation"`
	Gateway    GatewayConfig   `koanf:"gateway"`
	FAQ        FAQConfig       `koanf:"faq"`
	Prompt     PromptConfig    `koanf:"prompt"`
	Retrieval  RetrievalConfig `koanf:"retrieval"`
	Ingest     IngestConfig    `koanf:"ingest"`
	NATS       NATSConfig      `koanf:"nats"`
	Logging    LoggingConfig   `koanf:"logging"`
	Telemetry  TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects and configures the chunk store backend.
type StorageConfig struct {
	Provider         string `koanf:"provider"`
	Path             string `koanf:"path"`
	ChromemCompress  bool   `koanf:"chromem_compress"`
	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantUseTLS     bool   `koanf:"qdrant_use_tls"`
	QdrantAPIKey     Secret `koanf:"qdrant_api_key"`
	Collection       string `koanf:"collection"`
	VectorSize       int    `koanf:"vector_size"`
	DiscoverRowLimit int    `koanf:"discover_row_limit"`
}

// ProviderConfig configures one model provider.
// Used for both the embedding and the generation side of the gateway.
type ProviderConfig struct {
	Provider  string `koanf:"provider"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	Model     string `koanf:"model"`
	MaxTokens int    `koanf:"max_tokens"`
	CacheDir  string `koanf:"cache_dir"`
}

// GatewayConfig holds rate limiting and retry settings shared by providers.
type GatewayConfig struct {
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	MaxRetries        int      `koanf:"max_retries"`
	RetryBackoff      Duration `koanf:"retry_backoff"`
	Timeout           Duration `koanf:"timeout"`
}

// FAQConfig configures the FAQ matcher and generator.
type FAQConfig struct {
	DataDir          string   `koanf:"data_dir"`
	// Threshold is a pointer so an explicit 0 is kept; nil means 0.85.
	Threshold        *float64 `koanf:"threshold"`
	Staleness        string   `koanf:"staleness"`
	GenerateMaxChars int      `koanf:"generate_max_chars"`
}

// PromptConfig configures the prompt synthesizer.
type PromptConfig struct {
	CacheSize        int     `koanf:"cache_size"`
	DiscoverMaxChars int     `koanf:"discover_max_chars"`
	Temperature      float64 `koanf:"temperature"`
}

// RetrievalConfig configures the answer path.
type RetrievalConfig struct {
	TopK          int      `koanf:"top_k"`
	ContextBudget int      `koanf:"context_budget"`
	HistoryTurns  int      `koanf:"history_turns"`
	Temperature   float64  `koanf:"temperature"`
	SystemPrompt  string   `koanf:"system_prompt"`
	AnswerTimeout Duration `koanf:"answer_timeout"`
}

// IngestConfig configures chunking and secret redaction.
type IngestConfig struct {
	ChunkSize       int    `koanf:"chunk_size"`
	ScrubSecrets    bool   `koanf:"scrub_secrets"`
	SecretAllowlist string `koanf:"secret_allowlist"`
}

// NATSConfig configures the asynchronous ingest consumer.
type NATSConfig struct {
	Enabled    bool   `koanf:"enabled"`
	URL        string `koanf:"url"`
	Subject    string `koanf:"subject"`
	DLQSubject string `koanf:"dlq_subject"`
	Queue      string `koanf:"queue"`
	MaxRetries int    `koanf:"max_retries"`
}

// LoggingConfig is the subset of logging settings exposed to the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the subset of telemetry settings exposed to the config file.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = StorageSQLite
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "~/.local/share/assistd"
	}
	if cfg.Storage.QdrantHost == "" {
		cfg.Storage.QdrantHost = "localhost"
	}
	if cfg.Storage.QdrantPort == 0 {
		cfg.Storage.QdrantPort = 6334
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "assistd_chunks"
	}
	if cfg.Storage.VectorSize == 0 {
		cfg.Storage.VectorSize = 1536
	}
	if cfg.Storage.DiscoverRowLimit == 0 {
		cfg.Storage.DiscoverRowLimit = 50
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}

	if cfg.Gateway.RequestsPerSecond == 0 {
		cfg.Gateway.RequestsPerSecond = 10
	}
	if cfg.Gateway.Burst == 0 {
		cfg.Gateway.Burst = 5
	}
	if cfg.Gateway.MaxRetries == 0 {
		cfg.Gateway.MaxRetries = 3
	}
	if cfg.Gateway.RetryBackoff == 0 {
		cfg.Gateway.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = Duration(60 * time.Second)
	}

	if cfg.FAQ.DataDir == "" {
		cfg.FAQ.DataDir = "data"
	}
	if cfg.FAQ.Threshold == nil {
		threshold := 0.85
		cfg.FAQ.Threshold = &threshold
	}
	if cfg.FAQ.Staleness == "" {
		cfg.FAQ.Staleness = StalenessCheckEachLookup
	}
	if cfg.FAQ.GenerateMaxChars == 0 {
		cfg.FAQ.GenerateMaxChars = 450000
	}

	if cfg.Prompt.CacheSize == 0 {
		cfg.Prompt.CacheSize = 1024
	}
	if cfg.Prompt.DiscoverMaxChars == 0 {
		cfg.Prompt.DiscoverMaxChars = 2000
	}
	if cfg.Prompt.Temperature == 0 {
		cfg.Prompt.Temperature = 0.5
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.ContextBudget == 0 {
		cfg.Retrieval.ContextBudget = 8000
	}
	if cfg.Retrieval.HistoryTurns == 0 {
		cfg.Retrieval.HistoryTurns = 4
	}
	if cfg.Retrieval.Temperature == 0 {
		cfg.Retrieval.Temperature = 0.3
	}
	if cfg.Retrieval.SystemPrompt == "" {
		cfg.Retrieval.SystemPrompt = PolicyStatic
	}
	if cfg.Retrieval.AnswerTimeout == 0 {
		cfg.Retrieval.AnswerTimeout = Duration(90 * time.Second)
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 2000
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "assistd.ingest"
	}
	if cfg.NATS.DLQSubject == "" {
		cfg.NATS.DLQSubject = "assistd.ingest.dlq"
	}
	if cfg.NATS.Queue == "" {
		cfg.NATS.Queue = "assistd-ingest"
	}
	if cfg.NATS.MaxRetries == 0 {
		cfg.NATS.MaxRetries = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "assistd"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}

	switch c.Storage.Provider {
	case StorageSQLite, StorageMemory, StorageChromem, StorageQdrant:
	default:
		errs = append(errs, fmt.Errorf("storage.provider must be sqlite, memory, chromem or qdrant, got %q", c.Storage.Provider))
	}
	if c.Storage.DiscoverRowLimit < 0 {
		errs = append(errs, fmt.Errorf("storage.discover_row_limit must be >= 0"))
	}

	if t := c.FAQ.Threshold; t != nil && (*t < -1 || *t > 1) {
		errs = append(errs, fmt.Errorf("faq.threshold must be within [-1, 1], got %f", *t))
	}
	switch c.FAQ.Staleness {
	case StalenessLoadOnce, StalenessCheckEachLookup, StalenessWatch:
	default:
		errs = append(errs, fmt.Errorf("faq.staleness must be load_once, check_each_lookup or watch, got %q", c.FAQ.Staleness))
	}

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive"))
	}
	if c.Retrieval.ContextBudget <= 0 || c.Retrieval.ContextBudget > MaxContextBudget {
		errs = append(errs, fmt.Errorf("retrieval.context_budget must be 1-%d, got %d", MaxContextBudget, c.Retrieval.ContextBudget))
	}
	if c.Retrieval.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("retrieval.history_turns must be >= 0"))
	}
	if c.Retrieval.SystemPrompt != PolicyStatic && c.Retrieval.SystemPrompt != PolicyDynamic {
		errs = append(errs, fmt.Errorf("retrieval.system_prompt must be static or dynamic, got %q", c.Retrieval.SystemPrompt))
	}

	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk_size must be positive"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1"))
	}

	return errors.Join(errs...)
}
