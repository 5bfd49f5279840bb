package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderCompat    = "compat"
	ProviderFastEmbed = "fastembed"
)

// New builds the embedding and generation sides from configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{
		Timeout:   cfg.Gateway.Timeout.Duration(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	policy := Policy{
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		MaxRetries:        cfg.Gateway.MaxRetries,
		Backoff:           cfg.Gateway.RetryBackoff.Duration(),
	}
	metrics := NewMetrics(logger)
	g := &Gateway{}

	emb, closer, err := newEmbedder(ctx, cfg.Embedding, httpClient)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if closer != nil {
		g.closers = append(g.closers, closer)
	}
	g.Embedder = NewResilientEmbedder(cfg.Embedding.Provider, emb, policy, logger.Named("embedder"), metrics)

	gen, err := newGenerator(ctx, cfg.Generation, httpClient)
	if err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	g.Generator = NewResilientGenerator(cfg.Generation.Provider, gen, policy, logger.Named("generator"), metrics)

	logger.Info("model gateway configured",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("generation_provider", cfg.Generation.Provider),
		zap.String("generation_model", cfg.Generation.Model),
		logging.Secret("generation_api_key", cfg.Generation.APIKey))
	return g, nil
}

func newEmbedder(ctx context.Context, pc config.ProviderConfig, hc *http.Client) (Embedder, io.Closer, error) {
	switch pc.Provider {
	case ProviderOpenAI:
		p, err := NewOpenAI(OpenAIConfig{
			APIKey:         pc.APIKey.Value(),
			BaseURL:        pc.BaseURL,
			EmbeddingModel: pc.Model,
			HTTPClient:     hc,
		})
		return p, nil, err
	case ProviderGemini:
		p, err := NewGemini(ctx, GeminiConfig{
			APIKey:         pc.APIKey.Value(),
			BaseURL:        pc.BaseURL,
			EmbeddingModel: pc.Model,
			HTTPClient:     hc,
		})
		return p, nil, err
	case ProviderCompat:
		p, err := NewCompat(CompatConfig{
			BaseURL:        pc.BaseURL,
			APIKey:         pc.APIKey.Value(),
			EmbeddingModel: pc.Model,
			HTTPClient:     hc,
		})
		return p, nil, err
	case ProviderFastEmbed:
		p, err := NewFastEmbed(FastEmbedConfig{Model: pc.Model, CacheDir: pc.CacheDir})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case ProviderAnthropic:
		return nil, nil, fmt.Errorf("anthropic: %w: embeddings", ErrUnsupported)
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", pc.Provider)
	}
}

func newGenerator(ctx context.Context, pc config.ProviderConfig, hc *http.Client) (Generator, error) {
	switch pc.Provider {
	case ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:     pc.APIKey.Value(),
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			MaxTokens:  pc.MaxTokens,
			HTTPClient: hc,
		})
	case ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:     pc.APIKey.Value(),
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			MaxTokens:  pc.MaxTokens,
			HTTPClient: hc,
		})
	case ProviderGemini:
		return NewGemini(ctx, GeminiConfig{
			APIKey:     pc.APIKey.Value(),
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			MaxTokens:  pc.MaxTokens,
			HTTPClient: hc,
		})
	case ProviderCompat:
		return NewCompat(CompatConfig{
			BaseURL:    pc.BaseURL,
			APIKey:     pc.APIKey.Value(),
			Model:      pc.Model,
			HTTPClient: hc,
		})
	case ProviderFastEmbed:
		return nil, fmt.Errorf("fastembed: %w: generation", ErrUnsupported)
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Provider)
	}
}
