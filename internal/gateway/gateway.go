// Package gateway talks to embedding and text generation providers.
//
// Every provider is wrapped by a resilient decorator that rate limits,
// retries transient failures and records metrics. Failures that survive the
// retries surface as ErrUpstreamUnavailable so callers can map them without
// knowing which SDK produced them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrUpstreamUnavailable is returned when a provider call fails after retries.
var ErrUpstreamUnavailable = errors.New("upstream model provider unavailable")

// ErrUnsupported is returned when a provider cannot serve the requested side.
var ErrUnsupported = errors.New("operation not supported by provider")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerateRequest is a single-turn chat completion request.
type GenerateRequest struct {
	System      string
	User        string
	Temperature float64

	// JSONMode asks the provider for a single JSON object.
	JSONMode bool
}

// Generator produces text from a system and user message.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return f(ctx, req)
}

// Gateway bundles the embedding and generation sides.
type Gateway struct {
	Embedder  Embedder
	Generator Generator

	closers []io.Closer
}

// Embed implements Embedder.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.Embedder.Embed(ctx, text)
}

// Generate implements Generator.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return g.Generator.Generate(ctx, req)
}

// Close releases provider resources such as local ONNX sessions.
func (g *Gateway) Close() error {
	var errs []error
	for _, c := range g.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// APIError is a provider failure with the HTTP status the provider returned.
// StatusCode is zero when the request never got a response.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// float64sToFloat32s narrows SDK embeddings to the stored precision.
func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
