//go:build cgo

package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	Model    string
	CacheDir string
}

var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"fast-bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"fast-bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"fast-all-MiniLM-L6-v2":                  fastembed.AllMiniLML6V2,
}

// FastEmbed embeds text locally. The ONNX runtime is located through
// ONNX_PATH by fastembed-go itself.
type FastEmbed struct {
	mu    sync.RWMutex
	model *fastembed.FlagEmbedding
}

// NewFastEmbed loads the model, downloading it into CacheDir on first use.
func NewFastEmbed(cfg FastEmbedConfig) (*FastEmbed, error) {
	name := cfg.Model
	if name == "" {
		name = "BAAI/bge-small-en-v1.5"
	}
	model, ok := fastembedModels[name]
	if !ok {
		return nil, fmt.Errorf("fastembed: unsupported model %q", name)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}

	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("fastembed: initializing %s: %w", name, err)
	}
	return &FastEmbed{model: flag}, nil
}

// Embed implements Embedder. Queries and passages share one vector space
// here, so the query prefix is used for both.
func (p *FastEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return nil, &APIError{Provider: "fastembed", Err: fmt.Errorf("embedder closed")}
	}

	vec, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, &APIError{Provider: "fastembed", Err: err}
	}
	return vec, nil
}

// Close releases the ONNX session.
func (p *FastEmbed) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
