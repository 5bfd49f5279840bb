//go:build !cgo

package gateway

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned by binaries built without cgo.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without cgo)")

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	Model    string
	CacheDir string
}

// FastEmbed is a stub for non-cgo builds.
type FastEmbed struct{}

// NewFastEmbed always fails without cgo.
func NewFastEmbed(_ FastEmbedConfig) (*FastEmbed, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Embed implements Embedder.
func (p *FastEmbed) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Close is a no-op.
func (p *FastEmbed) Close() error { return nil }
