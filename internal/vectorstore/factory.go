package vectorstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"go.uber.org/zap"
)

// NewBackend creates the backend selected by cfg.Provider.
func NewBackend(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case config.StorageSQLite, "":
		b, err := NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		logger.Info("sqlite backend initialized", zap.String("path", b.Path()))
		return b, nil

	case config.StorageMemory:
		return NewMemoryBackend(), nil

	case config.StorageChromem:
		return NewChromemBackend(ChromemConfig{
			Path:       filepath.Join(cfg.Path, "chromem"),
			Compress:   cfg.ChromemCompress,
			Collection: cfg.Collection,
			VectorSize: cfg.VectorSize,
		}, logger)

	case config.StorageQdrant:
		return NewQdrantBackend(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey.Value(),
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.Collection,
			VectorSize: uint64(cfg.VectorSize),
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unknown storage provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// Open creates the configured backend and wraps it in a Store.
func Open(ctx context.Context, cfg config.StorageConfig, embedder gateway.Embedder, logger *zap.Logger) (*Store, error) {
	backend, err := NewBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := Options{
		DiscoverRowLimit: cfg.DiscoverRowLimit,
		Logger:           logger,
	}
	// Fixed-dimension backends reject mismatched vectors themselves; enforce
	// the same rule up front so a bad batch fails before any write.
	if cfg.Provider == config.StorageChromem || cfg.Provider == config.StorageQdrant {
		opts.Dimension = cfg.VectorSize
	}

	store, err := New(backend, embedder, opts)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}
