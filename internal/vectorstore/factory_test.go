package vectorstore

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		b, err := NewBackend(ctx, config.StorageConfig{Provider: config.StorageSQLite, Path: t.TempDir()}, nil)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &SQLiteBackend{}, b)
	})

	t.Run("memory", func(t *testing.T) {
		b, err := NewBackend(ctx, config.StorageConfig{Provider: config.StorageMemory}, nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryBackend{}, b)
	})

	t.Run("chromem", func(t *testing.T) {
		b, err := NewBackend(ctx, config.StorageConfig{
			Provider:   config.StorageChromem,
			Path:       t.TempDir(),
			Collection: "assistd_chunks",
			VectorSize: gatewaytest.Dimension,
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, &ChromemBackend{}, b)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewBackend(ctx, config.StorageConfig{Provider: "cassandra"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestOpen_EnforcesDimensionForFixedBackends(t *testing.T) {
	ctx := context.Background()
	emb := gatewaytest.NewEmbedder()
	emb.Set("tiny", []float32{1, 0})

	store, err := Open(ctx, config.StorageConfig{
		Provider:   config.StorageChromem,
		Path:       t.TempDir(),
		Collection: "assistd_chunks",
		VectorSize: gatewaytest.Dimension,
	}, emb, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "d", Content: "tiny"}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	n, err := store.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "d", Content: "normal words"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
