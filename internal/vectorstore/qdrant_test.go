package vectorstore

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQdrantBackend_Integration runs against a live Qdrant when
// QDRANT_HOST is set.
func TestQdrantBackend_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set")
	}
	port := 6334
	if p := os.Getenv("QDRANT_PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		require.NoError(t, err)
	}

	ctx := context.Background()
	b, err := NewQdrantBackend(ctx, QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: "assistd_test_chunks",
		VectorSize: gatewaytest.Dimension,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = b.client.DeleteCollection(context.Background(), "assistd_test_chunks")
		_ = b.Close()
	})

	emb := gatewaytest.NewEmbedder()
	s, err := New(b, emb, Options{Dimension: gatewaytest.Dimension})
	require.NoError(t, err)

	_, err = s.Ingest(ctx, "acme", []ChunkInput{
		{DocumentID: "https://acme.test", Content: "rocket engines"},
		{DocumentID: "faq", Content: "opening hours"},
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, "acme", "rocket engines", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rocket engines", results[0].Content)

	all, err := s.AllText(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "rocket engines opening hours", all)

	require.NoError(t, s.DeleteTenant(ctx, "acme"))
	all, err = s.AllText(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPageResults_TiesKeepInsertionOrder(t *testing.T) {
	point := func(id uint64, content string, score float32) *qdrant.ScoredPoint {
		return &qdrant.ScoredPoint{
			Id: qdrant.NewIDNum(id),
			Payload: map[string]*qdrant.Value{
				payloadContent:  qdrant.NewValueString(content),
				payloadDocument: qdrant.NewValueString("doc"),
			},
			Score: score,
		}
	}

	// Server order for the tied pair is reversed.
	results := pageResults([]*qdrant.ScoredPoint{
		point(9, "best", 0.9),
		point(7, "later tie", 0.5),
		point(3, "earlier tie", 0.5),
		point(1, "worst", 0.1),
	})

	var contents []string
	for _, r := range results {
		contents = append(contents, r.Content)
		assert.Equal(t, "doc", r.DocumentID)
	}
	assert.Equal(t, []string{"best", "earlier tie", "later tie", "worst"}, contents)
	assert.InDelta(t, 0.5, results[1].Score, 1e-6)
}
