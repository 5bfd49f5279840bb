package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vec returns a gatewaytest-sized vector with the given leading components.
func vec(components ...float32) []float32 {
	v := make([]float32, gatewaytest.Dimension)
	copy(v, components)
	return v
}

type backendFactory struct {
	name string
	open func(t *testing.T) Backend
}

func backends() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) Backend { return NewMemoryBackend() }},
		{"sqlite", func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(t.TempDir())
			require.NoError(t, err)
			return b
		}},
		{"sqlite_in_memory", func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(":memory:")
			require.NoError(t, err)
			return b
		}},
		{"chromem", func(t *testing.T) Backend {
			b, err := NewChromemBackend(ChromemConfig{
				Path:       filepath.Join(t.TempDir(), "chromem"),
				Collection: "test_chunks",
				VectorSize: gatewaytest.Dimension,
			}, nil)
			require.NoError(t, err)
			return b
		}},
	}
}

func newTestStore(t *testing.T, b Backend) (*Store, *gatewaytest.Embedder) {
	t.Helper()
	emb := gatewaytest.NewEmbedder()
	s, err := New(b, emb, Options{DiscoverRowLimit: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, emb
}

func TestStore_Backends(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			t.Run("empty ingest is a no-op", func(t *testing.T) {
				s, emb := newTestStore(t, bf.open(t))
				n, err := s.Ingest(context.Background(), "acme", nil)
				require.NoError(t, err)
				assert.Zero(t, n)
				assert.Zero(t, emb.Calls())

				text, err := s.AllText(context.Background(), "acme")
				require.NoError(t, err)
				assert.Empty(t, text)
			})

			t.Run("text views keep insertion order", func(t *testing.T) {
				s, _ := newTestStore(t, bf.open(t))
				ctx := context.Background()

				n, err := s.Ingest(ctx, "acme", []ChunkInput{
					{DocumentID: "guide", Content: "first part"},
					{DocumentID: "other", Content: "unrelated"},
					{DocumentID: "guide", Content: "second part"},
				})
				require.NoError(t, err)
				assert.Equal(t, 3, n)

				all, err := s.AllText(ctx, "acme")
				require.NoError(t, err)
				assert.Equal(t, "first part unrelated second part", all)

				doc, err := s.DocumentText(ctx, "acme", "guide")
				require.NoError(t, err)
				assert.Equal(t, "first part\nsecond part", doc)

				missing, err := s.DocumentText(ctx, "acme", "nope")
				require.NoError(t, err)
				assert.Empty(t, missing)
			})

			t.Run("search ranks by cosine with stable ties", func(t *testing.T) {
				s, emb := newTestStore(t, bf.open(t))
				ctx := context.Background()

				emb.Set("north", vec(0, 1))
				emb.Set("east a", vec(1, 0))
				emb.Set("diagonal", vec(1, 1))
				emb.Set("east b", vec(2, 0))
				emb.Set("query east", vec(1, 0))

				_, err := s.Ingest(ctx, "acme", []ChunkInput{
					{DocumentID: "d1", Content: "north"},
					{DocumentID: "d2", Content: "east a"},
					{DocumentID: "d3", Content: "diagonal"},
					{DocumentID: "d4", Content: "east b"},
				})
				require.NoError(t, err)

				results, err := s.Search(ctx, "acme", "query east", 3)
				require.NoError(t, err)
				require.Len(t, results, 3)
				assert.Equal(t, "east a", results[0].Content)
				assert.Equal(t, "d2", results[0].DocumentID)
				assert.Equal(t, "east b", results[1].Content)
				assert.Equal(t, "diagonal", results[2].Content)
				assert.InDelta(t, 1.0, results[0].Score, 1e-5)
				assert.InDelta(t, 0.7071, results[2].Score, 1e-3)
			})

			t.Run("tenants are isolated", func(t *testing.T) {
				s, _ := newTestStore(t, bf.open(t))
				ctx := context.Background()

				_, err := s.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "d", Content: "acme secret"}})
				require.NoError(t, err)

				results, err := s.Search(ctx, "globex", "acme secret", 5)
				require.NoError(t, err)
				assert.Empty(t, results)

				all, err := s.AllText(ctx, "globex")
				require.NoError(t, err)
				assert.Empty(t, all)
			})

			t.Run("discover reads url documents only", func(t *testing.T) {
				s, _ := newTestStore(t, bf.open(t))
				ctx := context.Background()

				_, err := s.Ingest(ctx, "acme", []ChunkInput{
					{DocumentID: "notes.txt", Content: "not a page"},
					{DocumentID: "https://acme.test/about", Content: "We build rockets."},
					{DocumentID: "http://acme.test/team", Content: "Friendly team."},
					{DocumentID: "https://acme.test/a", Content: "third"},
					{DocumentID: "https://acme.test/b", Content: "over the row limit"},
				})
				require.NoError(t, err)

				text, err := s.DiscoverURLContent(ctx, "acme", 2000)
				require.NoError(t, err)
				assert.Equal(t, "We build rockets.\nFriendly team.\nthird", text)

				short, err := s.DiscoverURLContent(ctx, "acme", 9)
				require.NoError(t, err)
				assert.Equal(t, "We build ", short)

				none, err := s.DiscoverURLContent(ctx, "globex", 2000)
				require.NoError(t, err)
				assert.Empty(t, none)
			})

			t.Run("failed embedding writes nothing", func(t *testing.T) {
				s, emb := newTestStore(t, bf.open(t))
				ctx := context.Background()
				emb.FailOn("bad", gateway.ErrUpstreamUnavailable)

				_, err := s.Ingest(ctx, "acme", []ChunkInput{
					{DocumentID: "d", Content: "good"},
					{DocumentID: "d", Content: "bad"},
				})
				require.Error(t, err)
				assert.ErrorIs(t, err, gateway.ErrUpstreamUnavailable)

				all, err := s.AllText(ctx, "acme")
				require.NoError(t, err)
				assert.Empty(t, all)
			})

			t.Run("purge", func(t *testing.T) {
				s, _ := newTestStore(t, bf.open(t))
				ctx := context.Background()

				_, err := s.Ingest(ctx, "acme", []ChunkInput{
					{DocumentID: "keep", Content: "kept"},
					{DocumentID: "drop", Content: "dropped"},
				})
				require.NoError(t, err)
				_, err = s.Ingest(ctx, "globex", []ChunkInput{{DocumentID: "keep", Content: "other tenant"}})
				require.NoError(t, err)

				require.NoError(t, s.DeleteDocument(ctx, "acme", "drop"))
				all, err := s.AllText(ctx, "acme")
				require.NoError(t, err)
				assert.Equal(t, "kept", all)

				require.NoError(t, s.DeleteTenant(ctx, "acme"))
				all, err = s.AllText(ctx, "acme")
				require.NoError(t, err)
				assert.Empty(t, all)

				other, err := s.AllText(ctx, "globex")
				require.NoError(t, err)
				assert.Equal(t, "other tenant", other)
			})
		})
	}
}

func TestStore_RejectsInvalidTenant(t *testing.T) {
	s, emb := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	_, err := s.Ingest(ctx, "", []ChunkInput{{DocumentID: "d", Content: "x"}})
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)

	_, err = s.Search(ctx, "../etc", "x", 5)
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)

	_, err = s.AllText(ctx, "")
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)

	_, err = s.DiscoverURLContent(ctx, "", 10)
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)

	assert.Zero(t, emb.Calls())
}

func TestStore_DimensionMismatch(t *testing.T) {
	emb := gatewaytest.NewEmbedder()
	emb.Set("short", []float32{1, 2, 3})

	s, err := New(NewMemoryBackend(), emb, Options{Dimension: gatewaytest.Dimension})
	require.NoError(t, err)

	_, err = s.Ingest(context.Background(), "acme", []ChunkInput{{DocumentID: "d", Content: "short"}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStore_MixedDimensionsInBatch(t *testing.T) {
	emb := gatewaytest.NewEmbedder()
	emb.Set("a", []float32{1, 2})
	emb.Set("b", []float32{1, 2, 3})

	s, err := New(NewMemoryBackend(), emb, Options{})
	require.NoError(t, err)

	_, err = s.Ingest(context.Background(), "acme", []ChunkInput{
		{DocumentID: "d", Content: "a"},
		{DocumentID: "d", Content: "b"},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStore_DimensionLockedAcrossBatches(t *testing.T) {
	for _, bf := range backends() {
		if bf.name == "chromem" {
			continue
		}
		t.Run(bf.name, func(t *testing.T) {
			ctx := context.Background()
			emb := gatewaytest.NewEmbedder()
			emb.Set("first", []float32{1, 0, 0})
			emb.Set("second", []float32{1, 0, 0, 0, 0})
			emb.Set("third", []float32{0, 1, 0})

			s, err := New(bf.open(t), emb, Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			_, err = s.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "a", Content: "first"}})
			require.NoError(t, err)

			// Another tenant shares the corpus dimension.
			n, err := s.Ingest(ctx, "globex", []ChunkInput{{DocumentID: "b", Content: "second"}})
			assert.ErrorIs(t, err, ErrDimensionMismatch)
			assert.Zero(t, n)

			_, err = s.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "c", Content: "third"}})
			require.NoError(t, err)

			text, err := s.AllText(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, "first third", text)
			text, err = s.AllText(ctx, "globex")
			require.NoError(t, err)
			assert.Empty(t, text)
		})
	}
}

func TestStore_DimensionReadFromExistingCorpus(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	emb := gatewaytest.NewEmbedder()
	emb.Set("old", []float32{1, 0, 0})
	emb.Set("new", []float32{1, 0, 0, 0})

	b, err := NewSQLiteBackend(dir)
	require.NoError(t, err)
	s, err := New(b, emb, Options{})
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "d", Content: "old"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b2, err := NewSQLiteBackend(dir)
	require.NoError(t, err)
	s2, err := New(b2, emb, Options{})
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "d", Content: "new"}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

type failingBackend struct{ *MemoryBackend }

var errDiskGone = errors.New("disk gone")

func (f *failingBackend) Chunks(context.Context, string) ([]Chunk, error) { return nil, errDiskGone }
func (f *failingBackend) Insert(context.Context, string, []Chunk) error  { return errDiskGone }

func TestStore_BackendFailureIsNotSilent(t *testing.T) {
	s, err := New(&failingBackend{MemoryBackend: NewMemoryBackend()}, gatewaytest.NewEmbedder(), Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Search(ctx, "acme", "anything", 5)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, errDiskGone)

	_, err = s.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "d", Content: "x"}})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = s.AllText(ctx, "acme")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestStore_SearchZeroLimit(t *testing.T) {
	s, emb := newTestStore(t, NewMemoryBackend())
	results, err := s.Search(context.Background(), "acme", "q", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, emb.Calls())
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewSQLiteBackend(dir)
	require.NoError(t, err)
	s, err := New(b, gatewaytest.NewEmbedder(), Options{})
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "acme", []ChunkInput{{DocumentID: "d", Content: "durable text"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b2, err := NewSQLiteBackend(dir)
	require.NoError(t, err)
	defer b2.Close()

	chunks, err := b2.Chunks(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "durable text", chunks[0].Content)
	assert.Equal(t, gatewaytest.HashVector("durable text"), chunks[0].Embedding)
}

func TestEmbeddingCodec(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.125}
	out, err := decodeEmbedding(encodeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSequence_StrictlyIncreasing(t *testing.T) {
	seq := newSequence()
	last := int64(0)
	for i := 0; i < 1000; i++ {
		n := seq.next()
		assert.Greater(t, n, last)
		last = n
	}
}

func TestQdrantConfig_Validate(t *testing.T) {
	base := QdrantConfig{Host: "localhost", Port: 6334, Collection: "assistd_chunks", VectorSize: 384}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Collection = "Bad-Name"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = base
	bad.VectorSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = base
	bad.Port = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://a.test"))
	assert.True(t, isURL("http://a.test"))
	assert.False(t, isURL("ftp://a.test"))
	assert.False(t, isURL("notes.txt"))
	assert.False(t, isURL(strings.ToUpper("https://a.test")))
}
