package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps data in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection holding every tenant's chunks.
	Collection string

	// VectorSize is the embedding dimension; required to enumerate chunks.
	VectorSize int
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	return nil
}

const (
	metaTenant   = "tenant_id"
	metaDocument = "document_id"
	metaSeq      = "seq"
)

var errNoEmbeddingFunc = errors.New("chromem: documents must carry precomputed embeddings")

// ChromemBackend stores chunks in a chromem-go collection, partitioned by
// tenant_id metadata.
type ChromemBackend struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	seq        *sequence
	logger     *zap.Logger
}

// NewChromemBackend opens or creates the chromem database.
func NewChromemBackend(config ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expanded, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expanded, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
		}
		db, err = chromem.NewPersistentDB(expanded, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = expanded
	}

	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	collection, err := db.GetOrCreateCollection(config.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem backend initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize))

	return &ChromemBackend{
		db:         db,
		collection: collection,
		config:     config,
		seq:        newSequence(),
		logger:     logger,
	}, nil
}

// Insert implements Backend.
func (b *ChromemBackend) Insert(ctx context.Context, tenantID string, chunks []Chunk) error {
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) != b.config.VectorSize {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(c.Embedding), b.config.VectorSize)
		}
		seq := b.seq.next()
		docs[i] = chromem.Document{
			ID: seqID(seq),
			Metadata: map[string]string{
				metaTenant:   tenantID,
				metaDocument: c.DocumentID,
				metaSeq:      strconv.FormatInt(seq, 10),
			},
			Embedding: c.Embedding,
			Content:   c.Content,
		}
	}

	// Concurrency of 1 since embeddings are already present.
	if err := b.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Chunks implements Backend.
//
// chromem has no listing API, so chunks are enumerated by querying with a
// unit probe vector for every document matching the tenant filter.
func (b *ChromemBackend) Chunks(ctx context.Context, tenantID string) ([]Chunk, error) {
	return b.list(ctx, map[string]string{metaTenant: tenantID})
}

func (b *ChromemBackend) list(ctx context.Context, where map[string]string) ([]Chunk, error) {
	total := b.collection.Count()
	if total == 0 {
		return nil, nil
	}

	probe := make([]float32, b.config.VectorSize)
	probe[0] = 1

	results, err := b.collection.QueryEmbedding(ctx, probe, total, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", b.config.Collection, err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		seq, err := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
		if err != nil {
			b.logger.Warn("skipping chunk without sequence", zap.String("id", r.ID))
			continue
		}
		chunks = append(chunks, Chunk{
			ID:         seq,
			TenantID:   r.Metadata[metaTenant],
			DocumentID: r.Metadata[metaDocument],
			Content:    r.Content,
			Embedding:  r.Embedding,
		})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	return chunks, nil
}

// DocumentChunks implements Backend.
func (b *ChromemBackend) DocumentChunks(ctx context.Context, tenantID, documentID string) ([]string, error) {
	chunks, err := b.list(ctx, map[string]string{metaTenant: tenantID, metaDocument: documentID})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out, nil
}

// URLChunks implements Backend.
func (b *ChromemBackend) URLChunks(ctx context.Context, tenantID string, limit int) ([]string, error) {
	chunks, err := b.Chunks(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range chunks {
		if len(out) == limit {
			break
		}
		if isURL(c.DocumentID) {
			out = append(out, c.Content)
		}
	}
	return out, nil
}

// DeleteDocument implements Backend.
func (b *ChromemBackend) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	return b.collection.Delete(ctx, map[string]string{metaTenant: tenantID, metaDocument: documentID}, nil)
}

// DeleteTenant implements Backend.
func (b *ChromemBackend) DeleteTenant(ctx context.Context, tenantID string) error {
	return b.collection.Delete(ctx, map[string]string{metaTenant: tenantID}, nil)
}

// Close implements Backend. Persistent databases write through on every
// change, so there is nothing to flush.
func (b *ChromemBackend) Close() error { return nil }

func seqID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}
