// Package vectorstore stores tenant-scoped text chunks with their embeddings
// and answers similarity queries over them.
//
// Store holds the tenant rules (validation, all-or-nothing ingest, ordering,
// scoring) and delegates persistence to a Backend. Backends: SQLite (default),
// in-memory, chromem-go and Qdrant.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/similarity"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"github.com/fyrsmithlabs/assistd/internal/textutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("assistd.vectorstore")

// Sentinel errors for store operations.
var (
	// ErrStorageUnavailable wraps any backend failure.
	ErrStorageUnavailable = errors.New("chunk storage unavailable")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DefaultDiscoverRowLimit bounds the rows scanned by DiscoverURLContent.
const DefaultDiscoverRowLimit = 50

// ChunkInput is one piece of text to ingest.
type ChunkInput struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"text"`
}

// Chunk is a stored unit of text. ID increases with insertion order.
type Chunk struct {
	ID         int64
	TenantID   string
	DocumentID string
	Content    string
	Embedding  []float32
}

// Result is a scored chunk returned by Search.
type Result struct {
	Content    string  `json:"content"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// Backend persists chunks. All listings are in insertion order and scoped
// to one tenant; the Store validates the tenant before calling.
type Backend interface {
	// Insert writes all chunks or none. IDs are assigned by the backend.
	Insert(ctx context.Context, tenantID string, chunks []Chunk) error

	// Chunks returns every chunk of the tenant including embeddings.
	Chunks(ctx context.Context, tenantID string) ([]Chunk, error)

	// DocumentChunks returns the texts of one document.
	DocumentChunks(ctx context.Context, tenantID, documentID string) ([]string, error)

	// URLChunks returns up to limit texts whose document id is an http(s) URL.
	URLChunks(ctx context.Context, tenantID string, limit int) ([]string, error)

	DeleteDocument(ctx context.Context, tenantID, documentID string) error
	DeleteTenant(ctx context.Context, tenantID string) error

	Close() error
}

// Searcher is implemented by backends that score server-side.
// Results must already be ordered by descending score, then insertion order.
type Searcher interface {
	SearchVector(ctx context.Context, tenantID string, query []float32, limit int) ([]Result, error)
}

// Dimensioner is implemented by backends that can report the dimension of
// vectors already stored, across all tenants. Zero means the store is empty.
type Dimensioner interface {
	StoredDimension(ctx context.Context) (int, error)
}

// Options configures a Store.
type Options struct {
	// Dimension, when positive, is enforced on every ingested embedding.
	// Otherwise the store locks onto the first dimension it persists, or
	// finds persisted by a Dimensioner backend.
	Dimension int

	// DiscoverRowLimit caps rows scanned by DiscoverURLContent.
	DiscoverRowLimit int

	// Scorer ranks chunks for backends without a Searcher.
	Scorer similarity.Scorer

	Logger *zap.Logger
}

// Store is the tenant vector store.
type Store struct {
	backend  Backend
	embedder gateway.Embedder
	scorer   similarity.Scorer
	opts     Options
	logger   *zap.Logger

	// dimMu guards dim and serializes writes until dim is known.
	dimMu sync.Mutex
	dim   int
}

// New creates a Store over backend.
func New(backend Backend, embedder gateway.Embedder, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if opts.DiscoverRowLimit <= 0 {
		opts.DiscoverRowLimit = DefaultDiscoverRowLimit
	}
	if opts.Scorer == nil {
		opts.Scorer = similarity.NewLinear()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		embedder: embedder,
		scorer:   opts.Scorer,
		opts:     opts,
		logger:   opts.Logger,
		dim:      opts.Dimension,
	}, nil
}

// Ingest embeds every chunk and then stores them all. Nothing is written if
// any embedding fails. An empty batch is a no-op.
func (s *Store) Ingest(ctx context.Context, tenantID string, inputs []ChunkInput) (n int, err error) {
	ctx, span := tracer.Start(ctx, "Store.Ingest")
	defer span.End()
	defer observe("ingest", time.Now(), &err)

	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.Int("chunk_count", len(inputs)))

	if err := tenant.Validate(tenantID); err != nil {
		return 0, err
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	chunks := make([]Chunk, len(inputs))
	for i, in := range inputs {
		vec, err := s.embedder.Embed(ctx, in.Content)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return 0, fmt.Errorf("embedding chunk %d of %q: %w", i, in.DocumentID, err)
		}
		if len(vec) == 0 || (i > 0 && len(vec) != len(chunks[0].Embedding)) {
			return 0, fmt.Errorf("%w: chunk %d has %d values", ErrDimensionMismatch, i, len(vec))
		}
		chunks[i] = Chunk{
			TenantID:   tenantID,
			DocumentID: in.DocumentID,
			Content:    in.Content,
			Embedding:  vec,
		}
	}

	if err := s.insert(ctx, tenantID, chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	chunksIngested.Add(float64(len(chunks)))
	s.logger.Debug("ingested chunks",
		zap.String("tenant.id", tenantID),
		zap.Int("count", len(chunks)))
	return len(chunks), nil
}

// insert checks the batch against the corpus dimension and writes it.
// While the dimension is unknown, writes hold dimMu so two first batches
// cannot persist different dimensions.
func (s *Store) insert(ctx context.Context, tenantID string, chunks []Chunk) error {
	got := len(chunks[0].Embedding)

	s.dimMu.Lock()
	want := s.dim
	if want > 0 {
		s.dimMu.Unlock()
		if got != want {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, want)
		}
		if err := s.backend.Insert(ctx, tenantID, chunks); err != nil {
			return unavailable("inserting chunks", err)
		}
		return nil
	}
	defer s.dimMu.Unlock()

	if d, ok := s.backend.(Dimensioner); ok {
		stored, err := d.StoredDimension(ctx)
		if err != nil {
			return unavailable("reading stored dimension", err)
		}
		if stored > 0 {
			s.dim = stored
			if got != stored {
				return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, stored)
			}
		}
	}
	if err := s.backend.Insert(ctx, tenantID, chunks); err != nil {
		return unavailable("inserting chunks", err)
	}
	s.dim = got
	return nil
}

// Search returns up to limit chunks of the tenant ordered by descending
// cosine similarity to query. Equal scores keep insertion order.
func (s *Store) Search(ctx context.Context, tenantID, query string, limit int) (results []Result, err error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()
	defer observe("search", time.Now(), &err)

	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.Int("limit", limit))

	if err := tenant.Validate(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Result{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if searcher, ok := s.backend.(Searcher); ok {
		results, err := searcher.SearchVector(ctx, tenantID, vec, limit)
		if err != nil {
			span.RecordError(err)
			return nil, unavailable("searching", err)
		}
		span.SetAttributes(attribute.Int("results_count", len(results)))
		return results, nil
	}

	chunks, err := s.backend.Chunks(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, unavailable("listing chunks", err)
	}

	candidates := make([]similarity.Candidate, len(chunks))
	for i, c := range chunks {
		candidates[i] = similarity.Candidate{Index: i, Vector: c.Embedding}
	}

	hits := s.scorer.TopK(vec, candidates, limit)
	results = make([]Result, len(hits))
	for i, h := range hits {
		c := chunks[h.Index]
		results[i] = Result{Content: c.Content, DocumentID: c.DocumentID, Score: h.Score}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// AllText returns every chunk text of the tenant joined with single spaces.
func (s *Store) AllText(ctx context.Context, tenantID string) (text string, err error) {
	ctx, span := tracer.Start(ctx, "Store.AllText")
	defer span.End()
	defer observe("all_text", time.Now(), &err)

	if err := tenant.Validate(tenantID); err != nil {
		return "", err
	}

	chunks, err := s.backend.Chunks(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return "", unavailable("listing chunks", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	return strings.Join(texts, " "), nil
}

// DocumentText returns the chunks of one document joined with newlines.
func (s *Store) DocumentText(ctx context.Context, tenantID, documentID string) (text string, err error) {
	ctx, span := tracer.Start(ctx, "Store.DocumentText")
	defer span.End()
	defer observe("document_text", time.Now(), &err)

	if err := tenant.Validate(tenantID); err != nil {
		return "", err
	}

	texts, err := s.backend.DocumentChunks(ctx, tenantID, documentID)
	if err != nil {
		span.RecordError(err)
		return "", unavailable("listing document chunks", err)
	}
	return strings.Join(texts, "\n"), nil
}

// DiscoverURLContent returns text ingested from web pages, newline-joined
// and truncated to maxChars. Returns "" when nothing matches.
func (s *Store) DiscoverURLContent(ctx context.Context, tenantID string, maxChars int) (text string, err error) {
	ctx, span := tracer.Start(ctx, "Store.DiscoverURLContent")
	defer span.End()
	defer observe("discover_url_content", time.Now(), &err)

	if err := tenant.Validate(tenantID); err != nil {
		return "", err
	}

	texts, err := s.backend.URLChunks(ctx, tenantID, s.opts.DiscoverRowLimit)
	if err != nil {
		span.RecordError(err)
		return "", unavailable("listing url chunks", err)
	}
	return textutil.Truncate(strings.Join(texts, "\n"), maxChars), nil
}

// DeleteDocument removes every chunk of one document.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, documentID string) (err error) {
	ctx, span := tracer.Start(ctx, "Store.DeleteDocument")
	defer span.End()
	defer observe("delete_document", time.Now(), &err)

	if err := tenant.Validate(tenantID); err != nil {
		return err
	}
	if documentID == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidConfig)
	}
	if err := s.backend.DeleteDocument(ctx, tenantID, documentID); err != nil {
		span.RecordError(err)
		return unavailable("deleting document", err)
	}
	s.logger.Info("deleted document",
		zap.String("tenant.id", tenantID),
		zap.String("document_id", documentID))
	return nil
}

// DeleteTenant removes every chunk of the tenant.
func (s *Store) DeleteTenant(ctx context.Context, tenantID string) (err error) {
	ctx, span := tracer.Start(ctx, "Store.DeleteTenant")
	defer span.End()
	defer observe("delete_tenant", time.Now(), &err)

	if err := tenant.Validate(tenantID); err != nil {
		return err
	}
	if err := s.backend.DeleteTenant(ctx, tenantID); err != nil {
		span.RecordError(err)
		return unavailable("deleting tenant", err)
	}
	s.logger.Info("deleted tenant chunks", zap.String("tenant.id", tenantID))
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func isURL(documentID string) bool {
	return strings.HasPrefix(documentID, "http://") || strings.HasPrefix(documentID, "https://")
}

// sortResults orders results by descending score. Callers pass them in
// insertion order so the stable sort keeps that order for ties.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
