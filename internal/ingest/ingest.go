// Package ingest turns content sources into embedded chunks in the tenant
// vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/assistd/internal/scrub"
	"github.com/fyrsmithlabs/assistd/internal/textutil"
	"github.com/fyrsmithlabs/assistd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("assistd.ingest")

// DefaultChunkSize is the chunk length in characters.
const DefaultChunkSize = 2000

// ErrUnsupportedFile is returned for file types that cannot be read as text.
var ErrUnsupportedFile = errors.New("unsupported file type")

// Status of an ingestion.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusEmpty   = "empty"
)

// Result reports what an ingestion stored.
type Result struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

// Source is content to ingest. It is one of Chunks, Text, Page or File.
type Source interface {
	isSource()
}

// Chunks is content the caller has already sliced.
type Chunks struct {
	Items []vectorstore.ChunkInput
}

// Text is a plain document.
type Text struct {
	DocumentID string
	Text       string
}

// Page is text fetched from a web page. The URL becomes the document id.
type Page struct {
	URL  string
	Text string
}

// File is a local .txt or .md file. The base name becomes the document id.
type File struct {
	Path string
}

func (Chunks) isSource() {}
func (Text) isSource()   {}
func (Page) isSource()   {}
func (File) isSource()   {}

// Store is the write side of the vector store.
type Store interface {
	Ingest(ctx context.Context, tenantID string, chunks []vectorstore.ChunkInput) (int, error)
}

// Scrubber removes credentials from text. See package scrub.
type Scrubber interface {
	Scrub(text string) (string, []scrub.Finding)
}

// Service ingests sources.
type Service struct {
	store     Store
	chunkSize int
	scrubber  Scrubber
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithScrubber redacts secrets from every source before it is chunked.
func WithScrubber(sc Scrubber) Option {
	return func(s *Service) { s.scrubber = sc }
}

// NewService creates a Service. chunkSize <= 0 uses DefaultChunkSize.
func NewService(store Store, chunkSize int, logger *zap.Logger, opts ...Option) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, chunkSize: chunkSize, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest resolves src to chunks and stores them. Blank content yields
// StatusFailed without an error; storage and embedding failures are errors.
func (s *Service) Ingest(ctx context.Context, tenantID string, src Source) (Result, error) {
	ctx, span := tracer.Start(ctx, "Service.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	var items []vectorstore.ChunkInput
	switch src := src.(type) {
	case Chunks:
		span.SetAttributes(attribute.String("ingest.source", "chunks"))
		if len(src.Items) == 0 {
			return Result{Status: StatusEmpty}, nil
		}
		items = make([]vectorstore.ChunkInput, len(src.Items))
		for i, it := range src.Items {
			it.Content = s.scrub(tenantID, it.DocumentID, it.Content)
			items[i] = it
		}

	case Text:
		span.SetAttributes(attribute.String("ingest.source", "text"))
		if strings.TrimSpace(src.Text) == "" {
			return Result{Status: StatusFailed}, nil
		}
		items = s.chunk(src.DocumentID, s.scrub(tenantID, src.DocumentID, src.Text))

	case Page:
		span.SetAttributes(attribute.String("ingest.source", "page"))
		if strings.TrimSpace(src.Text) == "" {
			return Result{Status: StatusFailed}, nil
		}
		items = s.chunk(src.URL, s.scrub(tenantID, src.URL, src.Text))

	case File:
		span.SetAttributes(attribute.String("ingest.source", "file"))
		text, err := readFile(src.Path)
		if err != nil {
			return Result{Status: StatusFailed}, err
		}
		if strings.TrimSpace(text) == "" {
			return Result{Status: StatusFailed}, nil
		}
		name := filepath.Base(src.Path)
		text = s.scrub(tenantID, name, text)
		items = s.chunk(name, fmt.Sprintf("\n--- SOURCE: %s ---\n%s", name, text))

	default:
		return Result{Status: StatusFailed}, fmt.Errorf("unknown source type %T", src)
	}

	if len(items) == 0 {
		return Result{Status: StatusEmpty}, nil
	}

	n, err := s.store.Ingest(ctx, tenantID, items)
	if err != nil {
		span.RecordError(err)
		return Result{Status: StatusFailed}, err
	}

	span.SetAttributes(attribute.Int("ingest.chunks", n))
	s.logger.Info("ingested",
		zap.String("tenant.id", tenantID),
		zap.Int("chunks", n))
	return Result{Status: StatusSuccess, Chunks: n}, nil
}

func (s *Service) scrub(tenantID, documentID, text string) string {
	if s.scrubber == nil {
		return text
	}
	clean, findings := s.scrubber.Scrub(text)
	if len(findings) > 0 {
		rules := make([]string, len(findings))
		for i, f := range findings {
			rules[i] = f.RuleID
		}
		s.logger.Warn("redacted secrets from ingested content",
			zap.String("tenant.id", tenantID),
			zap.String("document_id", documentID),
			zap.Int("count", len(findings)),
			zap.Strings("rules", rules))
	}
	return clean
}

func (s *Service) chunk(documentID, text string) []vectorstore.ChunkInput {
	pieces := textutil.Split(text, s.chunkSize)
	items := make([]vectorstore.ChunkInput, len(pieces))
	for i, p := range pieces {
		items[i] = vectorstore.ChunkInput{DocumentID: documentID, Content: p}
	}
	return items
}

func readFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
