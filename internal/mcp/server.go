package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/faq"
	"github.com/fyrsmithlabs/assistd/internal/ingest"
	"github.com/fyrsmithlabs/assistd/internal/prompt"
	"github.com/fyrsmithlabs/assistd/internal/rag"
)

// Answerer answers tenant questions.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Answer, error)
}

// Ingester stores tenant content.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, src ingest.Source) (ingest.Result, error)
}

// PromptSynthesizer builds tenant system instructions.
type PromptSynthesizer interface {
	SynthesizeResult(ctx context.Context, tenantID string, personas []string) prompt.Result
}

// FAQGenerator rebuilds a tenant's FAQ.
type FAQGenerator interface {
	Generate(ctx context.Context, tenantID, priority string) ([]faq.Entry, error)
}

// DocumentReader returns a stored document's text.
type DocumentReader interface {
	DocumentText(ctx context.Context, tenantID, documentID string) (string, error)
}

// Services are the operations exposed as tools. FAQ and Documents are
// optional; their tools are only registered when set.
type Services struct {
	Answers   Answerer
	Ingest    Ingester
	Prompts   PromptSynthesizer
	FAQ       FAQGenerator
	Documents DocumentReader
}

// Server is an MCP server that calls the assistant services directly.
type Server struct {
	mcp      *mcp.Server
	services Services
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "assistd")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "assistd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server with the given services.
func NewServer(cfg *Config, services Services) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if services.Answers == nil {
		return nil, fmt.Errorf("answer service is required")
	}
	if services.Ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if services.Prompts == nil {
		return nil, fmt.Errorf("prompt service is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		services: services,
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over t. Run uses stdio; Connect lets
// callers supply any transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
