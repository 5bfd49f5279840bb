package faq

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"github.com/fyrsmithlabs/assistd/internal/textutil"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultGenerateMaxChars bounds the knowledge base sent to the model.
const DefaultGenerateMaxChars = 450000

const generateTemperature = 0.1

const architectInstruction = `You are an expert customer support architect.
Build a thorough FAQ database from the content below, in strict JSON.
Write 5 to 8 question variations for each answer and cover as many topics as the content supports.
Give the PRIORITY INFORMATION section special attention when it is present.
Format: {"faqs": [{"questions": ["..."], "answer": "..."}]}`

// TextSource supplies the tenant's ingested text.
type TextSource interface {
	AllText(ctx context.Context, tenantID string) (string, error)
}

// Invalidator drops a tenant's loaded FAQ snapshot.
type Invalidator interface {
	Invalidate(tenantID string)
}

// Generator builds a tenant's faq.json from its ingested content.
type Generator struct {
	texts    TextSource
	llm      gateway.Generator
	files    *Files
	matcher  Invalidator
	maxChars int
	logger   *zap.Logger
}

// NewGenerator creates a Generator. matcher may be nil.
func NewGenerator(texts TextSource, llm gateway.Generator, files *Files, matcher Invalidator, maxChars int, logger *zap.Logger) *Generator {
	if maxChars <= 0 {
		maxChars = DefaultGenerateMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		texts:    texts,
		llm:      llm,
		files:    files,
		matcher:  matcher,
		maxChars: maxChars,
		logger:   logger,
	}
}

// Generate asks the model for FAQ entries covering the tenant's content,
// writes them to faq.json and invalidates the matcher's snapshot. priority is
// placed ahead of the general knowledge base.
func (g *Generator) Generate(ctx context.Context, tenantID, priority string) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "Generator.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	if err := tenant.Validate(tenantID); err != nil {
		return nil, err
	}

	knowledge, err := g.texts.AllText(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge base: %w", err)
	}
	if strings.TrimSpace(knowledge) == "" {
		return nil, ErrNoContent
	}

	combined := fmt.Sprintf("--- PRIORITY INFORMATION ---\n%s\n\n--- GENERAL KNOWLEDGE BASE ---\n%s", priority, knowledge)
	source := textutil.Truncate(combined, g.maxChars)

	resp, err := g.llm.Generate(ctx, gateway.GenerateRequest{
		System:      architectInstruction,
		User:        "Content Source:\n" + source,
		Temperature: generateTemperature,
		JSONMode:    true,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("generating faq: %w", err)
	}

	entries, err := parseEntries([]byte(stripFences(resp)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	if err := g.files.WriteSource(tenantID, entries); err != nil {
		return nil, fmt.Errorf("saving faq: %w", err)
	}
	if g.matcher != nil {
		g.matcher.Invalidate(tenantID)
	}

	span.SetAttributes(attribute.Int("faq.entries", len(entries)))
	g.logger.Info("faq generated",
		zap.String("tenant.id", tenantID),
		zap.Int("entries", len(entries)),
		zap.Int("source_chars", len(source)))
	return entries, nil
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
