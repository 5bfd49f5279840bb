package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/faq"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/ingest"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/rag"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"github.com/fyrsmithlabs/assistd/internal/vectorstore"
)

// Generic tool errors. Callers see these; the cause is logged.
var (
	errInvalidInput = errors.New("invalid input")
	errUpstream     = errors.New("upstream model unavailable")
	errStorage      = errors.New("storage unavailable")
	errTimeout      = errors.New("request timed out")
	errNoContent    = errors.New("tenant has no ingested content")
	errInternal     = errors.New("internal error")
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "answer",
		Description: "Answer a question from the tenant's FAQ or knowledge base",
	}, instrument(s, "answer", s.handleAnswer))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest",
		Description: "Add text, a fetched web page or a local .txt/.md file to the tenant's knowledge base",
	}, instrument(s, "ingest", s.handleIngest))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "synthesize_prompt",
		Description: "Build the tenant's assistant system prompt from audience personas or discovered site content",
	}, instrument(s, "synthesize_prompt", s.handleSynthesizePrompt))

	if s.services.FAQ != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "generate_faq",
			Description: "Regenerate the tenant's FAQ from its knowledge base",
		}, instrument(s, "generate_faq", s.handleGenerateFAQ))
	}

	if s.services.Documents != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "get_document",
			Description: "Return the full text of an ingested document",
		}, instrument(s, "get_document", s.handleGetDocument))
	}
}

// instrument wraps a tool handler with metrics, tenant-scoped logging and
// error redaction.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.Track(ctx, name)
		res, out, err := h(ctx, req, args)
		done(err)
		if err != nil {
			fields := append(logging.ContextFields(ctx), zap.String("tool", name), zap.Error(err))
			s.logger.Error("tool failed", fields...)
			var zero Out
			return nil, zero, publicError(err)
		}
		return res, out, nil
	}
}

func publicError(err error) error {
	switch {
	case errors.Is(err, errInvalidInput), errors.Is(err, rag.ErrInvalidInput),
		errors.Is(err, tenant.ErrInvalidTenant), errors.Is(err, ingest.ErrUnsupportedFile):
		return errInvalidInput
	case errors.Is(err, faq.ErrNoContent):
		return errNoContent
	case errors.Is(err, context.DeadlineExceeded):
		return errTimeout
	case errors.Is(err, vectorstore.ErrStorageUnavailable):
		return errStorage
	case errors.Is(err, gateway.ErrUpstreamUnavailable), errors.Is(err, faq.ErrInvalidResponse):
		return errUpstream
	default:
		return errInternal
	}
}

// withTenant validates id and scopes ctx to it. Fails closed.
func withTenant(ctx context.Context, id string) (context.Context, error) {
	if err := tenant.Validate(id); err != nil {
		return ctx, fmt.Errorf("%w: %w", errInvalidInput, err)
	}
	return tenant.WithID(ctx, id), nil
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// ===== ANSWER =====

type turnInput struct {
	Role    string `json:"role" jsonschema:"Speaker, usually user or assistant"`
	Content string `json:"content" jsonschema:"What was said"`
}

type answerInput struct {
	TenantID     string      `json:"tenant_id" jsonschema:"required,Tenant identifier"`
	Query        string      `json:"query" jsonschema:"required,The user's question"`
	History      []turnInput `json:"history,omitempty" jsonschema:"Prior conversation turns, oldest first"`
	SystemPrompt string      `json:"system_prompt,omitempty" jsonschema:"System prompt override"`
}

type answerOutput struct {
	Answer string  `json:"answer" jsonschema:"The reply"`
	Source string  `json:"source" jsonschema:"How the reply was produced: faq, insufficient or generated"`
	Score  float64 `json:"score" jsonschema:"Best FAQ similarity score"`
}

func (s *Server) handleAnswer(ctx context.Context, _ *mcp.CallToolRequest, args answerInput) (*mcp.CallToolResult, answerOutput, error) {
	ctx, err := withTenant(ctx, args.TenantID)
	if err != nil {
		return nil, answerOutput{}, err
	}

	history := make([]rag.Turn, len(args.History))
	for i, t := range args.History {
		history[i] = rag.Turn{Role: t.Role, Content: t.Content}
	}

	ans, err := s.services.Answers.Answer(ctx, rag.Request{
		Tenant:       args.TenantID,
		Query:        args.Query,
		History:      history,
		SystemPrompt: args.SystemPrompt,
	})
	if err != nil {
		return nil, answerOutput{}, fmt.Errorf("answer failed: %w", err)
	}

	out := answerOutput{Answer: ans.Text, Source: string(ans.Source), Score: ans.Score}
	return textResult("%s", ans.Text), out, nil
}

// ===== INGEST =====

type ingestInput struct {
	TenantID   string `json:"tenant_id" jsonschema:"required,Tenant identifier"`
	DocumentID string `json:"document_id,omitempty" jsonschema:"Document identifier for text"`
	Text       string `json:"text,omitempty" jsonschema:"Document text"`
	URL        string `json:"url,omitempty" jsonschema:"Source URL when text was fetched from a web page"`
	Path       string `json:"path,omitempty" jsonschema:"Local .txt or .md file to ingest instead of text"`
}

type ingestOutput struct {
	Status string `json:"status" jsonschema:"success, failed or empty"`
	Chunks int    `json:"chunks" jsonschema:"Number of chunks stored"`
}

func (in ingestInput) source() (ingest.Source, error) {
	switch {
	case in.Path != "" && in.Text != "":
		return nil, fmt.Errorf("%w: set either path or text", errInvalidInput)
	case in.Path != "":
		return ingest.File{Path: in.Path}, nil
	case in.URL != "":
		return ingest.Page{URL: in.URL, Text: in.Text}, nil
	case in.DocumentID == "":
		return nil, fmt.Errorf("%w: document_id, url or path is required", errInvalidInput)
	default:
		return ingest.Text{DocumentID: in.DocumentID, Text: in.Text}, nil
	}
}

func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
	ctx, err := withTenant(ctx, args.TenantID)
	if err != nil {
		return nil, ingestOutput{}, err
	}
	src, err := args.source()
	if err != nil {
		return nil, ingestOutput{}, err
	}

	res, err := s.services.Ingest.Ingest(ctx, args.TenantID, src)
	if err != nil {
		return nil, ingestOutput{}, fmt.Errorf("ingest failed: %w", err)
	}

	out := ingestOutput{Status: res.Status, Chunks: res.Chunks}
	return textResult("Ingest %s: %d chunks", res.Status, res.Chunks), out, nil
}

// ===== PROMPT =====

type synthesizePromptInput struct {
	TenantID string   `json:"tenant_id" jsonschema:"required,Tenant identifier"`
	Personas []string `json:"personas,omitempty" jsonschema:"Audience personas the assistant should serve"`
}

type synthesizePromptOutput struct {
	Prompt   string `json:"prompt" jsonschema:"The system prompt"`
	Strategy string `json:"strategy" jsonschema:"personas, content or default"`
	Cached   bool   `json:"cached" jsonschema:"True when served from cache"`
}

func (s *Server) handleSynthesizePrompt(ctx context.Context, _ *mcp.CallToolRequest, args synthesizePromptInput) (*mcp.CallToolResult, synthesizePromptOutput, error) {
	ctx, err := withTenant(ctx, args.TenantID)
	if err != nil {
		return nil, synthesizePromptOutput{}, err
	}

	res := s.services.Prompts.SynthesizeResult(ctx, args.TenantID, args.Personas)
	out := synthesizePromptOutput{Prompt: res.Prompt, Strategy: res.Strategy, Cached: res.Cached}
	return textResult("%s", res.Prompt), out, nil
}

// ===== FAQ =====

type generateFAQInput struct {
	TenantID string `json:"tenant_id" jsonschema:"required,Tenant identifier"`
	Priority string `json:"priority,omitempty" jsonschema:"Information the FAQ must cover first"`
}

type generateFAQOutput struct {
	Entries []faq.Entry `json:"entries" jsonschema:"Generated FAQ entries"`
	Count   int         `json:"count" jsonschema:"Number of entries"`
}

func (s *Server) handleGenerateFAQ(ctx context.Context, _ *mcp.CallToolRequest, args generateFAQInput) (*mcp.CallToolResult, generateFAQOutput, error) {
	ctx, err := withTenant(ctx, args.TenantID)
	if err != nil {
		return nil, generateFAQOutput{}, err
	}

	entries, err := s.services.FAQ.Generate(ctx, args.TenantID, args.Priority)
	if err != nil {
		return nil, generateFAQOutput{}, fmt.Errorf("faq generation failed: %w", err)
	}

	out := generateFAQOutput{Entries: entries, Count: len(entries)}
	return textResult("Generated %d FAQ entries", len(entries)), out, nil
}

// ===== DOCUMENTS =====

type getDocumentInput struct {
	TenantID   string `json:"tenant_id" jsonschema:"required,Tenant identifier"`
	DocumentID string `json:"document_id" jsonschema:"required,Document identifier"`
}

type getDocumentOutput struct {
	Text  string `json:"text" jsonschema:"Document text, chunks joined by newlines"`
	Found bool   `json:"found" jsonschema:"False when the document has no chunks"`
}

func (s *Server) handleGetDocument(ctx context.Context, _ *mcp.CallToolRequest, args getDocumentInput) (*mcp.CallToolResult, getDocumentOutput, error) {
	ctx, err := withTenant(ctx, args.TenantID)
	if err != nil {
		return nil, getDocumentOutput{}, err
	}

	text, err := s.services.Documents.DocumentText(ctx, args.TenantID, args.DocumentID)
	if err != nil {
		return nil, getDocumentOutput{}, fmt.Errorf("document read failed: %w", err)
	}
	if text == "" {
		return textResult("Document %s not found", args.DocumentID), getDocumentOutput{}, nil
	}
	return textResult("%s", text), getDocumentOutput{Text: text, Found: true}, nil
}
