// Package rag answers tenant questions, choosing the cheapest sufficient
// path: a confident FAQ match, otherwise retrieval-augmented generation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/assistd/internal/faq"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/textutil"
	"github.com/fyrsmithlabs/assistd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("assistd.rag")

// ErrInvalidInput is returned for a missing tenant or query.
var ErrInvalidInput = errors.New("invalid input")

// InsufficientInformation is the answer when retrieval finds nothing.
const InsufficientInformation = "I apologize, but I don't have enough information to answer that."

// StaticSystemPrompt is the instruction used under the static policy.
const StaticSystemPrompt = "You are a helpful assistant. Answer using Context and History only."

// Defaults and bounds.
const (
	DefaultTopK          = 5
	DefaultContextBudget = 8000
	MaxContextBudget     = 30000
	DefaultHistoryTurns  = 4
	DefaultTemperature   = 0.3
)

// System prompt policies.
const (
	PolicyStatic  = "static"
	PolicyDynamic = "dynamic"
)

// Source identifies how an answer was produced.
type Source string

const (
	SourceFAQ          Source = "faq"
	SourceInsufficient Source = "insufficient"
	SourceGenerated    Source = "generated"
)

// Turn is one message of prior conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a question for a tenant's assistant.
type Request struct {
	Tenant       string
	Query        string
	History      []Turn
	SystemPrompt string
}

// Answer is the final reply.
type Answer struct {
	Text   string  `json:"answer"`
	Source Source  `json:"source"`
	Score  float64 `json:"score"`

	// Chunks is the number of retrieved chunks used as context.
	Chunks int `json:"chunks"`
}

// Matcher is the FAQ fast path.
type Matcher interface {
	FindBestMatch(ctx context.Context, tenantID, query string) (*faq.Entry, float64, error)
}

// Retriever finds the chunks most similar to a query.
type Retriever interface {
	Search(ctx context.Context, tenantID, query string, limit int) ([]vectorstore.Result, error)
}

// PromptSynthesizer produces a tenant system instruction.
type PromptSynthesizer interface {
	Synthesize(ctx context.Context, tenantID string, personas []string) string
}

// Options configures a Service.
type Options struct {
	TopK          int
	ContextBudget int
	HistoryTurns  int
	Temperature   float64
	Policy        string
	AnswerTimeout time.Duration
	Logger        *zap.Logger
}

// Service is the retrieval orchestrator.
type Service struct {
	matcher   Matcher
	retriever Retriever
	prompts   PromptSynthesizer
	llm       gateway.Generator
	opts      Options
	logger    *zap.Logger
}

// New creates a Service. matcher may be nil to skip the FAQ path; prompts is
// required only by the dynamic policy.
func New(matcher Matcher, retriever Retriever, prompts PromptSynthesizer, llm gateway.Generator, opts Options) (*Service, error) {
	if retriever == nil || llm == nil {
		return nil, errors.New("rag: retriever and generator are required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = DefaultContextBudget
	}
	if opts.ContextBudget > MaxContextBudget {
		opts.ContextBudget = MaxContextBudget
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	switch opts.Policy {
	case "":
		opts.Policy = PolicyStatic
	case PolicyStatic:
	case PolicyDynamic:
		if prompts == nil {
			return nil, errors.New("rag: dynamic policy requires a prompt synthesizer")
		}
	default:
		return nil, fmt.Errorf("rag: unknown system prompt policy %q", opts.Policy)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		matcher:   matcher,
		retriever: retriever,
		prompts:   prompts,
		llm:       llm,
		opts:      opts,
		logger:    opts.Logger,
	}, nil
}

// Answer resolves req to an answer.
func (s *Service) Answer(ctx context.Context, req Request) (ans *Answer, err error) {
	if strings.TrimSpace(req.Tenant) == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	if s.opts.AnswerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.AnswerTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "Service.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", req.Tenant))

	start := time.Now()
	defer func() {
		source := "error"
		if err == nil {
			source = string(ans.Source)
			span.SetAttributes(attribute.String("answer.source", source))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "answer failed")
		}
		AnswersTotal.WithLabelValues(source).Inc()
		AnswerDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	if s.matcher != nil {
		entry, score, err := s.matcher.FindBestMatch(ctx, req.Tenant, req.Query)
		if err != nil {
			return nil, fmt.Errorf("faq lookup: %w", err)
		}
		if entry != nil {
			s.logger.Debug("faq match",
				zap.String("tenant.id", req.Tenant),
				zap.Float64("score", score))
			return &Answer{Text: entry.Answer, Source: SourceFAQ, Score: score}, nil
		}
	}

	results, err := s.retriever.Search(ctx, req.Tenant, req.Query, s.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	if len(results) == 0 {
		return &Answer{Text: InsufficientInformation, Source: SourceInsufficient}, nil
	}

	contextText := BuildContext(results, s.opts.ContextBudget)
	history := RenderHistory(req.History, s.opts.HistoryTurns)

	genReq := gateway.GenerateRequest{
		System:      s.systemPrompt(ctx, req),
		User:        BuildUserPrompt(history, contextText, req.Query),
		Temperature: s.opts.Temperature,
	}
	s.logger.Log(logging.TraceLevel, "generation prompt",
		zap.String("tenant.id", req.Tenant),
		zap.String("system", genReq.System),
		zap.String("user", genReq.User))

	text, err := s.llm.Generate(ctx, genReq)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	span.SetAttributes(attribute.Int("rag.chunks", len(results)))
	return &Answer{Text: text, Source: SourceGenerated, Chunks: len(results)}, nil
}

func (s *Service) systemPrompt(ctx context.Context, req Request) string {
	if strings.TrimSpace(req.SystemPrompt) != "" {
		return req.SystemPrompt
	}
	if s.opts.Policy == PolicyDynamic {
		return s.prompts.Synthesize(ctx, req.Tenant, nil)
	}
	return StaticSystemPrompt
}

// BuildContext joins results with blank lines and truncates the joined text
// to budget characters, so higher-ranked chunks are kept whole first.
func BuildContext(results []vectorstore.Result, budget int) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Content
	}
	return textutil.Truncate(strings.Join(texts, "\n\n"), budget)
}

// RenderHistory renders the last n turns as "Role: content" lines.
func RenderHistory(history []Turn, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	lines := make([]string, len(history))
	for i, t := range history {
		lines[i] = capitalize(t.Role) + ": " + t.Content
	}
	return strings.Join(lines, "\n")
}

// BuildUserPrompt lays out history, context and question for generation.
func BuildUserPrompt(history, contextText, query string) string {
	return fmt.Sprintf("Conversation History:\n%s\n\nContext Information:\n%s\n\nUser Question: %s", history, contextText, query)
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
