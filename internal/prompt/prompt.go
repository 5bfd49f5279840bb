// Package prompt synthesizes a tenant assistant's system instruction.
//
// Strategies are tried in order and the first to produce text wins:
// explicit personas, then content discovered from the tenant's web pages,
// then a fixed default. Generated instructions are cached under keys derived
// from the tenant and a hash of their input, so identical persona sets or
// identical discovered content never trigger a second generation.
package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/assistd/internal/cache"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("assistd.prompt")

// DefaultPrompt is returned when no other strategy produces an instruction.
const DefaultPrompt = "You are a helpful, professional assistant. Answer clearly and courteously, and say so when you do not know the answer."

const (
	// DefaultDiscoverMaxChars bounds the content preview used for discovery.
	DefaultDiscoverMaxChars = 2000

	// DefaultTemperature is used for prompt generation.
	DefaultTemperature = 0.5
)

const personaInstruction = `You write system prompts for customer-facing AI assistants.
Blend the personas listed by the user into one coherent system prompt written in the second person ("You are...").
Describe the voice, tone and priorities the assistant should have. Reply with the prompt text only.`

const discoveryInstruction = `You write system prompts for customer-facing AI assistants.
From the website content the user provides, infer the business, its audience and its voice.
Write one system prompt in the second person ("You are...") that states the assistant's persona, tone and mission. Reply with the prompt text only.`

// errEmptyGeneration marks a generation that returned only whitespace.
var errEmptyGeneration = errors.New("generation returned empty text")

// ContentSource supplies text discovered from a tenant's web pages.
type ContentSource interface {
	DiscoverURLContent(ctx context.Context, tenantID string, maxChars int) (string, error)
}

// Strategy names.
const (
	StrategyPersonas = "personas"
	StrategyContent  = "content"
	StrategyDefault  = "default"
)

// Result describes how an instruction was produced.
type Result struct {
	Prompt   string
	Strategy string
	Cached   bool
}

// Options configures a Synthesizer.
type Options struct {
	DiscoverMaxChars int
	Temperature      float64
	Logger           *zap.Logger
}

// Synthesizer produces system instructions.
type Synthesizer struct {
	cache      cache.Cache
	llm        gateway.Generator
	content    ContentSource
	strategies []strategy
	opts       Options
	logger     *zap.Logger
}

// New creates a Synthesizer. content may be nil to disable discovery.
func New(c cache.Cache, llm gateway.Generator, content ContentSource, opts Options) *Synthesizer {
	if opts.DiscoverMaxChars <= 0 {
		opts.DiscoverMaxChars = DefaultDiscoverMaxChars
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Synthesizer{
		cache:   c,
		llm:     llm,
		content: content,
		opts:    opts,
		logger:  opts.Logger,
	}
	s.strategies = []strategy{
		personaStrategy{s},
		contentStrategy{s},
		defaultStrategy{},
	}
	return s
}

// Synthesize returns the tenant's system instruction. It never fails.
func (s *Synthesizer) Synthesize(ctx context.Context, tenantID string, personas []string) string {
	return s.SynthesizeResult(ctx, tenantID, personas).Prompt
}

// SynthesizeResult is Synthesize with the winning strategy reported.
func (s *Synthesizer) SynthesizeResult(ctx context.Context, tenantID string, personas []string) Result {
	ctx, span := tracer.Start(ctx, "Synthesizer.Synthesize")
	defer span.End()

	if err := tenant.Validate(tenantID); err != nil {
		s.logger.Warn("invalid tenant, using default prompt", zap.Error(err))
		span.SetAttributes(attribute.String("prompt.strategy", StrategyDefault))
		SynthesesTotal.WithLabelValues(StrategyDefault, "none").Inc()
		return Result{Prompt: DefaultPrompt, Strategy: StrategyDefault}
	}
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	for _, st := range s.strategies {
		res, ok := st.resolve(ctx, tenantID, personas)
		if !ok {
			continue
		}
		span.SetAttributes(
			attribute.String("prompt.strategy", res.Strategy),
			attribute.Bool("prompt.cached", res.Cached))
		SynthesesTotal.WithLabelValues(res.Strategy, cacheLabel(res)).Inc()
		return res
	}
	// defaultStrategy always resolves.
	return Result{Prompt: DefaultPrompt, Strategy: StrategyDefault}
}

// generateCached returns the cached instruction for key or generates it.
// Empty generations are errors so they are never cached.
func (s *Synthesizer) generateCached(ctx context.Context, key string, req gateway.GenerateRequest) (string, bool, error) {
	return s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (string, error) {
		text, err := s.llm.Generate(ctx, req)
		if err != nil {
			GenerationFailuresTotal.Inc()
			return "", err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			GenerationFailuresTotal.Inc()
			return "", errEmptyGeneration
		}
		return text, nil
	})
}

// NormalizePersonas trims, lowercases, drops empties, dedupes and sorts.
func NormalizePersonas(personas []string) []string {
	seen := make(map[string]struct{}, len(personas))
	out := make([]string, 0, len(personas))
	for _, p := range personas {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PersonaKey is the cache key for a normalized persona set.
func PersonaKey(tenantID string, normalized []string) string {
	return fmt.Sprintf("%s:persona:%s", tenantID, digest(strings.Join(normalized, "\x00")))
}

// ContentKey is the cache key for discovered content.
func ContentKey(tenantID, content string) string {
	return fmt.Sprintf("%s:content:%s", tenantID, digest(content))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func cacheLabel(r Result) string {
	switch {
	case r.Strategy == StrategyDefault:
		return "none"
	case r.Cached:
		return "hit"
	default:
		return "miss"
	}
}
