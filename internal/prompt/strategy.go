package prompt

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"go.uber.org/zap"
)

// strategy is one way of producing an instruction. ok is false when the
// strategy does not apply or failed, and the next one should be tried.
type strategy interface {
	resolve(ctx context.Context, tenantID string, personas []string) (res Result, ok bool)
}

type personaStrategy struct{ s *Synthesizer }

func (p personaStrategy) resolve(ctx context.Context, tenantID string, personas []string) (Result, bool) {
	normalized := NormalizePersonas(personas)
	if len(normalized) == 0 {
		return Result{}, false
	}

	text, hit, err := p.s.generateCached(ctx, PersonaKey(tenantID, normalized), gateway.GenerateRequest{
		System:      personaInstruction,
		User:        "Personas:\n- " + strings.Join(normalized, "\n- "),
		Temperature: p.s.opts.Temperature,
	})
	if err != nil {
		p.s.logger.Warn("persona prompt generation failed",
			zap.String("tenant.id", tenantID), zap.Error(err))
		return Result{}, false
	}
	return Result{Prompt: text, Strategy: StrategyPersonas, Cached: hit}, true
}

type contentStrategy struct{ s *Synthesizer }

func (c contentStrategy) resolve(ctx context.Context, tenantID string, _ []string) (Result, bool) {
	if c.s.content == nil {
		return Result{}, false
	}

	content, err := c.s.content.DiscoverURLContent(ctx, tenantID, c.s.opts.DiscoverMaxChars)
	if err != nil {
		c.s.logger.Warn("content discovery failed",
			zap.String("tenant.id", tenantID), zap.Error(err))
		return Result{}, false
	}
	if strings.TrimSpace(content) == "" {
		return Result{}, false
	}

	text, hit, err := c.s.generateCached(ctx, ContentKey(tenantID, content), gateway.GenerateRequest{
		System:      discoveryInstruction,
		User:        "Website content:\n" + content,
		Temperature: c.s.opts.Temperature,
	})
	if err != nil {
		c.s.logger.Warn("content prompt generation failed",
			zap.String("tenant.id", tenantID), zap.Error(err))
		return Result{}, false
	}
	return Result{Prompt: text, Strategy: StrategyContent, Cached: hit}, true
}

type defaultStrategy struct{}

func (defaultStrategy) resolve(context.Context, string, []string) (Result, bool) {
	return Result{Prompt: DefaultPrompt, Strategy: StrategyDefault}, true
}
