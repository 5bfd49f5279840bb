package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const compatJSONInstruction = "Respond with a single valid JSON object and nothing else."

// CompatConfig configures a langchaingo client for OpenAI-compatible
// servers such as TEI, vLLM or Ollama.
type CompatConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	HTTPClient     *http.Client
}

// Compat serves embeddings and generation through langchaingo.
type Compat struct {
	llm      *openai.LLM
	embedder *embeddings.EmbedderImpl
}

// NewCompat creates a langchaingo-backed provider.
func NewCompat(cfg CompatConfig) (*Compat, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("compat: base_url required")
	}
	if cfg.Model == "" && cfg.EmbeddingModel == "" {
		return nil, errors.New("compat: model required")
	}

	// langchaingo requires a token even for servers that ignore it.
	token := cfg.APIKey
	if token == "" {
		token = "placeholder"
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, &APIError{Provider: "compat", Err: err}
	}

	c := &Compat{llm: llm}
	if cfg.EmbeddingModel != "" {
		emb, err := embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, &APIError{Provider: "compat", Err: err}
		}
		c.embedder = emb
	}
	return c, nil
}

// Embed implements Embedder.
func (c *Compat) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, &APIError{Provider: "compat", Err: ErrUnsupported}
	}
	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &APIError{Provider: "compat", Err: err}
	}
	if len(vec) == 0 {
		return nil, &APIError{Provider: "compat", Err: errors.New("empty embedding response")}
	}
	return vec, nil
}

// Generate implements Generator.
//
// langchaingo has no response format option, so JSONMode is an instruction
// appended to the system prompt.
func (c *Compat) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	system := req.System
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\n" + compatJSONInstruction)
	}

	var msgs []llms.MessageContent
	if system != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, req.User))

	resp, err := c.llm.GenerateContent(ctx, msgs, llms.WithTemperature(req.Temperature))
	if err != nil {
		return "", &APIError{Provider: "compat", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{Provider: "compat", Err: errors.New("no choices in response")}
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
