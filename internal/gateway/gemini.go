package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	HTTPClient     *http.Client
}

// Gemini serves both embeddings and content generation.
type Gemini struct {
	client         *genai.Client
	model          string
	embeddingModel string
	maxTokens      int32
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api_key required")
	}
	if cfg.Model == "" && cfg.EmbeddingModel == "" {
		return nil, errors.New("gemini: model required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &APIError{Provider: "gemini", Err: err}
	}

	return &Gemini{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxTokens:      int32(cfg.MaxTokens),
	}, nil
}

// Embed implements Embedder.
func (p *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.embeddingModel == "" {
		return nil, &APIError{Provider: "gemini", Err: ErrUnsupported}
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, wrapGeminiError(err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, &APIError{Provider: "gemini", Err: errors.New("empty embedding response")}
	}
	return resp.Embeddings[0].Values, nil
}

// Generate implements Generator.
func (p *Gemini) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if p.model == "" {
		return "", &APIError{Provider: "gemini", Err: ErrUnsupported}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if p.maxTokens > 0 {
		cfg.MaxOutputTokens = p.maxTokens
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.User), cfg)
	if err != nil {
		return "", wrapGeminiError(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &APIError{Provider: "gemini", Err: errors.New("no text content in response")}
	}
	return text, nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Err: err}
	}
	return &APIError{Provider: "gemini", Err: err}
}
