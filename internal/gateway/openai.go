package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI provider.
// BaseURL may point at any OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	HTTPClient     *http.Client
}

// OpenAI serves both embeddings and chat completions.
type OpenAI struct {
	client         openaisdk.Client
	model          string
	embeddingModel string
	maxTokens      int64
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: api_key required when base_url is not set")
	}
	if cfg.Model == "" && cfg.EmbeddingModel == "" {
		return nil, errors.New("openai: model required")
	}

	// Retries are owned by the resilient wrapper.
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{
		client:         openaisdk.NewClient(opts...),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxTokens:      int64(cfg.MaxTokens),
	}, nil
}

// Embed implements Embedder.
func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.embeddingModel == "" {
		return nil, fmt.Errorf("openai: %w: no embedding model configured", ErrUnsupported)
	}

	resp, err := p.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(text)},
		Model: openaisdk.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &APIError{Provider: "openai", Err: errors.New("empty embedding response")}
	}
	return float64sToFloat32s(resp.Data[0].Embedding), nil
}

// Generate implements Generator.
func (p *OpenAI) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if p.model == "" {
		return "", fmt.Errorf("openai: %w: no chat model configured", ErrUnsupported)
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return "", wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{Provider: "openai", Err: errors.New("no choices in response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *OpenAI) buildParams(req GenerateRequest) openaisdk.ChatCompletionNewParams {
	var msgs []openaisdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.System))
	}
	msgs = append(msgs, openaisdk.UserMessage(req.User))

	params := openaisdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    msgs,
		Temperature: param.NewOpt(req.Temperature),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.maxTokens)
	}
	if req.JSONMode {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func wrapOpenAIError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
	}
	return &APIError{Provider: "openai", Err: err}
}
