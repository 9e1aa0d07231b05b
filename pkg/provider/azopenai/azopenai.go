// Package azopenai adapts Azure OpenAI chat completions to the
// provider contract, including SSE streaming with usage tracking.
package azopenai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/env"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/provider"
)

type Client struct {
	api        openai.Client
	deployment string
	temp       *float64
	maxTokens  *int
}

// New builds a client for a configured Azure OpenAI deployment. The
// API key comes from AZURE_OPENAI_API_KEY.
func New(ctx context.Context, cfg *config.AzureOpenAI, environ env.Provider) (*Client, error) {
	if cfg == nil {
		return nil, errdefs.Config("inference.azure_openai block is required for provider azure_openai")
	}
	if cfg.Endpoint == "" || cfg.Deployment == "" {
		return nil, errdefs.Config("azure_openai requires endpoint and deployment")
	}
	apiKey, err := env.Require(ctx, environ, "AZURE_OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(strings.TrimRight(cfg.Endpoint, "/") + "/openai/v1/"),
	}
	if cfg.APIVersion != "" {
		opts = append(opts, option.WithQuery("api-version", cfg.APIVersion))
	}

	slog.Debug("azure openai client created", "deployment", cfg.Deployment, "endpoint", cfg.Endpoint)
	return &Client{
		api:        openai.NewClient(opts...),
		deployment: cfg.Deployment,
		temp:       cfg.Temperature,
		maxTokens:  cfg.MaxTokens,
	}, nil
}

func (c *Client) Name() string { return "azure_openai" }

func (c *Client) params(messages []provider.Message, opts provider.Options) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    c.deployment,
		Messages: convertMessages(messages),
	}
	temp := c.temp
	if opts.Temperature != nil {
		temp = opts.Temperature
	}
	if temp != nil {
		params.Temperature = openai.Float(*temp)
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens != nil {
		maxTokens = opts.MaxTokens
	}
	if maxTokens != nil {
		params.MaxTokens = openai.Int(int64(*maxTokens))
	}
	return params
}

func (c *Client) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (provider.Completion, error) {
	params := c.params(messages, opts)

	var completion provider.Completion
	retries, err := provider.Do(ctx, func() error {
		resp, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return errdefs.Inference("azure openai returned no choices")
		}
		completion = provider.Completion{
			Text:      resp.Choices[0].Message.Content,
			Model:     resp.Model,
			TokensIn:  int(resp.Usage.PromptTokens),
			TokensOut: int(resp.Usage.CompletionTokens),
		}
		return nil
	})
	completion.Retries = retries
	return completion, err
}

func (c *Client) Stream(ctx context.Context, messages []provider.Message, opts provider.Options, onToken provider.StreamHandler) (provider.Completion, error) {
	params := c.params(messages, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	var completion provider.Completion
	retries, err := provider.Do(ctx, func() error {
		stream := c.api.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var text strings.Builder
		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				delta := chunk.Choices[0].Delta.Content
				text.WriteString(delta)
				if onToken != nil {
					onToken(delta)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return classify(err)
		}
		completion = provider.Completion{
			Text:      text.String(),
			Model:     acc.Model,
			TokensIn:  int(acc.Usage.PromptTokens),
			TokensOut: int(acc.Usage.CompletionTokens),
		}
		return nil
	})
	completion.Retries = retries
	return completion, err
}

func convertMessages(messages []provider.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case provider.RoleSystem:
			out = append(out, openai.SystemMessage(joinText(msg.Parts)))
		case provider.RoleAssistant:
			out = append(out, openai.AssistantMessage(joinText(msg.Parts)))
		default:
			out = append(out, openai.UserMessage(convertParts(msg.Parts)))
		}
	}
	return out
}

func convertParts(parts []provider.Part) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "image":
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: provider.DataURL(part.MediaType, part.Data),
			}))
		default:
			out = append(out, openai.TextContentPart(part.Text))
		}
	}
	return out
}

func joinText(parts []provider.Part) string {
	var texts []string
	for _, part := range parts {
		if part.Type != "image" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// classify maps SDK errors onto inference errors carrying the HTTP
// status so the retry loop and streaming fallback can act on it.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return errdefs.InferenceWithStatus(apiErr.StatusCode, "azure openai request failed: %s", apiErr.Message)
	}
	return errdefs.WrapInference(err, "azure openai request failed")
}
