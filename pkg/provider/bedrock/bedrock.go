// Package bedrock adapts the AWS Bedrock Converse API to the provider
// contract.
package bedrock

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/provider"
)

// API is the subset of the Bedrock runtime client the adapter uses.
type API interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

type Client struct {
	api       API
	modelID   string
	temp      *float64
	maxTokens *int
}

type Config struct {
	Region      string
	ModelID     string
	Temperature *float64
	MaxTokens   *int

	// Client overrides the AWS runtime client, for tests.
	Client API
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ModelID == "" {
		return nil, errdefs.Config("aws_bedrock requires model_id")
	}
	api := cfg.Client
	if api == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, errdefs.WrapInference(err, "loading aws config for bedrock")
		}
		api = bedrockruntime.NewFromConfig(awsCfg)
	}
	slog.Debug("bedrock client created", "model_id", cfg.ModelID, "region", cfg.Region)
	return &Client{api: api, modelID: cfg.ModelID, temp: cfg.Temperature, maxTokens: cfg.MaxTokens}, nil
}

// FromConfig builds a client from the inference configuration block.
func FromConfig(ctx context.Context, cfg *config.AWSBedrock) (*Client, error) {
	if cfg == nil {
		return nil, errdefs.Config("inference.aws_bedrock block is required for provider aws_bedrock")
	}
	return New(ctx, Config{
		Region:      cfg.Region,
		ModelID:     cfg.ModelID,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
}

func (c *Client) Name() string { return "aws_bedrock" }

func (c *Client) inferenceConfig(opts provider.Options) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	temp := c.temp
	if opts.Temperature != nil {
		temp = opts.Temperature
	}
	if temp != nil {
		cfg.Temperature = aws.Float32(float32(*temp))
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens != nil {
		maxTokens = opts.MaxTokens
	}
	if maxTokens != nil {
		cfg.MaxTokens = aws.Int32(int32(*maxTokens))
	}
	return cfg
}

func (c *Client) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (provider.Completion, error) {
	msgs, system := convertMessages(messages)
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(c.modelID),
		Messages:        msgs,
		System:          system,
		InferenceConfig: c.inferenceConfig(opts),
	}

	var completion provider.Completion
	retries, err := provider.Do(ctx, func() error {
		out, err := c.api.Converse(ctx, input)
		if err != nil {
			return classify(err)
		}
		msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
		if !ok {
			return errdefs.Inference("bedrock returned no message output")
		}
		var text strings.Builder
		for _, block := range msg.Value.Content {
			if t, ok := block.(*types.ContentBlockMemberText); ok {
				text.WriteString(t.Value)
			}
		}
		completion = provider.Completion{Text: text.String(), Model: c.modelID}
		if out.Usage != nil {
			completion.TokensIn = int(aws.ToInt32(out.Usage.InputTokens))
			completion.TokensOut = int(aws.ToInt32(out.Usage.OutputTokens))
		}
		return nil
	})
	completion.Retries = retries
	return completion, err
}

func (c *Client) Stream(ctx context.Context, messages []provider.Message, opts provider.Options, onToken provider.StreamHandler) (provider.Completion, error) {
	msgs, system := convertMessages(messages)
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(c.modelID),
		Messages:        msgs,
		System:          system,
		InferenceConfig: c.inferenceConfig(opts),
	}

	var completion provider.Completion
	retries, err := provider.Do(ctx, func() error {
		out, err := c.api.ConverseStream(ctx, input)
		if err != nil {
			return classify(err)
		}
		stream := out.GetStream()
		defer stream.Close()

		var text strings.Builder
		tokensIn, tokensOut := 0, 0
		for event := range stream.Events() {
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if delta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					text.WriteString(delta.Value)
					if onToken != nil {
						onToken(delta.Value)
					}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					tokensIn = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					tokensOut = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				}
			}
		}
		if err := stream.Err(); err != nil {
			return classify(err)
		}
		completion = provider.Completion{
			Text:      text.String(),
			Model:     c.modelID,
			TokensIn:  tokensIn,
			TokensOut: tokensOut,
		}
		return nil
	})
	completion.Retries = retries
	return completion, err
}

// convertMessages splits system text into system blocks and maps the
// rest onto Converse messages.
func convertMessages(messages []provider.Message) ([]types.Message, []types.SystemContentBlock) {
	var out []types.Message
	var system []types.SystemContentBlock
	for _, msg := range messages {
		if msg.Role == provider.RoleSystem {
			for _, part := range msg.Parts {
				if part.Type != "image" && strings.TrimSpace(part.Text) != "" {
					system = append(system, &types.SystemContentBlockMemberText{Value: part.Text})
				}
			}
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == provider.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		var blocks []types.ContentBlock
		for _, part := range msg.Parts {
			switch part.Type {
			case "image":
				blocks = append(blocks, &types.ContentBlockMemberImage{
					Value: types.ImageBlock{
						Format: imageFormat(part.MediaType),
						Source: &types.ImageSourceMemberBytes{Value: part.Data},
					},
				})
			default:
				if part.Text != "" {
					blocks = append(blocks, &types.ContentBlockMemberText{Value: part.Text})
				}
			}
		}
		if len(blocks) > 0 {
			out = append(out, types.Message{Role: role, Content: blocks})
		}
	}
	return out, system
}

func imageFormat(mediaType string) types.ImageFormat {
	switch {
	case strings.Contains(mediaType, "png"):
		return types.ImageFormatPng
	case strings.Contains(mediaType, "gif"):
		return types.ImageFormatGif
	case strings.Contains(mediaType, "webp"):
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

// classify maps SDK errors onto inference errors with a status code:
// throttling surfaces as 429 so the retry loop backs off.
func classify(err error) error {
	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return errdefs.InferenceWithStatus(429, "bedrock request throttled")
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return errdefs.InferenceWithStatus(respErr.HTTPStatusCode(), "bedrock request failed: %v", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return errdefs.Inference("bedrock request failed: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return errdefs.WrapInference(err, "bedrock request failed")
}
