// Package provider defines the model-client contract shared by the
// Azure OpenAI and AWS Bedrock adapters: multimodal messages in, a
// single completion out, with an optional token stream.
package provider

import (
	"context"
	"encoding/base64"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part is one content fragment of a message. Type is "text" or
// "image"; image parts carry raw bytes plus their media type.
type Part struct {
	Type      string
	Text      string
	MediaType string
	Data      []byte
}

func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

func ImagePart(mediaType string, data []byte) Part {
	return Part{Type: "image", MediaType: mediaType, Data: data}
}

type Message struct {
	Role  string
	Parts []Part
}

func SystemText(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

func UserParts(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// Options are per-call overrides; nil fields keep the provider's
// configured defaults.
type Options struct {
	Temperature *float64
	MaxTokens   *int
}

// Completion is the provider-neutral result of one model call.
type Completion struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
	Retries   int
}

// StreamHandler receives each streamed text delta as it arrives.
type StreamHandler func(token string)

// Client is implemented by every provider adapter. Stream returns
// ErrStreamingUnsupported when the provider has no streaming path; the
// invoker decides whether that is fatal or a fallback trigger.
type Client interface {
	Name() string
	Complete(ctx context.Context, messages []Message, opts Options) (Completion, error)
	Stream(ctx context.Context, messages []Message, opts Options, onToken StreamHandler) (Completion, error)
}

// ErrStreamingUnsupported signals a capability gap, not a transient
// failure. Compared with errors.Is.
var ErrStreamingUnsupported = errdefs.Provider("streaming is not supported by this provider")

// DataURL encodes image bytes for providers that take URL-form image
// content.
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
