// Package fake is a scriptable in-memory provider used by tests.
package fake

import (
	"context"
	"strings"
	"sync"

	"github.com/frontier-framework/fmf/pkg/provider"
)

// Response scripts one call. StreamTokens overrides how Stream emits
// the text; when empty the text is sent as a single token.
type Response struct {
	Text         string
	TokensIn     int
	TokensOut    int
	Err          error
	StreamErr    error
	StreamTokens []string
}

// Call records the arguments of one invocation.
type Call struct {
	Messages  []provider.Message
	Options   provider.Options
	Streaming bool
}

// Client replays scripted responses in order; the last one repeats.
// The zero value answers every call with an empty completion.
type Client struct {
	Responses       []Response
	StreamSupported bool

	mu    sync.Mutex
	next  int
	calls []Call
}

func (c *Client) Name() string { return "fake" }

func (c *Client) take(messages []provider.Message, opts provider.Options, streaming bool) Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Messages: messages, Options: opts, Streaming: streaming})
	if len(c.Responses) == 0 {
		return Response{}
	}
	resp := c.Responses[c.next]
	if c.next < len(c.Responses)-1 {
		c.next++
	}
	return resp
}

// Calls snapshots the recorded invocations.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *Client) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (provider.Completion, error) {
	resp := c.take(messages, opts, false)
	if resp.Err != nil {
		return provider.Completion{}, resp.Err
	}
	return provider.Completion{
		Text:      resp.Text,
		Model:     "fake",
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
	}, nil
}

func (c *Client) Stream(ctx context.Context, messages []provider.Message, opts provider.Options, onToken provider.StreamHandler) (provider.Completion, error) {
	if !c.StreamSupported {
		return provider.Completion{}, provider.ErrStreamingUnsupported
	}
	resp := c.take(messages, opts, true)
	if resp.Err != nil {
		return provider.Completion{}, resp.Err
	}

	tokens := resp.StreamTokens
	if len(tokens) == 0 && resp.Text != "" {
		tokens = []string{resp.Text}
	}
	var text strings.Builder
	for _, tok := range tokens {
		text.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}
	if resp.StreamErr != nil {
		return provider.Completion{}, resp.StreamErr
	}
	return provider.Completion{
		Text:      text.String(),
		Model:     "fake",
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
	}, nil
}

var _ provider.Client = (*Client)(nil)
