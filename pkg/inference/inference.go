// Package inference drives provider calls: it resolves the invocation
// mode (regular, stream, auto), applies rate limiting, and captures
// per-call telemetry for the run manifest.
package inference

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/provider"
)

type Mode string

const (
	ModeRegular Mode = "regular"
	ModeStream  Mode = "stream"
	ModeAuto    Mode = "auto"
)

// Telemetry describes one invocation. FallbackReason is set when auto
// mode dropped from streaming to a regular call.
type Telemetry struct {
	SelectedMode   string `json:"selected_mode" yaml:"selected_mode"`
	Streaming      bool   `json:"streaming" yaml:"streaming"`
	FallbackReason string `json:"fallback_reason,omitempty" yaml:"fallback_reason,omitempty"`
	TTFBMillis     int64  `json:"ttfb_ms,omitempty" yaml:"ttfb_ms,omitempty"`
	LatencyMillis  int64  `json:"latency_ms" yaml:"latency_ms"`
	ChunkCount     int    `json:"chunk_count,omitempty" yaml:"chunk_count,omitempty"`
	TokensIn       int    `json:"tokens_in" yaml:"tokens_in"`
	TokensOut      int    `json:"tokens_out" yaml:"tokens_out"`
	Retries        int    `json:"retries" yaml:"retries"`
}

// Invoker wraps a provider client with mode selection and an optional
// requests-per-second limit shared by all workers.
type Invoker struct {
	client  provider.Client
	limiter *rate.Limiter
	mode    Mode
}

// New builds an invoker. rps <= 0 disables rate limiting. The default
// mode is overridden per-process by FMF_INFER_MODE.
func New(client provider.Client, rps float64, mode Mode) *Invoker {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if mode == "" {
		mode = ModeRegular
	}
	return &Invoker{client: client, limiter: limiter, mode: mode}
}

func (iv *Invoker) Client() provider.Client { return iv.client }

// ResolveMode picks the effective mode: the FMF_INFER_MODE override
// wins over a per-step request, which wins over the configured
// default.
func (iv *Invoker) ResolveMode(requested Mode) Mode {
	if env := os.Getenv("FMF_INFER_MODE"); env != "" {
		switch Mode(env) {
		case ModeRegular, ModeStream, ModeAuto:
			return Mode(env)
		}
		slog.Warn("ignoring invalid FMF_INFER_MODE", "value", env)
	}
	if requested != "" {
		return requested
	}
	return iv.mode
}

// Invoke runs one model call in the default mode.
func (iv *Invoker) Invoke(ctx context.Context, messages []provider.Message, opts provider.Options, onToken provider.StreamHandler) (provider.Completion, Telemetry, error) {
	return iv.InvokeWithMode(ctx, "", messages, opts, onToken)
}

// InvokeWithMode runs one model call in the resolved mode. In stream
// mode an unsupported provider is a hard error; in auto mode streaming
// failures fall back to a regular call with the reason recorded.
func (iv *Invoker) InvokeWithMode(ctx context.Context, requested Mode, messages []provider.Message, opts provider.Options, onToken provider.StreamHandler) (provider.Completion, Telemetry, error) {
	mode := iv.ResolveMode(requested)
	telemetry := Telemetry{SelectedMode: string(mode)}
	start := time.Now()

	var completion provider.Completion
	var err error
	switch mode {
	case ModeStream:
		completion, err = iv.stream(ctx, messages, opts, onToken, &telemetry)
		if errors.Is(err, provider.ErrStreamingUnsupported) {
			err = errdefs.Provider("streaming requested but provider %s does not support it", iv.client.Name())
		}
	case ModeAuto:
		completion, err = iv.stream(ctx, messages, opts, onToken, &telemetry)
		if err != nil {
			reason := "streaming_unsupported"
			if !errors.Is(err, provider.ErrStreamingUnsupported) {
				reason = "stream_error:" + strconv.Itoa(errdefs.StatusCode(err))
			}
			slog.Debug("falling back to regular invocation", "reason", reason, "provider", iv.client.Name())
			telemetry.Streaming = false
			telemetry.FallbackReason = reason
			telemetry.TTFBMillis = 0
			telemetry.ChunkCount = 0
			completion, err = iv.complete(ctx, messages, opts)
		}
	default:
		completion, err = iv.complete(ctx, messages, opts)
	}

	telemetry.LatencyMillis = time.Since(start).Milliseconds()
	if err != nil {
		return provider.Completion{}, telemetry, err
	}
	telemetry.TokensIn = completion.TokensIn
	telemetry.TokensOut = completion.TokensOut
	telemetry.Retries = completion.Retries
	return completion, telemetry, nil
}

func (iv *Invoker) wait(ctx context.Context) error {
	if iv.limiter == nil {
		return nil
	}
	if err := iv.limiter.Wait(ctx); err != nil {
		return errdefs.WrapInference(err, "waiting for rate limit")
	}
	return nil
}

func (iv *Invoker) complete(ctx context.Context, messages []provider.Message, opts provider.Options) (provider.Completion, error) {
	if err := iv.wait(ctx); err != nil {
		return provider.Completion{}, err
	}
	return iv.client.Complete(ctx, messages, opts)
}

func (iv *Invoker) stream(ctx context.Context, messages []provider.Message, opts provider.Options, onToken provider.StreamHandler, telemetry *Telemetry) (provider.Completion, error) {
	if err := iv.wait(ctx); err != nil {
		return provider.Completion{}, err
	}

	start := time.Now()
	first := true
	completion, err := iv.client.Stream(ctx, messages, opts, func(token string) {
		if first {
			telemetry.TTFBMillis = time.Since(start).Milliseconds()
			first = false
		}
		telemetry.ChunkCount++
		if onToken != nil {
			onToken(token)
		}
	})
	if err != nil {
		return provider.Completion{}, err
	}
	telemetry.Streaming = true
	return completion, nil
}
