// Package exporter delivers serialised step outputs to configured
// sinks. A sink receives the encoded payload and returns the
// destination URI; every write carries a unique token so concurrent
// exports to the same sink never collide mid-write.
package exporter

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// Sink writes one named payload and reports where it landed.
type Sink interface {
	Name() string
	Export(ctx context.Context, filename string, data []byte) (string, error)
}

// Build constructs the sink a chain output references.
func Build(ctx context.Context, cfg config.Sink) (Sink, error) {
	switch cfg.Type {
	case "file":
		return NewFileSink(cfg)
	case "s3":
		return NewS3Sink(ctx, S3Config{
			Name:   cfg.Name,
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
			Region: cfg.Region,
			Mode:   cfg.Mode,
		})
	default:
		return nil, errdefs.Config("export sink %q has unknown type %q", cfg.Name, cfg.Type)
	}
}

// Export resolves a sink by name from the engine config and delivers
// the payload.
func Export(ctx context.Context, engine *config.Config, sinkName, filename string, data []byte) (string, error) {
	cfg, ok := engine.SinkByName(sinkName)
	if !ok {
		return "", errdefs.Config("unknown export sink %q", sinkName)
	}
	sink, err := Build(ctx, cfg)
	if err != nil {
		return "", err
	}
	uri, err := sink.Export(ctx, filename, data)
	if err != nil {
		return "", err
	}
	slog.Info("output exported", "sink", sinkName, "destination", uri, "bytes", len(data))
	return uri, nil
}

// writeToken tags one in-flight write.
func writeToken() string { return uuid.NewString() }
