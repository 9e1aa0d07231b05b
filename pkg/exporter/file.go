package exporter

import (
	"context"
	"os"
	"path/filepath"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// FileSink writes payloads into a directory. Writes go to a
// token-named temp file first, then rename into place, so a reader
// never observes a partial export.
type FileSink struct {
	name string
	dir  string
	mode string
}

func NewFileSink(cfg config.Sink) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errdefs.Config("file sink %q: path is required", cfg.Name)
	}
	switch cfg.Mode {
	case "", "overwrite", "fail_if_exists":
	default:
		return nil, errdefs.Export("file sink %q: unsupported mode %q", cfg.Name, cfg.Mode)
	}
	return &FileSink{name: cfg.Name, dir: cfg.Path, mode: cfg.Mode}, nil
}

func (s *FileSink) Name() string { return s.name }

func (s *FileSink) Export(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errdefs.WrapExport(err, "file sink %q", s.name)
	}
	target := filepath.Join(s.dir, filename)
	if s.mode == "fail_if_exists" {
		if _, err := os.Stat(target); err == nil {
			return "", errdefs.Export("file sink %q: %s already exists", s.name, target)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", errdefs.WrapExport(err, "file sink %q: creating %s", s.name, filepath.Dir(target))
	}

	tmp := target + ".tmp-" + writeToken()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errdefs.WrapExport(err, "file sink %q: writing %s", s.name, tmp)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", errdefs.WrapExport(err, "file sink %q: finalising %s", s.name, target)
	}
	return "file://" + filepath.ToSlash(target), nil
}

var _ Sink = (*FileSink)(nil)
