// Package local reads resources from a directory tree on the local
// filesystem.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/frontier-framework/fmf/pkg/connector"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

type Connector struct {
	name    string
	root    string
	include []string
	exclude []string
}

type Config struct {
	Name    string
	Root    string
	Include []string
	Exclude []string
}

func New(cfg Config) (*Connector, error) {
	if cfg.Root == "" {
		return nil, errdefs.Config("local connector %q: root is required", cfg.Name)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errdefs.WrapConfig(err, "local connector %q: resolving root", cfg.Name)
	}
	include := cfg.Include
	if len(include) == 0 {
		include = connector.DefaultSelector
	}
	return &Connector{
		name:    cfg.Name,
		root:    root,
		include: include,
		exclude: cfg.Exclude,
	}, nil
}

func (c *Connector) Name() string { return c.name }

func (c *Connector) List(ctx context.Context, selector []string) ([]connector.ResourceRef, error) {
	patterns := selector
	if len(patterns) == 0 {
		patterns = c.include
	}

	var refs []connector.ResourceRef
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !connector.MatchAny(patterns, rel) {
			return nil
		}
		if connector.MatchAny(c.exclude, rel) {
			return nil
		}
		refs = append(refs, connector.ResourceRef{
			ID:   rel,
			URI:  "file://" + filepath.ToSlash(path),
			Name: d.Name(),
		})
		return nil
	})
	if err != nil {
		return nil, errdefs.WrapConnector(err, "local connector %q: listing %s", c.name, c.root)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (c *Connector) Open(ctx context.Context, ref connector.ResourceRef) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(c.root, filepath.FromSlash(ref.ID)))
	if err != nil {
		return nil, errdefs.WrapConnector(err, "local connector %q: resource not found: %s", c.name, ref.ID)
	}
	return f, nil
}

func (c *Connector) Info(ctx context.Context, ref connector.ResourceRef) (connector.ResourceInfo, error) {
	path := filepath.Join(c.root, filepath.FromSlash(ref.ID))
	st, err := os.Stat(path)
	if err != nil {
		return connector.ResourceInfo{}, errdefs.WrapConnector(err, "local connector %q: resource not found: %s", c.name, ref.ID)
	}
	modified := st.ModTime().UTC()
	size := st.Size()
	return connector.ResourceInfo{
		SourceURI:  "file://" + filepath.ToSlash(path),
		ModifiedAt: &modified,
		Size:       &size,
		Extra:      map[string]any{"path": path},
	}, nil
}

var _ connector.Connector = (*Connector)(nil)
