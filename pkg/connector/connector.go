// Package connector defines the contract for data sources the engine
// ingests from: list resources by glob selectors, open their bytes,
// and describe their metadata.
package connector

import (
	"context"
	"io"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ResourceRef points at one resource in a connector namespace. ID is
// connector-local (a relative path or object key), URI is canonical
// and stable across runs.
type ResourceRef struct {
	ID   string `json:"id"`
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ResourceInfo describes a resource. ModifiedAt and Size are nil when
// the backend does not report them.
type ResourceInfo struct {
	SourceURI  string
	ModifiedAt *time.Time
	ETag       string
	Size       *int64
	Extra      map[string]any
}

type Connector interface {
	Name() string

	// List enumerates resources matching the selector globs, relative
	// to the connector root. A nil selector means the configured
	// include patterns, or everything.
	List(ctx context.Context, selector []string) ([]ResourceRef, error)

	// Open streams the resource bytes. The caller closes the reader.
	Open(ctx context.Context, ref ResourceRef) (io.ReadCloser, error)

	// Info fetches resource metadata.
	Info(ctx context.Context, ref ResourceRef) (ResourceInfo, error)
}

// MatchAny reports whether rel matches at least one glob pattern.
func MatchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultSelector is used when neither the connector config nor the
// caller narrows the listing.
var DefaultSelector = []string{"**/*"}
