package rag

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/connector"
	"github.com/frontier-framework/fmf/pkg/document"
	"github.com/frontier-framework/fmf/pkg/processing"
	"github.com/frontier-framework/fmf/pkg/processing/chunk"
)

// Build loads the pipeline's connector selection, chunks text with the
// shared processing settings, and indexes items per modality. Item
// order follows the listing order regardless of load concurrency.
func Build(ctx context.Context, cfg config.RAGPipeline, conn connector.Connector, proc *config.Processing) (*Pipeline, error) {
	refs, err := conn.List(ctx, cfg.Select)
	if err != nil {
		return nil, err
	}

	includeText := len(cfg.Modalities) == 0 ||
		slices.Contains(cfg.Modalities, "text") || slices.Contains(cfg.Modalities, "both")
	includeImages := slices.Contains(cfg.Modalities, "image") || slices.Contains(cfg.Modalities, "both")

	chunkOpts := chunk.Options{}
	if proc != nil {
		chunkOpts.MaxTokens = proc.Text.Chunking.MaxTokens
		chunkOpts.Overlap = proc.Text.Chunking.Overlap
		chunkOpts.Splitter = proc.Text.Chunking.Splitter
	}

	docs := make([]document.Document, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	limit := cfg.BuildConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, ref := range refs {
		g.Go(func() error {
			r, err := conn.Open(gctx, ref)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return err
			}
			doc, err := processing.Load(ref.URI, ref.Name, data, proc)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pipeline := &Pipeline{Name: cfg.Name}
	for _, doc := range docs {
		if includeText && doc.Content != nil {
			for _, c := range chunk.Split(doc.ID, doc.Text(), chunkOpts) {
				if cfg.MaxTextItems > 0 && len(pipeline.TextItems) >= cfg.MaxTextItems {
					break
				}
				metadata := itemMetadata(doc)
				pipeline.TextItems = append(pipeline.TextItems, TextItem{
					ID:        c.ID,
					SourceURI: doc.SourceURI,
					Content:   c.Text,
					Tokens:    Tokenize(c.Text),
					Metadata:  metadata,
				})
			}
		}
		if includeImages {
			for _, blob := range doc.Blobs {
				if cfg.MaxImageItems > 0 && len(pipeline.ImageItems) >= cfg.MaxImageItems {
					break
				}
				repr := doc.Text()
				if repr == "" {
					if filename, ok := doc.Metadata["filename"].(string); ok && filename != "" {
						repr = filename
					} else {
						repr = blob.ID
					}
				}
				metadata := itemMetadata(doc)
				metadata["blob_id"] = blob.ID
				pipeline.ImageItems = append(pipeline.ImageItems, ImageItem{
					ID:        doc.ID + ":" + blob.ID,
					SourceURI: doc.SourceURI,
					MediaType: blob.MediaType,
					Data:      blob.Data,
					Tokens:    Tokenize(repr),
					Metadata:  metadata,
				})
			}
		}
	}

	slog.Debug("rag pipeline built",
		"pipeline", cfg.Name,
		"text_items", len(pipeline.TextItems),
		"image_items", len(pipeline.ImageItems))
	return pipeline, nil
}

func itemMetadata(doc document.Document) map[string]any {
	metadata := map[string]any{"doc_id": doc.ID, "source_uri": doc.SourceURI}
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	return metadata
}
