// Package document defines the in-memory and serialised shapes of
// ingested content: documents, binary blobs, text chunks, and table
// rows. Blob payloads never reach artefact files; only their size and
// digest do.
package document

import (
	"crypto/sha256"
	"encoding/hex"
)

// Blob is a binary attachment of a document (an image, a raw file).
// SizeBytes and SHA256 are fixed at construction so the payload can be
// dropped later without losing the serialisable record.
type Blob struct {
	ID        string         `json:"id"`
	MediaType string         `json:"media_type"`
	Data      []byte         `json:"-"`
	SizeBytes int            `json:"size_bytes"`
	SHA256    string         `json:"sha256"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBlob records the payload digest and size up front.
func NewBlob(id, mediaType string, data []byte) Blob {
	sum := sha256.Sum256(data)
	return Blob{
		ID:        id,
		MediaType: mediaType,
		Data:      data,
		SizeBytes: len(data),
		SHA256:    hex.EncodeToString(sum[:]),
	}
}

// Document is a single ingested resource. Content is nil for binary
// documents and after ClearContent.
type Document struct {
	ID         string         `json:"id"`
	SourceURI  string         `json:"source_uri"`
	Content    *string        `json:"content,omitempty"`
	Blobs      []Blob         `json:"blobs,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Provenance map[string]any `json:"provenance,omitempty"`
}

// WithText builds a textual document.
func WithText(id, sourceURI, text string) Document {
	return Document{ID: id, SourceURI: sourceURI, Content: &text}
}

// Text returns the document content, or "" when absent.
func (d *Document) Text() string {
	if d.Content == nil {
		return ""
	}
	return *d.Content
}

// ClearContent drops the content string and all blob payloads. The
// blob records keep their size and digest.
func (d *Document) ClearContent() {
	d.Content = nil
	for i := range d.Blobs {
		d.Blobs[i].Data = nil
	}
}

// Chunk is a contiguous span of a document produced by the chunker.
type Chunk struct {
	ID             string          `json:"id"`
	DocID          string          `json:"doc_id"`
	Text           string          `json:"text"`
	TokensEstimate int             `json:"tokens_estimate"`
	Provenance     ChunkProvenance `json:"provenance"`
}

// ChunkProvenance records where a chunk came from. Indices are dense
// 0..N-1 per document.
type ChunkProvenance struct {
	Index       int    `json:"index"`
	Splitter    string `json:"splitter"`
	LengthChars int    `json:"length_chars"`
}

// TableRow is one record of a tabular document, keyed by the
// deduplicated header names. Text is the derived textual rendering
// used for templating.
type TableRow struct {
	DocID     string         `json:"doc_id"`
	SourceURI string         `json:"source_uri"`
	RowIndex  int            `json:"row_index"`
	Columns   map[string]any `json:"columns"`
	Text      string         `json:"text,omitempty"`
}

// ImageGroup is an ordered batch of documents whose blobs form one
// multimodal inference unit.
type ImageGroup struct {
	Index int        `json:"index"`
	Docs  []Document `json:"docs"`
}
