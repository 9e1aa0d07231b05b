// Package processing turns raw connector bytes into documents: decode
// per media type, normalise text, render tables, attach binary blobs.
package processing

import (
	"path"
	"strings"
	"time"

	"github.com/k3a/html2text"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/document"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/ids"
)

// parquetSampleRows caps how much of a parquet file is rendered into
// document text.
const parquetSampleRows = 50

// DetectType maps a filename extension to a loader type.
func DetectType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return "text"
	case ".html", ".htm":
		return "html"
	case ".csv":
		return "csv"
	case ".xlsx":
		return "xlsx"
	case ".parquet":
		return "parquet"
	case ".png", ".jpg", ".jpeg":
		return "image"
	default:
		return "binary"
	}
}

var contentTypes = map[string]string{
	"text":    "text/plain; charset=utf-8",
	"html":    "text/html; charset=utf-8",
	"csv":     "text/csv; charset=utf-8",
	"xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"parquet": "application/x-parquet",
	"binary":  "application/octet-stream",
}

type loadOptions struct {
	normalizeWS bool
	toMarkdown  bool
	ocrEnabled  bool
}

func optionsFrom(cfg *config.Processing) loadOptions {
	opts := loadOptions{normalizeWS: true, toMarkdown: true}
	if cfg == nil {
		return opts
	}
	if cfg.Text.NormalizeWhitespace != nil {
		opts.normalizeWS = *cfg.Text.NormalizeWhitespace
	}
	if cfg.Tables.ToMarkdown != nil {
		opts.toMarkdown = *cfg.Tables.ToMarkdown
	}
	opts.ocrEnabled = cfg.Images.OCR.Enabled
	return opts
}

// Load builds a Document from raw bytes. The document ID is derived
// from the normalised payload, so identical content from the same URI
// hashes identically across runs.
func Load(sourceURI, filename string, data []byte, cfg *config.Processing) (document.Document, error) {
	kind := DetectType(filename)
	opts := optionsFrom(cfg)

	var text *string
	var blobs []document.Blob
	contentType := contentTypes[kind]

	switch kind {
	case "text":
		decoded := strings.ToValidUTF8(string(data), "�")
		text = normalized(decoded, opts)
	case "html":
		decoded := strings.ToValidUTF8(string(data), "�")
		text = normalized(html2text.HTML2Text(decoded), opts)
	case "csv":
		rows, err := ReadCSVRows(data)
		if err != nil {
			return document.Document{}, err
		}
		text = ptr(renderTable(rows, opts))
	case "xlsx":
		rows, err := ReadXLSXRows(data)
		if err != nil {
			return document.Document{}, err
		}
		text = ptr(renderTable(rows, opts))
	case "parquet":
		headers, records, err := ReadParquetRows(data, parquetSampleRows)
		if err != nil {
			return document.Document{}, err
		}
		rows := [][]string{headers}
		for _, record := range records {
			cells := make([]string, len(record))
			for i, v := range record {
				cells[i] = RenderCell(v)
			}
			rows = append(rows, cells)
		}
		text = ptr(renderTable(rows, opts))
	case "image":
		if opts.ocrEnabled {
			return document.Document{}, errdefs.Processing("ocr is enabled for %s but no OCR engine is available", filename)
		}
		contentType = "image/jpeg"
		if strings.HasSuffix(strings.ToLower(filename), ".png") {
			contentType = "image/png"
		}
		blobs = []document.Blob{document.NewBlob("", contentType, data)}
	default:
		blobs = []document.Blob{document.NewBlob("", "application/octet-stream", data)}
	}

	payload := data
	if text != nil {
		payload = ids.NormalizeText(*text)
	}

	docID := ids.DocumentID(ids.DocumentIDInput{
		SourceURI:     sourceURI,
		Payload:       payload,
		ContentType:   contentType,
		ContentLength: len(payload),
		HasLength:     true,
	})

	for i := range blobs {
		blobs[i].ID = ids.BlobID(docID, blobs[i].MediaType, blobs[i].Data)
	}

	doc := document.Document{
		ID:        docID,
		SourceURI: sourceURI,
		Content:   text,
		Blobs:     blobs,
		Metadata: map[string]any{
			"filename":      path.Base(filename),
			"detected_type": kind,
		},
		Provenance: map[string]any{
			"source_uri":    sourceURI,
			"root_filename": path.Base(filename),
			"hash":          strings.TrimPrefix(docID, "doc_"),
			"created_at":    time.Now().UTC().Format(time.RFC3339),
		},
	}
	return doc, nil
}

func normalized(text string, opts loadOptions) *string {
	if opts.normalizeWS {
		text = NormalizeWhitespace(text)
	}
	return &text
}

func ptr(text string) *string { return &text }

func renderTable(rows [][]string, opts loadOptions) string {
	if opts.toMarkdown {
		return rowsToMarkdown(rows)
	}
	return rowsToCSVText(rows)
}
