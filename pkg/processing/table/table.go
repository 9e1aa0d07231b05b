// Package table iterates tabular files (csv, xlsx, parquet) as keyed
// rows for the table_rows input mode.
package table

import (
	"path"
	"strconv"
	"strings"

	"github.com/frontier-framework/fmf/pkg/document"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/processing"
)

type Options struct {
	// TextColumn names the column(s) whose values form the row text.
	// A single name copies the value verbatim; multiple names are
	// space-joined.
	TextColumn []string

	// PassThrough, when set, keeps only the named columns.
	PassThrough []string

	// HeaderRow must be 1 (the first row); anything else is an error.
	HeaderRow int
}

// Rows parses the file and yields one TableRow per data record.
// Headers are deduplicated by suffixing a counter: base, base_1, ...
func Rows(docID, sourceURI, filename string, data []byte, opts Options) ([]document.TableRow, error) {
	if opts.HeaderRow != 0 && opts.HeaderRow != 1 {
		return nil, errdefs.Processing("only header_row=1 is supported, got %d", opts.HeaderRow)
	}

	var headers []string
	var records [][]any

	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		raw, err := processing.ReadCSVRows(data)
		if err != nil {
			return nil, err
		}
		headers, records = fromStringRows(raw)
	case ".xlsx":
		raw, err := processing.ReadXLSXRows(data)
		if err != nil {
			return nil, err
		}
		headers, records = fromStringRows(raw)
	case ".parquet":
		var err error
		headers, records, err = processing.ReadParquetRows(data, 0)
		if err != nil {
			return nil, err
		}
		headers = cleanHeaders(headers)
	default:
		return nil, errdefs.Processing("unsupported table format: %s", path.Ext(filename))
	}

	if headers == nil {
		return nil, nil
	}

	rows := make([]document.TableRow, 0, len(records))
	for i, record := range records {
		columns := map[string]any{}
		for j, header := range headers {
			var value any = ""
			if j < len(record) {
				value = record[j]
			}
			columns[header] = value
		}

		if opts.PassThrough != nil {
			keep := map[string]bool{}
			for _, name := range opts.PassThrough {
				keep[name] = true
			}
			for name := range columns {
				if !keep[name] {
					delete(columns, name)
				}
			}
		}

		rows = append(rows, document.TableRow{
			DocID:     docID,
			SourceURI: sourceURI,
			RowIndex:  i,
			Columns:   columns,
			Text:      rowText(columns, opts.TextColumn),
		})
	}
	return rows, nil
}

func rowText(columns map[string]any, textColumn []string) string {
	switch len(textColumn) {
	case 0:
		return ""
	case 1:
		return processing.RenderCell(columns[textColumn[0]])
	default:
		var parts []string
		for _, name := range textColumn {
			if value, ok := columns[name]; ok {
				parts = append(parts, processing.RenderCell(value))
			}
		}
		return strings.Join(parts, " ")
	}
}

func fromStringRows(raw [][]string) ([]string, [][]any) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := cleanHeaders(raw[0])
	records := make([][]any, 0, len(raw)-1)
	for _, row := range raw[1:] {
		record := make([]any, len(row))
		for i, cell := range row {
			record[i] = cell
		}
		records = append(records, record)
	}
	return headers, records
}

// cleanHeaders trims names, substitutes "col" for blanks, and
// disambiguates duplicates with a numeric suffix.
func cleanHeaders(raw []string) []string {
	seen := map[string]int{}
	out := make([]string, len(raw))
	for i, h := range raw {
		base := strings.TrimSpace(h)
		if base == "" {
			base = "col"
		}
		if n := seen[base]; n == 0 {
			out[i] = base
		} else {
			out[i] = base + "_" + strconv.Itoa(n)
		}
		seen[base]++
	}
	return out
}
