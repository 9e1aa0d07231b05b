package artefacts

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/frontier-framework/fmf/pkg/chain"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// EncodeRecords serialises step records as jsonl, csv, or parquet.
// Object outputs become columns; scalar outputs land in a single
// "output" column.
func EncodeRecords(format string, records []chain.Record) ([]byte, error) {
	switch format {
	case "", "jsonl":
		return encodeJSONL(records)
	case "csv":
		return encodeCSV(records)
	case "parquet":
		return encodeParquet(records)
	default:
		return nil, errdefs.Config("unsupported output format %q", format)
	}
}

func encodeJSONL(records []chain.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec.Output); err != nil {
			return nil, errdefs.WrapExport(err, "encoding record %d", rec.Index)
		}
	}
	return buf.Bytes(), nil
}

// flatten turns records into rows keyed by the union of object keys,
// in sorted column order.
func flatten(records []chain.Record) ([]string, []map[string]any) {
	seen := map[string]bool{}
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		row, ok := rec.Output.(map[string]any)
		if !ok {
			row = map[string]any{"output": rec.Output}
		}
		for k := range row {
			seen[k] = true
		}
		rows[i] = row
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		cols = []string{"output"}
	}
	return cols, rows
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeCSV(records []chain.Record) ([]byte, error) {
	cols, rows := flatten(records)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, errdefs.WrapExport(err, "writing csv header")
	}
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = cellString(row[col])
		}
		if err := w.Write(cells); err != nil {
			return nil, errdefs.WrapExport(err, "writing csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errdefs.WrapExport(err, "flushing csv")
	}
	return buf.Bytes(), nil
}

// encodeParquet writes every column as an optional string; cell values
// are rendered the same way the csv encoder renders them.
func encodeParquet(records []chain.Record) ([]byte, error) {
	cols, rows := flatten(records)

	group := parquet.Group{}
	for _, col := range cols {
		group[col] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("records", group)

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[map[string]any](&buf, schema)
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		cells := map[string]any{}
		for _, col := range cols {
			if v, ok := row[col]; ok && v != nil {
				cells[col] = cellString(v)
			}
		}
		out[i] = cells
	}
	if len(out) > 0 {
		if _, err := w.Write(out); err != nil {
			return nil, errdefs.WrapExport(err, "writing parquet rows")
		}
	}
	if err := w.Close(); err != nil {
		return nil, errdefs.WrapExport(err, "closing parquet writer")
	}
	return buf.Bytes(), nil
}
