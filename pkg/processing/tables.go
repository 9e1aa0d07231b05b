package processing

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

func ReadCSVRows(data []byte) ([][]string, error) {
	reader := csv.NewReader(strings.NewReader(strings.ToValidUTF8(string(data), "�")))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errdefs.WrapProcessing(err, "parsing csv")
	}
	return rows, nil
}

// ReadXLSXRows reads the first sheet of a workbook.
func ReadXLSXRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errdefs.WrapProcessing(err, "opening xlsx workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errdefs.Processing("xlsx workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errdefs.WrapProcessing(err, "reading xlsx sheet %s", sheets[0])
	}
	return rows, nil
}

// ReadParquetRows reads column names and up to limit rows (limit <= 0
// means all) with native Go values.
func ReadParquetRows(data []byte, limit int) ([]string, [][]any, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, errdefs.WrapProcessing(err, "opening parquet file")
	}

	fields := file.Schema().Fields()
	headers := make([]string, len(fields))
	for i, field := range fields {
		headers[i] = field.Name()
	}

	var out [][]any
	buf := make([]parquet.Row, 64)
	for _, group := range file.RowGroups() {
		rows := group.Rows()
		for {
			n, readErr := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				record := make([]any, len(headers))
				for _, value := range row {
					if col := value.Column(); col >= 0 && col < len(record) {
						record[col] = parquetValue(value)
					}
				}
				out = append(out, record)
				if limit > 0 && len(out) >= limit {
					rows.Close()
					return headers, out, nil
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					rows.Close()
					return nil, nil, errdefs.WrapProcessing(readErr, "reading parquet rows")
				}
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, nil, errdefs.WrapProcessing(err, "closing parquet rows")
		}
	}
	return headers, out, nil
}

func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

func RenderCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
