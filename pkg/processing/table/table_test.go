package table

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsCSV(t *testing.T) {
	t.Parallel()

	data := []byte("name,score\nalice,9\nbob,7\n")
	rows, err := Rows("doc_1", "file:///d.csv", "d.csv", data, Options{TextColumn: []string{"name"}})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "doc_1", rows[0].DocID)
	assert.Equal(t, 0, rows[0].RowIndex)
	assert.Equal(t, "alice", rows[0].Columns["name"])
	assert.Equal(t, "9", rows[0].Columns["score"])
	assert.Equal(t, "alice", rows[0].Text)
	assert.Equal(t, 1, rows[1].RowIndex)
}

func TestRowsHeaderDedup(t *testing.T) {
	t.Parallel()

	data := []byte("a,a,,a\n1,2,3,4\n")
	rows, err := Rows("doc_1", "file:///d.csv", "d.csv", data, Options{})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].Columns["a"])
	assert.Equal(t, "2", rows[0].Columns["a_1"])
	assert.Equal(t, "3", rows[0].Columns["col"])
	assert.Equal(t, "4", rows[0].Columns["a_2"])
}

func TestRowsTextColumnJoin(t *testing.T) {
	t.Parallel()

	data := []byte("first,last\nada,lovelace\n")
	rows, err := Rows("doc_1", "file:///d.csv", "d.csv", data, Options{TextColumn: []string{"first", "last"}})
	require.NoError(t, err)
	assert.Equal(t, "ada lovelace", rows[0].Text)
}

func TestRowsPassThrough(t *testing.T) {
	t.Parallel()

	data := []byte("keep,drop\nx,y\n")
	rows, err := Rows("doc_1", "file:///d.csv", "d.csv", data, Options{PassThrough: []string{"keep"}})
	require.NoError(t, err)

	assert.Equal(t, "x", rows[0].Columns["keep"])
	_, present := rows[0].Columns["drop"]
	assert.False(t, present)
}

func TestRowsShortRecordPadded(t *testing.T) {
	t.Parallel()

	data := []byte("a,b,c\n1,2\n")
	rows, err := Rows("doc_1", "file:///d.csv", "d.csv", data, Options{})
	require.NoError(t, err)
	assert.Equal(t, "", rows[0].Columns["c"])
}

func TestRowsHeaderRowUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Rows("doc_1", "file:///d.csv", "d.csv", []byte("a\n1\n"), Options{HeaderRow: 2})
	require.Error(t, err)
}

func TestRowsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	_, err := Rows("doc_1", "file:///d.json", "d.json", []byte("{}"), Options{})
	require.Error(t, err)
}

func TestRowsEmptyFile(t *testing.T) {
	t.Parallel()

	rows, err := Rows("doc_1", "file:///d.csv", "d.csv", nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type record struct {
	Name  string `parquet:"name"`
	Score int64  `parquet:"score"`
}

func TestRowsParquet(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[record](&buf)
	_, err := w.Write([]record{{Name: "alice", Score: 9}, {Name: "bob", Score: 7}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rows, err := Rows("doc_1", "s3://bkt/d.parquet", "d.parquet", buf.Bytes(), Options{TextColumn: []string{"name"}})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Columns["name"])
	assert.Equal(t, int64(9), rows[0].Columns["score"])
	assert.Equal(t, "alice", rows[0].Text)
}
