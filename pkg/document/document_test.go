package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobRecordSurvivesClear(t *testing.T) {
	t.Parallel()

	blob := NewBlob("blob_abc", "image/png", []byte{0x89, 0x50, 0x4e, 0x47})
	doc := WithText("doc_1", "file:///a.png", "caption")
	doc.Blobs = []Blob{blob}

	doc.ClearContent()

	assert.Nil(t, doc.Content)
	assert.Nil(t, doc.Blobs[0].Data)
	assert.Equal(t, 4, doc.Blobs[0].SizeBytes)
	assert.Len(t, doc.Blobs[0].SHA256, 64)
}

func TestBlobPayloadNotSerialised(t *testing.T) {
	t.Parallel()

	blob := NewBlob("blob_abc", "image/png", []byte("secret-bytes"))
	raw, err := json.Marshal(blob)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "secret-bytes")
	assert.Contains(t, string(raw), `"size_bytes":12`)
	assert.Contains(t, string(raw), blob.SHA256)
}

func TestDocumentText(t *testing.T) {
	t.Parallel()

	doc := WithText("doc_1", "file:///a.txt", "hello")
	assert.Equal(t, "hello", doc.Text())

	doc.ClearContent()
	assert.Empty(t, doc.Text())
}
