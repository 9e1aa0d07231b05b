package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTextLineEndings(t *testing.T) {
	t.Parallel()

	unix := NormalizeText("line one\nline two\n")
	windows := NormalizeText("line one\r\nline two\r\n")
	mac := NormalizeText("line one\rline two\r")

	assert.Equal(t, unix, windows)
	assert.Equal(t, unix, mac)
}

func TestNormalizeTextStripsBOM(t *testing.T) {
	t.Parallel()

	withBOM := NormalizeText("\ufeffhello")
	assert.Equal(t, []byte("hello"), withBOM)
}

func TestDocumentIDDeterministic(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := DocumentIDInput{
		SourceURI:     "file:///data/a.txt",
		Payload:       []byte("hello world"),
		ModifiedAt:    &modified,
		ContentType:   "text/plain; charset=utf-8",
		ContentLength: 11,
		HasLength:     true,
	}

	first := DocumentID(in)
	second := DocumentID(in)
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "doc_"))

	// A different source URI must change the ID even for equal payloads.
	in.SourceURI = "file:///data/b.txt"
	assert.NotEqual(t, first, DocumentID(in))
}

func TestDocumentIDLineEndingInvariance(t *testing.T) {
	a := DocumentID(DocumentIDInput{SourceURI: "file:///x", Payload: NormalizeText("a\r\nb")})
	b := DocumentID(DocumentIDInput{SourceURI: "file:///x", Payload: NormalizeText("a\nb")})
	assert.Equal(t, a, b)
}

func TestChunkIDShape(t *testing.T) {
	id := ChunkID("doc_abc", 0, "some text")
	assert.True(t, strings.HasPrefix(id, "doc_abc_ch_"))
	assert.Len(t, strings.TrimPrefix(id, "doc_abc_ch_"), 12)

	// Same inputs, same ID; different index, different ID.
	assert.Equal(t, id, ChunkID("doc_abc", 0, "some text"))
	assert.NotEqual(t, id, ChunkID("doc_abc", 1, "some text"))
}

func TestBlobIDNamespacedByMediaType(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	png := BlobID("doc_1", "image/png", payload)
	jpg := BlobID("doc_1", "image/jpeg", payload)

	assert.True(t, strings.HasPrefix(png, "blob_"))
	assert.NotEqual(t, png, jpg)
}

func TestHashAlgoSelection(t *testing.T) {
	t.Setenv("FMF_HASH_ALGO", "xxh64")
	require.Equal(t, AlgoXXH64, DefaultAlgo())
	digest := HashBytes("ns", []byte("payload"), DefaultAlgo())
	assert.Len(t, digest, 16)

	t.Setenv("FMF_HASH_ALGO", "blake2b")
	require.Equal(t, AlgoBlake2b, DefaultAlgo())
	digest = HashBytes("ns", []byte("payload"), DefaultAlgo())
	assert.Len(t, digest, 32)

	t.Setenv("FMF_HASH_ALGO", "unknown")
	assert.Equal(t, AlgoBlake2b, DefaultAlgo())
}

func TestHashNamespaceSeparatesKinds(t *testing.T) {
	payload := []byte("same payload")
	assert.NotEqual(t,
		HashBytes("doc|x", payload, AlgoBlake2b),
		HashBytes("blob|x", payload, AlgoBlake2b))
}
