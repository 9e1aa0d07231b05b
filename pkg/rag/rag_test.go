package rag

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/connector/local"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tokens := Tokenize("The cat, the CAT and dog42!")
	assert.Equal(t, Tokens{"the": 2, "cat": 2, "and": 1, "dog42": 1}, tokens)
	assert.Empty(t, Tokenize("!!! ..."))
}

func TestCosine(t *testing.T) {
	t.Parallel()

	a := Tokenize("alpha beta")
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-9)
	assert.Zero(t, Cosine(a, Tokenize("gamma delta")))
	assert.Zero(t, Cosine(a, Tokens{}))

	// Overlapping vectors score strictly between 0 and 1.
	sim := Cosine(Tokenize("alpha beta"), Tokenize("alpha gamma"))
	assert.Greater(t, sim, 0.0)
	assert.Less(t, sim, 1.0)
}

func textPipeline() *Pipeline {
	return &Pipeline{
		Name: "p",
		TextItems: []TextItem{
			{ID: "t1", Content: "cats and dogs", Tokens: Tokenize("cats and dogs")},
			{ID: "t2", Content: "dogs only here", Tokens: Tokenize("dogs only here")},
			{ID: "t3", Content: "quantum physics", Tokens: Tokenize("quantum physics")},
		},
		ImageItems: []ImageItem{
			{ID: "i1", MediaType: "image/png", Data: []byte{1}, Tokens: Tokenize("diagram of dogs")},
			{ID: "i2", MediaType: "image/png", Data: []byte{2}, Tokens: Tokenize("sunset photo")},
		},
	}
}

func TestRetrieveRanksAndDropsZeroScores(t *testing.T) {
	t.Parallel()

	p := textPipeline()
	result := p.Retrieve("dogs dogs dogs", 3, 2)

	require.Len(t, result.Texts, 2)
	assert.Equal(t, "t2", result.Texts[0].ID)
	assert.Equal(t, "t1", result.Texts[1].ID)

	require.Len(t, result.Images, 1)
	assert.Equal(t, "i1", result.Images[0].ID)
}

func TestRetrieveTruncatesBeforeZeroFilter(t *testing.T) {
	t.Parallel()

	// Only one item matches; asking for top-1 must not pull in the
	// matching item ranked below a zero-score slot.
	p := &Pipeline{
		TextItems: []TextItem{
			{ID: "a", Tokens: Tokenize("unrelated words")},
			{ID: "b", Tokens: Tokenize("query match")},
		},
	}
	result := p.Retrieve("query", 1, 0)
	require.Len(t, result.Texts, 1)
	assert.Equal(t, "b", result.Texts[0].ID)

	result = p.Retrieve("nothing shared", 1, 0)
	assert.Empty(t, result.Texts)
}

func TestRetrieveZeroTopK(t *testing.T) {
	t.Parallel()

	p := textPipeline()
	result := p.Retrieve("dogs", 0, 0)
	assert.Empty(t, result.Texts)
	assert.Empty(t, result.Images)
}

func TestHistoryRecordsEveryRetrieval(t *testing.T) {
	t.Parallel()

	p := textPipeline()
	p.Retrieve("dogs", 2, 1)
	p.Retrieve("quantum", 1, 0)

	history := p.History()
	require.Len(t, history, 2)
	assert.Equal(t, "dogs", history[0]["query"])
	assert.Equal(t, "quantum", history[1]["query"])

	// Image records must not carry raw bytes.
	images, ok := history[0]["images"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, images, 1)
	assert.NotContains(t, images[0], "data")
}

func TestRetrieveConcurrent(t *testing.T) {
	t.Parallel()

	p := textPipeline()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Retrieve("dogs", 2, 1)
		}()
	}
	wg.Wait()
	assert.Len(t, p.History(), 20)
}

func TestFormatTextBlock(t *testing.T) {
	t.Parallel()

	block := FormatTextBlock([]TextItem{
		{Content: "first chunk", SourceURI: "file:///a.txt"},
		{Content: "second chunk", Metadata: map[string]any{"source_uri": "s3://b/key"}},
	})
	assert.Equal(t, "[1] first chunk\n    source: file:///a.txt\n[2] second chunk\n    source: s3://b/key", block)

	assert.Empty(t, FormatTextBlock(nil))
}

func TestImageDataURLs(t *testing.T) {
	t.Parallel()

	urls := ImageDataURLs([]ImageItem{{MediaType: "image/png", Data: []byte("abc")}})
	require.Len(t, urls, 1)
	assert.Equal(t, "data:image/png;base64,YWJj", urls[0])
}

func TestBuild(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha notes about cats"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("beta notes about dogs"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pic.png"), []byte{0x89, 0x50, 0x4e, 0x47}, 0o644))

	conn, err := local.New(local.Config{Name: "docs", Root: root})
	require.NoError(t, err)

	p, err := Build(t.Context(), config.RAGPipeline{
		Name:       "kb",
		Modalities: []string{"both"},
	}, conn, nil)
	require.NoError(t, err)

	require.Len(t, p.TextItems, 2)
	// Listing order is lexicographic, so a.txt comes first.
	assert.Contains(t, p.TextItems[0].Content, "alpha")
	assert.True(t, strings.HasPrefix(p.TextItems[0].SourceURI, "file://"))
	assert.NotEmpty(t, p.TextItems[0].Metadata["doc_id"])

	require.Len(t, p.ImageItems, 1)
	assert.Equal(t, "image/png", p.ImageItems[0].MediaType)
	assert.NotEmpty(t, p.ImageItems[0].Metadata["blob_id"])
	// Image tokens fall back to the filename when there is no text.
	assert.Contains(t, p.ImageItems[0].Tokens, "png")
}

func TestBuildModalityAndCaps(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.png"), []byte{1}, 0o644))

	conn, err := local.New(local.Config{Name: "docs", Root: root})
	require.NoError(t, err)

	textOnly, err := Build(t.Context(), config.RAGPipeline{
		Name:         "t",
		Modalities:   []string{"text"},
		MaxTextItems: 1,
	}, conn, nil)
	require.NoError(t, err)
	assert.Len(t, textOnly.TextItems, 1)
	assert.Empty(t, textOnly.ImageItems)

	imageOnly, err := Build(t.Context(), config.RAGPipeline{
		Name:       "i",
		Modalities: []string{"image"},
	}, conn, nil)
	require.NoError(t, err)
	assert.Empty(t, imageOnly.TextItems)
	assert.Len(t, imageOnly.ImageItems, 1)
}

func TestBuildWithSelect(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.md"), []byte("kept"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.txt"), []byte("skipped"), 0o644))

	conn, err := local.New(local.Config{Name: "docs", Root: root})
	require.NoError(t, err)

	p, err := Build(t.Context(), config.RAGPipeline{
		Name:   "md",
		Select: []string{"**/*.md"},
	}, conn, nil)
	require.NoError(t, err)
	require.Len(t, p.TextItems, 1)
	assert.Contains(t, p.TextItems[0].Content, "kept")
}
