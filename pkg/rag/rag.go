// Package rag implements sparse lexical retrieval: pipelines hold
// text chunks and image items as token-frequency vectors and answer
// top-k cosine queries against them.
package rag

import (
	"encoding/base64"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Tokens is a lower-cased token frequency vector.
type Tokens map[string]int

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func Tokenize(text string) Tokens {
	tokens := Tokens{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[tok]++
	}
	return tokens
}

// Cosine computes the cosine similarity of two frequency vectors,
// zero when either is empty or they share no tokens.
func Cosine(a, b Tokens) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	dot := 0
	for tok, av := range a {
		if bv, ok := b[tok]; ok {
			dot += av * bv
		}
	}
	if dot == 0 {
		return 0
	}
	var normA, normB float64
	for _, v := range a {
		normA += float64(v) * float64(v)
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float64(dot) / (math.Sqrt(normA) * math.Sqrt(normB))
}

type TextItem struct {
	ID        string
	SourceURI string
	Content   string
	Tokens    Tokens
	Metadata  map[string]any
}

func (t TextItem) Record() map[string]any {
	return map[string]any{
		"id":         t.ID,
		"source_uri": t.SourceURI,
		"content":    t.Content,
		"metadata":   t.Metadata,
	}
}

type ImageItem struct {
	ID        string
	SourceURI string
	MediaType string
	Data      []byte
	Tokens    Tokens
	Metadata  map[string]any
}

// Record omits the raw bytes; traces stay payload-free.
func (i ImageItem) Record() map[string]any {
	return map[string]any{
		"id":         i.ID,
		"source_uri": i.SourceURI,
		"media_type": i.MediaType,
		"metadata":   i.Metadata,
	}
}

type Result struct {
	Query  string
	Texts  []TextItem
	Images []ImageItem
}

func (r Result) Record() map[string]any {
	texts := make([]map[string]any, len(r.Texts))
	for i, t := range r.Texts {
		texts[i] = t.Record()
	}
	images := make([]map[string]any, len(r.Images))
	for i, img := range r.Images {
		images[i] = img.Record()
	}
	return map[string]any{"query": r.Query, "texts": texts, "images": images}
}

// Pipeline is an in-memory index plus the history of retrievals made
// against it. Retrieve is safe for concurrent use.
type Pipeline struct {
	Name       string
	TextItems  []TextItem
	ImageItems []ImageItem

	mu      sync.Mutex
	history []map[string]any
}

// Retrieve scores every item against the query and returns up to
// top-k text and image hits with non-zero similarity, best first.
func (p *Pipeline) Retrieve(query string, topKText, topKImages int) Result {
	qTokens := Tokenize(query)

	result := Result{Query: query}
	if topKText > 0 {
		for _, idx := range topIndices(len(p.TextItems), topKText, func(i int) float64 {
			return Cosine(qTokens, p.TextItems[i].Tokens)
		}) {
			result.Texts = append(result.Texts, p.TextItems[idx])
		}
	}
	if topKImages > 0 {
		for _, idx := range topIndices(len(p.ImageItems), topKImages, func(i int) float64 {
			return Cosine(qTokens, p.ImageItems[i].Tokens)
		}) {
			result.Images = append(result.Images, p.ImageItems[idx])
		}
	}

	p.mu.Lock()
	p.history = append(p.history, result.Record())
	p.mu.Unlock()
	return result
}

// History snapshots the retrieval trace records.
func (p *Pipeline) History() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, len(p.history))
	copy(out, p.history)
	return out
}

// topIndices returns the indices of the k best-scoring items with
// score > 0, in descending score order. Ties keep index order.
func topIndices(n, k int, score func(int) float64) []int {
	type scored struct {
		idx   int
		score float64
	}
	items := make([]scored, n)
	for i := range items {
		items[i] = scored{idx: i, score: score(i)}
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].score > items[b].score })

	if k > n {
		k = n
	}
	var out []int
	for _, item := range items[:k] {
		if item.score > 0 {
			out = append(out, item.idx)
		}
	}
	return out
}

// FormatTextBlock renders retrieved text items as a numbered context
// block with source attributions.
func FormatTextBlock(items []TextItem) string {
	var lines []string
	for i, item := range items {
		lines = append(lines, "["+strconv.Itoa(i+1)+"] "+item.Content)
		src := item.SourceURI
		if meta, ok := item.Metadata["source_uri"].(string); ok && meta != "" {
			src = meta
		}
		if src != "" {
			lines = append(lines, "    source: "+src)
		}
	}
	return strings.Join(lines, "\n")
}

// ImageDataURLs encodes image items as data: URLs for message parts.
func ImageDataURLs(items []ImageItem) []string {
	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = "data:" + item.MediaType + ";base64," + base64.StdEncoding.EncodeToString(item.Data)
	}
	return urls
}
