// Package chunk splits document text into token-bounded chunks with
// word overlap between neighbours.
package chunk

import (
	"regexp"
	"strings"

	"github.com/frontier-framework/fmf/pkg/document"
	"github.com/frontier-framework/fmf/pkg/ids"
)

const (
	DefaultMaxTokens = 800
	DefaultOverlap   = 150
)

type Options struct {
	MaxTokens int
	Overlap   int
	Splitter  string // by_sentence, by_paragraph, none
}

var (
	wordRun          = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
	paragraphGap     = regexp.MustCompile(`\n\n+`)
	nonSpaceRun      = regexp.MustCompile(`\S+`)
)

// EstimateTokens counts word-like runs, never less than one.
func EstimateTokens(text string) int {
	n := len(wordRun.FindAllString(text, -1))
	if n < 1 {
		return 1
	}
	return n
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	var parts []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		parts = append(parts, text[last:loc[0]+1])
		last = loc[1]
	}
	parts = append(parts, text[last:])
	return nonEmpty(parts)
}

func splitParagraphs(text string) []string {
	return nonEmpty(paragraphGap.Split(strings.TrimSpace(text), -1))
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Split packs splitter units greedily until MaxTokens would be
// exceeded; each rollover seeds the next chunk with the last Overlap
// words of the previous one. Chunk indices are dense per document.
func Split(docID, text string, opts Options) []document.Chunk {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Splitter == "" {
		opts.Splitter = "by_sentence"
	}

	var units []string
	switch opts.Splitter {
	case "by_paragraph":
		units = splitParagraphs(text)
	case "none":
		units = []string{text}
	default:
		units = splitSentences(text)
	}

	var chunks []document.Chunk
	var parts []string
	tokens := 0

	emit := func() {
		body := strings.TrimSpace(strings.Join(parts, " "))
		index := len(chunks)
		chunks = append(chunks, document.Chunk{
			ID:             ids.ChunkID(docID, index, body),
			DocID:          docID,
			Text:           body,
			TokensEstimate: EstimateTokens(body),
			Provenance: document.ChunkProvenance{
				Index:       index,
				Splitter:    opts.Splitter,
				LengthChars: len(body),
			},
		})
	}

	for _, unit := range units {
		unitTokens := EstimateTokens(unit)
		if tokens+unitTokens > opts.MaxTokens && len(parts) > 0 {
			emit()
			parts = parts[:0]
			tokens = 0
			if opts.Overlap > 0 {
				words := nonSpaceRun.FindAllString(chunks[len(chunks)-1].Text, -1)
				if len(words) > opts.Overlap {
					words = words[len(words)-opts.Overlap:]
				}
				if carry := strings.Join(words, " "); carry != "" {
					parts = append(parts, carry)
					tokens = EstimateTokens(carry)
				}
			}
		}
		parts = append(parts, unit)
		tokens += unitTokens
	}
	if len(parts) > 0 {
		emit()
	}

	return chunks
}
