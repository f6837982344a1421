// Package chunker splits an ingested document into an ordered, overlapping
// sequence of word-bounded chunks. It depends only on the standard library:
// the algorithm is a straightforward paragraph walk built on
// strings.Fields/strings.Split (see DESIGN.md for the stdlib-only
// justification).
package chunker

import (
	"strings"

	"kgraph-backend/internal/config"
)

// Chunk is one ordered, word-bounded slice of a document.
type Chunk struct {
	Index int
	Text  string
	Words int
}

// Split walks text paragraph by paragraph (blank-line separated),
// accumulating words into a chunk until it reaches target_words or the next
// paragraph would push it past max_words, then carries overlap_words of
// trailing words into the next chunk. Chunks under min_words are merged
// into their predecessor, except the final chunk which is kept as-is.
// Output is deterministic for a given input and config.
func Split(text string, cfg config.ChunkerConfig) []Chunk {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentWords := 0

	flush := func() {
		if currentWords == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: strings.Join(current, "\n\n"), Words: currentWords})
	}

	carryOverlap := func() {
		tail := lastNWords(current, cfg.OverlapWords)
		current = nil
		currentWords = 0
		if tail != "" {
			current = []string{tail}
			currentWords = wordCount(tail)
		}
	}

	for _, p := range paragraphs {
		pWords := wordCount(p)

		if currentWords > 0 && currentWords+pWords > cfg.MaxWords {
			flush()
			carryOverlap()
		}

		current = append(current, p)
		currentWords += pWords

		if currentWords >= cfg.TargetWords {
			flush()
			carryOverlap()
		}
	}
	flush()

	return mergeUndersized(chunks, cfg.MinWords)
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// lastNWords returns the trailing n words across the already-accumulated
// paragraphs, joined back into a single string, for overlap carry-forward.
func lastNWords(paragraphs []string, n int) string {
	if n <= 0 || len(paragraphs) == 0 {
		return ""
	}
	joined := strings.Join(paragraphs, " ")
	words := strings.Fields(joined)
	if len(words) <= n {
		return joined
	}
	return strings.Join(words[len(words)-n:], " ")
}

// mergeUndersized folds every chunk under minWords into its predecessor,
// except the last chunk, which is kept regardless of size, and assigns
// final sequential indices.
func mergeUndersized(chunks []Chunk, minWords int) []Chunk {
	if len(chunks) <= 1 {
		return reindex(chunks)
	}
	merged := []Chunk{chunks[0]}
	for i := 1; i < len(chunks); i++ {
		c := chunks[i]
		isLast := i == len(chunks)-1
		if c.Words < minWords && !isLast {
			prev := merged[len(merged)-1]
			prev.Text = prev.Text + "\n\n" + c.Text
			prev.Words += c.Words
			merged[len(merged)-1] = prev
			continue
		}
		merged = append(merged, c)
	}
	return reindex(merged)
}

func reindex(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}
