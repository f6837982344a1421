package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/config"
)

func paragraph(words int, marker string) string {
	w := make([]string, words)
	for i := range w {
		w[i] = marker
	}
	return strings.Join(w, " ")
}

func TestSplitEmitsAtTargetWords(t *testing.T) {
	cfg := config.ChunkerConfig{TargetWords: 100, MinWords: 50, MaxWords: 150, OverlapWords: 10}
	text := strings.Join([]string{paragraph(60, "a"), paragraph(60, "b")}, "\n\n")

	chunks := Split(text, cfg)
	require.Len(t, chunks, 2)
	assert.GreaterOrEqual(t, chunks[0].Words, cfg.TargetWords)
}

func TestSplitMergesUndersizedChunkExceptLast(t *testing.T) {
	cfg := config.ChunkerConfig{TargetWords: 100, MinWords: 50, MaxWords: 150, OverlapWords: 0}
	text := strings.Join([]string{paragraph(100, "a"), paragraph(10, "b"), paragraph(145, "c"), paragraph(10, "d")}, "\n\n")

	// Raw chunks are 100, 10, 145, 10 words: the inner 10-word chunk folds
	// into its predecessor, the trailing one is kept as-is.
	chunks := Split(text, cfg)
	require.Len(t, chunks, 3)
	assert.Equal(t, 110, chunks[0].Words)
	assert.Equal(t, 10, chunks[2].Words)
}

func TestSplitCarriesOverlapIntoNextChunk(t *testing.T) {
	cfg := config.ChunkerConfig{TargetWords: 50, MinWords: 10, MaxWords: 80, OverlapWords: 5}
	text := strings.Join([]string{paragraph(50, "a"), paragraph(60, "b")}, "\n\n")

	chunks := Split(text, cfg)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "a a a a a"))
}

func TestSplitIsDeterministic(t *testing.T) {
	cfg := config.ChunkerConfig{TargetWords: 100, MinWords: 50, MaxWords: 150, OverlapWords: 10}
	text := strings.Join([]string{paragraph(120, "x"), paragraph(130, "y"), paragraph(40, "z")}, "\n\n")

	first := Split(text, cfg)
	second := Split(text, cfg)
	assert.Equal(t, first, second)
}

func TestSplitEmptyTextReturnsNoChunks(t *testing.T) {
	cfg := config.ChunkerConfig{TargetWords: 100, MinWords: 50, MaxWords: 150, OverlapWords: 10}
	assert.Empty(t, Split(" \n\n ", cfg))
}
