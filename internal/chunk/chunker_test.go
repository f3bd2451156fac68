package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("This is a sentence. ", 200)
	opts := Options{ChunkSizeTokens: 50, OverlapTokens: 10}
	a := Chunk(text, opts)
	b := Chunk(text, opts)
	require.Equal(t, a, b)
	require.NotEmpty(t, a)
}

func TestChunkOrdering(t *testing.T) {
	text := strings.Repeat("Alpha beta gamma delta. ", 100)
	pieces := Chunk(text, Options{ChunkSizeTokens: 30, OverlapTokens: 5})
	for i, p := range pieces {
		require.Equal(t, i, p.Index)
	}
}

func TestChunkRespectsMaxSeqLength(t *testing.T) {
	text := strings.Repeat("word ", 500)
	pieces := Chunk(text, Options{ChunkSizeTokens: 1000, MaxSeqLenTokens: 20, OverlapTokens: 2})
	for _, p := range pieces {
		require.LessOrEqual(t, p.TokenCount, 20)
	}
}

func TestChunkLongSentenceSplit(t *testing.T) {
	text := strings.Repeat("word ", 300) + "."
	pieces := Chunk(text, Options{ChunkSizeTokens: 20, OverlapTokens: 5})
	require.Greater(t, len(pieces), 1)
}

func TestChunkEmptyText(t *testing.T) {
	pieces := Chunk("", Options{ChunkSizeTokens: 50})
	require.Empty(t, pieces)
}
