// Package chunk implements token-aware sentence chunking and deterministic
// section extraction over normalized document text.
package chunk

import (
	"regexp"
	"strings"

	"github.com/northlight-ai/corex/internal/tokenizer"
)

// Options configures one chunking pass.
type Options struct {
	ChunkSizeTokens  int
	OverlapTokens    int
	MaxSeqLenTokens  int // embedding model's hard ceiling; 0 means no cap
	Tokenizer        tokenizer.Tokenizer
}

// Piece is one produced chunk, prior to persistence.
type Piece struct {
	Index      int
	Text       string
	TokenCount int
}

var sentenceBoundary = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)

// splitSentences performs a preferred-path sentence split. It never drops
// characters: any trailing remainder that didn't end in punctuation is
// still returned as a final sentence.
func splitSentences(text string) []string {
	var sentences []string
	rest := text
	for {
		loc := sentenceBoundary.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		sentence := rest[loc[2]:loc[3]]
		sentences = append(sentences, sentence)
		rest = rest[loc[1]:]
		if loc[1] == 0 {
			break
		}
	}
	if strings.TrimSpace(rest) != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// effectiveWindow returns the actual token window honoring both the
// configured chunk size and the embedding model's max sequence length.
func effectiveWindow(opts Options) int {
	window := opts.ChunkSizeTokens
	if opts.MaxSeqLenTokens > 0 && opts.MaxSeqLenTokens < window {
		window = opts.MaxSeqLenTokens
	}
	if window <= 0 {
		window = 256
	}
	return window
}

// Chunk splits text into overlapping windows of sentences. Determinism:
// identical input and Options always produce identical boundaries, since
// the algorithm is a deterministic greedy pack with no randomness or
// wall-clock dependence.
func Chunk(text string, opts Options) []Piece {
	tok := opts.Tokenizer
	if tok == nil {
		tok = tokenizer.CharApprox{}
	}
	window := effectiveWindow(opts)
	overlap := opts.OverlapTokens
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= window {
		overlap = window - 1
	}

	sentences := splitSentences(text)
	// Long sentences are pre-split by token windows so the packer never
	// has to emit a single chunk larger than the window.
	var units []string
	for _, s := range sentences {
		units = append(units, splitLongSentence(s, window, tok)...)
	}

	var pieces []Piece
	var current []string
	var currentTokens int
	index := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, " "))
		if text == "" {
			return
		}
		pieces = append(pieces, Piece{Index: index, Text: text, TokenCount: tok.Count(text)})
		index++
	}

	overlapUnits := func() []string {
		if overlap <= 0 || len(current) == 0 {
			return nil
		}
		var kept []string
		tokens := 0
		for i := len(current) - 1; i >= 0; i-- {
			c := tok.Count(current[i])
			if tokens+c > overlap {
				break
			}
			tokens += c
			kept = append([]string{current[i]}, kept...)
		}
		return kept
	}

	for _, u := range units {
		uTokens := tok.Count(u)
		if currentTokens+uTokens > window && len(current) > 0 {
			flush()
			carry := overlapUnits()
			current = append([]string{}, carry...)
			currentTokens = 0
			for _, c := range current {
				currentTokens += tok.Count(c)
			}
		}
		current = append(current, u)
		currentTokens += uTokens
	}
	flush()

	return pieces
}

// splitLongSentence breaks a sentence exceeding the window into
// consecutive word-boundary pieces whose joined text fits the window, so a
// single run-on sentence never forces a chunk above the cap (a lone word
// longer than the window still becomes a piece of its own). The pieces are
// cut back to back: no overlap is carried from one piece into the next.
func splitLongSentence(sentence string, window int, tok tokenizer.Tokenizer) []string {
	if tok.Count(sentence) <= window {
		return []string{sentence}
	}
	words := strings.Fields(sentence)
	var out []string
	var cur []string
	for _, w := range words {
		if len(cur) > 0 && tok.Count(strings.Join(cur, " ")+" "+w) > window {
			out = append(out, strings.Join(cur, " "))
			cur = nil
		}
		cur = append(cur, w)
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}
