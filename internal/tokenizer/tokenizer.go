// Package tokenizer abstracts token counting so the chunker and the
// conversation engine's budget accounting share one source of truth.
// Callers default to the char-based approximation; a precise tokenizer can
// be swapped in behind the same interface without touching call sites.
package tokenizer

import "sync"

// Tokenizer estimates the token count of a string for a given model.
type Tokenizer interface {
	Count(text string) int
}

// charsPerToken is the approximation ratio used when no model-aware
// tokenizer is available: roughly 4 characters per token for English text.
const charsPerToken = 4

// CharApprox is always available and requires no model assets. It is the
// fallback the chunker and engine use when a precise tokenizer cannot load.
type CharApprox struct{}

func (CharApprox) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// Tiktoken wraps a tiktoken-go encoding for exact-ish counts on models that
// share the cl100k/o200k family of byte-pair encodings. It falls back to
// CharApprox for any text that fails to encode rather than erroring, since
// token counting here is advisory (budget estimation), not billing.
type Tiktoken struct {
	mu       sync.Mutex
	encoding tiktokenEncoding
	fallback CharApprox
}

// tiktokenEncoding is the minimal surface corex needs from
// github.com/pkoukk/tiktoken-go's *tiktoken.Tiktoken, isolated behind an
// interface so this package stays testable without the real encoder.
type tiktokenEncoding interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// NewTiktoken builds a Tiktoken counter from an already-constructed
// encoding (callers obtain one via tiktoken.GetEncoding("cl100k_base")).
// Passing a nil encoding makes Count always defer to CharApprox, matching
// the "tokenizer unavailable" boundary case.
func NewTiktoken(encoding tiktokenEncoding) *Tiktoken {
	return &Tiktoken{encoding: encoding}
}

func (t *Tiktoken) Count(text string) int {
	if t == nil || t.encoding == nil {
		return t.fallback.Count(text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	toks := t.encoding.Encode(text, nil, nil)
	if len(toks) == 0 && len(text) > 0 {
		return t.fallback.Count(text)
	}
	return len(toks)
}
