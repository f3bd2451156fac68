package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// localPathPattern matches inputs that look like filesystem targets
// rather than a cache handle or an http(s) URL: file:// URIs, absolute
// paths, and Windows drive paths.
var localPathPattern = regexp.MustCompile(`^(file://|/|[A-Za-z]:\\)`)

// RejectLocalTarget implements the guardrail all URL-oriented tools share:
// http(s) URLs and corpus:// handles pass, and file:// URIs, absolute
// paths and Windows drive paths are refused before any I/O is attempted.
// Every other shape (bare domains, relative paths, other URL schemes) is
// passed through unchecked.
func RejectLocalTarget(target string) error {
	if strings.HasPrefix(target, "corpus://cache/") {
		return nil
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return nil
	}
	if localPathPattern.MatchString(target) {
		return fmt.Errorf("local filesystem target rejected: %s", target)
	}
	// Bare domains and other non-matching shapes are left to the caller's
	// own URL normalization/fetch error handling.
	return nil
}

// RejectTinySection refuses section-scoped operations on non-canonical or
// undersized sections.
func RejectTinySection(canonical bool, byteLen, minBytes int) error {
	if !canonical {
		return fmt.Errorf("section is not canonical")
	}
	if byteLen < minBytes {
		return fmt.Errorf("section is below the minimum safe size (%d bytes)", minBytes)
	}
	return nil
}
