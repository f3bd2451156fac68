package llm

import "regexp"

// secretPattern pairs a compiled regex with the label it redacts to.
type secretPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// secretPatterns is ordered most-specific first: the Anthropic "sk-ant-"
// key shape is tried before the generic OpenAI "sk-" shape so Anthropic
// keys get their own label.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), "[REDACTED:anthropic_key]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED:openai_key]"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`), "[REDACTED:google_key]"},
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`), "[REDACTED:bearer_token]"},
	{regexp.MustCompile(`(postgres|mysql|mongodb)://[^\s]+@`), "${1}://[REDACTED]@"},
}

// SafeLogString strips known secret shapes from a string before it reaches
// a log line. Unmatched input passes through unchanged.
func SafeLogString(s string) string {
	for _, p := range secretPatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
