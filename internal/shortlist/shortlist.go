// Package shortlist implements the pre-model source ranking pipeline:
// seed URL extraction, candidate collection, hybrid scoring, and
// domain-diverse top-k selection, before the first LLM call is made.
package shortlist

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/urlnorm"
)

// Candidate is one scored source prior to final selection.
type Candidate struct {
	URL           string
	Title         string
	ExtractedText string
	Score         float64
	Reasons       []string
	FirstSeenIdx  int
	IsSeed        bool
}

// Config bounds the pipeline's network and compute cost.
type Config struct {
	MaxCandidates int
	MaxFetchURLs  int
	TopK          int
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{MaxCandidates: 40, MaxFetchURLs: 20, TopK: 8}
}

// SearchProvider is an optional collaborator returning candidate URLs for
// a text query (e.g. a web search API). A nil SearchProvider simply
// contributes no extra candidates.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// LinkExpander returns the outbound links of a seed URL, used for one-hop
// expansion.
type LinkExpander interface {
	Links(ctx context.Context, url string) ([]string, error)
}

// Shortlist ranks candidate sources for a prompt before the first model
// call.
type Shortlist struct {
	fetcher  llm.HTTPFetcher
	embedder llm.EmbeddingClient
	search   SearchProvider
	expander LinkExpander
	cfg      Config
}

func New(fetcher llm.HTTPFetcher, embedder llm.EmbeddingClient, search SearchProvider, expander LinkExpander, cfg Config) *Shortlist {
	if cfg.MaxCandidates == 0 {
		cfg = DefaultConfig()
	}
	return &Shortlist{fetcher: fetcher, embedder: embedder, search: search, expander: expander, cfg: cfg}
}

var urlPattern = regexp.MustCompile(`https?://[^\s)\]"]+`)
var bareDomainPattern = regexp.MustCompile(`\b([a-z0-9-]+\.)+[a-z]{2,}\b`)

// ExtractSeedURLs pulls explicit http(s) URLs and bare domains out of a
// prompt, normalizing bare domains to https://. Returned order is
// first-seen.
func ExtractSeedURLs(prompt string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range urlPattern.FindAllString(prompt, -1) {
		if n, err := urlnorm.Normalize(m); err == nil && !seen[n] {
			seen[n] = true
			out = append(out, m)
		}
	}
	// Only look for bare domains in the remainder, so "example.com" inside
	// an already-matched full URL isn't double counted.
	remainder := urlPattern.ReplaceAllString(prompt, " ")
	for _, m := range bareDomainPattern.FindAllString(remainder, -1) {
		if n, err := urlnorm.Normalize(m); err == nil && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// StripURLs removes URL-like tokens from text, producing the query_text
// used for keyphrase extraction and search.
func StripURLs(prompt string) string {
	stripped := urlPattern.ReplaceAllString(prompt, " ")
	stripped = bareDomainPattern.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(regexp.MustCompile(`\s+`).ReplaceAllString(stripped, " "))
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "is": true, "are": true,
	"what": true, "how": true, "summarize": true, "please": true, "with": true,
}

// Keyphrases extracts a small set of salient tokens from query text as a
// fallback when no dedicated extraction model is configured.
func Keyphrases(queryText string) []string {
	words := strings.Fields(strings.ToLower(queryText))
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= 8 {
			break
		}
	}
	return out
}

// Result is the pipeline's output: ranked candidates and a compact
// model-facing context block.
type Result struct {
	Candidates []Candidate
	Context    string
}

// Run executes the full pipeline for one prompt.
func (s *Shortlist) Run(ctx context.Context, prompt string) (*Result, error) {
	seeds := ExtractSeedURLs(prompt)
	queryText := StripURLs(prompt)
	keyphrases := Keyphrases(queryText)

	candidates := s.collectCandidates(ctx, seeds, queryText)
	if len(candidates) > s.cfg.MaxCandidates {
		candidates = candidates[:s.cfg.MaxCandidates]
	}

	s.fetchText(ctx, candidates)
	s.score(ctx, candidates, queryText, keyphrases)

	selected := diversityTopK(candidates, s.cfg.TopK)
	selected = ensureSeedsPresent(selected, candidates, seeds)

	return &Result{Candidates: selected, Context: renderContext(selected)}, nil
}

func (s *Shortlist) collectCandidates(ctx context.Context, seeds []string, queryText string) []Candidate {
	var candidates []Candidate
	seen := map[string]bool{}
	idx := 0
	add := func(url string, isSeed bool) {
		n, err := urlnorm.Normalize(url)
		if err != nil || seen[n] {
			return
		}
		seen[n] = true
		candidates = append(candidates, Candidate{URL: url, FirstSeenIdx: idx, IsSeed: isSeed})
		idx++
	}
	for _, seed := range seeds {
		add(seed, true)
	}
	if s.search != nil && queryText != "" {
		results, err := s.search.Search(ctx, queryText, s.cfg.MaxCandidates)
		if err == nil {
			for _, r := range results {
				add(r, false)
			}
		}
	}
	if s.expander != nil {
		for _, seed := range seeds {
			links, err := s.expander.Links(ctx, seed)
			if err != nil {
				continue
			}
			for _, l := range links {
				add(l, false)
			}
		}
	}
	return candidates
}

func (s *Shortlist) fetchText(ctx context.Context, candidates []Candidate) {
	fetched := 0
	for i := range candidates {
		if fetched >= s.cfg.MaxFetchURLs {
			return
		}
		if s.fetcher == nil {
			return
		}
		res, err := s.fetcher.Fetch(ctx, candidates[i].URL)
		if err != nil {
			candidates[i].Reasons = append(candidates[i].Reasons, "fetch_error")
			continue
		}
		candidates[i].ExtractedText = extractMainText(string(res.Body))
		fetched++
	}
}

// extractMainText is a conservative HTML-stripping extraction: it is not a
// full readability algorithm, only enough to drop markup noise before
// scoring and display.
func extractMainText(body string) string {
	noTags := regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`).ReplaceAllString(body, " ")
	return strings.TrimSpace(regexp.MustCompile(`\s+`).ReplaceAllString(noTags, " "))
}

var utilityLinkPattern = regexp.MustCompile(`(?i)(login|signup|sign-in|privacy|terms|cookie|subscribe)`)

func (s *Shortlist) score(ctx context.Context, candidates []Candidate, queryText string, keyphrases []string) {
	var queryVec []float32
	if s.embedder != nil && queryText != "" {
		if vecs, err := s.embedder.Embed(ctx, []string{queryText}); err == nil && len(vecs) == 1 {
			queryVec = vecs[0]
		}
	}

	var lastDomain string
	for i := range candidates {
		c := &candidates[i]
		var score float64

		if queryVec != nil && c.ExtractedText != "" && s.embedder != nil {
			if docVecs, err := s.embedder.Embed(ctx, []string{c.ExtractedText}); err == nil && len(docVecs) == 1 {
				score += cosine(queryVec, docVecs[0])
			}
		}

		lower := strings.ToLower(c.ExtractedText)
		for _, kp := range keyphrases {
			if strings.Contains(lower, kp) {
				score += 0.05
				c.Reasons = append(c.Reasons, fmt.Sprintf("keyphrase:%s", kp))
			}
		}

		domain := domainOf(c.URL)
		if domain != "" && domain == lastDomain {
			score += 0.05
			c.Reasons = append(c.Reasons, "same_domain_continuity")
		}
		lastDomain = domain

		if len(c.ExtractedText) < 200 {
			score -= 0.2
			c.Reasons = append(c.Reasons, "short_or_noisy")
		}
		if utilityLinkPattern.MatchString(c.URL) {
			score -= 0.3
			c.Reasons = append(c.Reasons, "utility_link_pattern")
		}
		if c.IsSeed {
			score += 0.1
		}

		c.Score = score
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(f float64) float64 {
	if f <= 0 {
		return 0
	}
	x := f
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}

func domainOf(rawURL string) string {
	n, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.SplitN(strings.TrimPrefix(strings.TrimPrefix(n, "https://"), "http://"), "/", 2)
	return parts[0]
}

// diversityTopK selects the top-scoring candidates with a stable sort by
// (score desc, first_seen asc), preferring domain diversity: at most one
// candidate per domain is taken in the first pass, then remaining slots
// are filled by score regardless of domain.
func diversityTopK(candidates []Candidate, k int) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].FirstSeenIdx < sorted[j].FirstSeenIdx
	})

	var out []Candidate
	seenDomain := map[string]bool{}
	for _, c := range sorted {
		if len(out) >= k {
			break
		}
		d := domainOf(c.URL)
		if seenDomain[d] {
			continue
		}
		seenDomain[d] = true
		out = append(out, c)
	}
	for _, c := range sorted {
		if len(out) >= k {
			break
		}
		found := false
		for _, o := range out {
			if o.URL == c.URL {
				found = true
				break
			}
		}
		if !found {
			out = append(out, c)
		}
	}
	return out
}

// ensureSeedsPresent guarantees explicit seed URLs appear in the returned
// set even if they ranked below the cutoff.
func ensureSeedsPresent(selected, all []Candidate, seeds []string) []Candidate {
	present := map[string]bool{}
	for _, s := range selected {
		present[s.URL] = true
	}
	for _, seedURL := range seeds {
		if present[seedURL] {
			continue
		}
		for _, c := range all {
			if c.URL == seedURL {
				selected = append(selected, c)
				present[seedURL] = true
				break
			}
		}
	}
	return selected
}

func renderContext(candidates []Candidate) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "### %s\n%s\n\n", c.URL, truncate(c.ExtractedText, 2000))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
