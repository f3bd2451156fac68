package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/northlight-ai/corex/internal/cache"
	"github.com/northlight-ai/corex/internal/chunk"
	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/index"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/urlnorm"
)

// SearchProvider is the configured web search collaborator web_search
// dispatches to.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Deps bundles the collaborators the built-in tools share.
type Deps struct {
	Cache     *cache.Cache
	Index     *index.HybridIndex
	Fetcher   llm.HTTPFetcher
	Search    SearchProvider
	SessionID func() string // returns the active session id, "" if none
	Clock     llm.Clock
	Logger    *slog.Logger
}

// RegisterBuiltins constructs and registers every built-in tool against r.
func RegisterBuiltins(r *Registry, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = llm.SystemClock{}
	}
	r.Register(&webSearchTool{d})
	r.Register(&getURLContentTool{d})
	r.Register(&getURLDetailsTool{d})
	r.Register(&extractLinksTool{d})
	r.Register(&getLinkSummariesTool{d})
	r.Register(&getRelevantContentTool{d})
	r.Register(&getFullContentTool{d})
	r.Register(&listSectionsTool{d})
	r.Register(&summarizeSectionTool{d})
	r.Register(&saveFindingTool{d})
	r.Register(&queryResearchMemoryTool{d})
	r.Register(&saveMemoryTool{d})
}

// --- web_search ---

type webSearchTool struct{ d Deps }

func (t *webSearchTool) Name() string { return "web_search" }
func (t *webSearchTool) Definition() Definition {
	return Definition{
		Name:        "web_search",
		Description: "Search the web for a query and return candidate result URLs.",
		Parameters:  map[string]ParamDef{"query": {Type: "string", Required: true, Description: "search query"}},
		Category:    "retrieval",
	}
}
func (t *webSearchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query, err := parseStringParam(args, "query", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	if t.d.Search == nil {
		return &Result{OK: false, Error: "no search provider configured"}, nil
	}
	urls, err := t.d.Search.Search(ctx, query, 10)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	return &Result{OK: true, Value: urls}, nil
}

// --- get_url_content ---

type getURLContentTool struct{ d Deps }

func (t *getURLContentTool) Name() string { return "get_url_content" }
func (t *getURLContentTool) Definition() Definition {
	return Definition{
		Name:        "get_url_content",
		Description: "Fetch one or more URLs and return their stripped text content.",
		Parameters:  map[string]ParamDef{"urls": {Type: "array", Items: "string", Required: true}},
		Category:    "retrieval",
	}
}
func (t *getURLContentTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	urls, err := parseStringArrayParam(args, "urls", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	out := map[string]string{}
	for _, u := range urls {
		if err := RejectLocalTarget(u); err != nil {
			return &Result{OK: false, Error: err.Error()}, nil
		}
		res, err := t.d.Fetcher.Fetch(ctx, u)
		if err != nil {
			out[u] = fmt.Sprintf("fetch_error: %v", err)
			continue
		}
		text := stripHTML(string(res.Body))
		if _, err := t.d.Cache.Put(u, text, nil, 0); err != nil {
			t.d.Logger.Warn("get_url_content: cache put failed", slog.String("url", u), slog.Any("err", err))
		}
		out[u] = text
	}
	return &Result{OK: true, Value: out}, nil
}

// --- get_url_details ---

type getURLDetailsTool struct{ d Deps }

func (t *getURLDetailsTool) Name() string { return "get_url_details" }
func (t *getURLDetailsTool) Definition() Definition {
	return Definition{
		Name:        "get_url_details",
		Description: "Fetch one or more URLs and return text content plus discovered links.",
		Parameters:  map[string]ParamDef{"urls": {Type: "array", Items: "string", Required: true}},
		Category:    "retrieval",
	}
}
func (t *getURLDetailsTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	urls, err := parseStringArrayParam(args, "urls", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	type detail struct {
		Text  string            `json:"text"`
		Links []datatypes.Link  `json:"links"`
	}
	out := map[string]detail{}
	for _, u := range urls {
		if err := RejectLocalTarget(u); err != nil {
			return &Result{OK: false, Error: err.Error()}, nil
		}
		res, err := t.d.Fetcher.Fetch(ctx, u)
		if err != nil {
			continue
		}
		text := stripHTML(string(res.Body))
		links := extractLinks(string(res.Body))
		if _, err := t.d.Cache.Put(u, text, links, 0); err != nil {
			t.d.Logger.Warn("get_url_details: cache put failed", slog.String("url", u), slog.Any("err", err))
		}
		out[u] = detail{Text: text, Links: links}
	}
	return &Result{OK: true, Value: out}, nil
}

// --- extract_links ---

type extractLinksTool struct{ d Deps }

func (t *extractLinksTool) Name() string { return "extract_links" }
func (t *extractLinksTool) Definition() Definition {
	return Definition{
		Name:        "extract_links",
		Description: "Return the cached outbound links for one or more URLs.",
		Parameters: map[string]ParamDef{
			"urls":  {Type: "array", Items: "string", Required: true},
			"query": {Type: "string"},
		},
		Category: "retrieval",
	}
}
func (t *extractLinksTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	urls, err := parseStringArrayParam(args, "urls", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	out := map[string][]datatypes.Link{}
	for _, u := range urls {
		if err := RejectLocalTarget(u); err != nil {
			return &Result{OK: false, Error: err.Error()}, nil
		}
		entry, ok, err := t.d.Cache.Get(u)
		if err != nil || !ok {
			continue
		}
		out[u] = entry.Links
	}
	return &Result{OK: true, Value: out}, nil
}

// --- get_link_summaries ---

type getLinkSummariesTool struct{ d Deps }

func (t *getLinkSummariesTool) Name() string { return "get_link_summaries" }
func (t *getLinkSummariesTool) Definition() Definition {
	return Definition{
		Name:        "get_link_summaries",
		Description: "Return cached per-URL summaries, generating them on demand.",
		Parameters:  map[string]ParamDef{"urls": {Type: "array", Items: "string", Required: true}},
		Category:    "retrieval",
	}
}
func (t *getLinkSummariesTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	urls, err := parseStringArrayParam(args, "urls", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	out := map[string]string{}
	for _, u := range urls {
		if err := RejectLocalTarget(u); err != nil {
			return &Result{OK: false, Error: err.Error()}, nil
		}
		entry, ok, err := t.d.Cache.Get(u)
		if err != nil || !ok {
			out[u] = ""
			continue
		}
		out[u] = summarizeText(entry.ContentText, 500)
	}
	return &Result{OK: true, Value: out}, nil
}

// --- get_relevant_content ---

type getRelevantContentTool struct{ d Deps }

func (t *getRelevantContentTool) Name() string { return "get_relevant_content" }
func (t *getRelevantContentTool) Definition() Definition {
	return Definition{
		Name:        "get_relevant_content",
		Description: "Hybrid dense+lexical retrieval over cached content, optionally scoped to URLs or a section.",
		Parameters: map[string]ParamDef{
			"urls":        {Type: "array", Items: "string"},
			"section_ref": {Type: "string"},
			"section_id":  {Type: "string"},
			"query":       {Type: "string", Required: true},
			"k":           {Type: "integer"},
		},
		Category: "retrieval",
	}
}
func (t *getRelevantContentTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query, err := parseStringParam(args, "query", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	urls, _ := parseStringArrayParam(args, "urls", false)
	sectionRef, _ := parseStringParam(args, "section_ref", false)
	sectionID, _ := parseStringParam(args, "section_id", false)
	k, _ := parseIntParam(args, "k", 5)

	// section_ref wins over section_id; accept legacy
	// corpus://cache/<id>/<section-id> on read.
	effectiveSectionID := sectionID
	if sectionRef != "" {
		effectiveSectionID = parseSectionRef(sectionRef)
	}

	cacheIDs := make([]string, 0, len(urls))
	for _, u := range urls {
		id, err := resolveCacheID(t.d.Cache, u)
		if err == nil {
			cacheIDs = append(cacheIDs, id)
		}
	}

	results, err := t.d.Index.SearchChunks(ctx, query, index.SearchOptions{URLs: cacheIDs, SectionID: effectiveSectionID, K: k})
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	return &Result{OK: true, Value: results}, nil
}

// parseSectionRef accepts both "corpus://cache/<id>#section=<section-id>"
// and the legacy "corpus://cache/<id>/<section-id>" form, returning just
// the section id component.
func parseSectionRef(ref string) string {
	if i := strings.Index(ref, "#section="); i >= 0 {
		return ref[i+len("#section="):]
	}
	parts := strings.Split(strings.TrimPrefix(ref, "corpus://cache/"), "/")
	if len(parts) == 2 {
		return parts[1]
	}
	return ref
}

func resolveCacheID(c *cache.Cache, raw string) (string, error) {
	entry, ok, err := c.Get(raw)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("not found: %s", raw)
	}
	return entry.CacheID, nil
}

// --- get_full_content ---

type getFullContentTool struct{ d Deps }

func (t *getFullContentTool) Name() string { return "get_full_content" }
func (t *getFullContentTool) Definition() Definition {
	return Definition{
		Name:        "get_full_content",
		Description: "Return the full cached text for one or more URLs or corpus handles.",
		Parameters:  map[string]ParamDef{"urls": {Type: "array", Items: "string", Required: true}},
		Category:    "retrieval",
	}
}
func (t *getFullContentTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	urls, err := parseStringArrayParam(args, "urls", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	out := map[string]string{}
	for _, u := range urls {
		if !urlnorm.IsHandle(u) {
			if err := RejectLocalTarget(u); err != nil {
				return &Result{OK: false, Error: err.Error()}, nil
			}
		}
		entry, ok, err := t.d.Cache.Get(u)
		if err != nil || !ok {
			out[u] = ""
			continue
		}
		out[u] = entry.ContentText
	}
	return &Result{OK: true, Value: out}, nil
}

// --- list_sections (local-corpus only) ---

type listSectionsTool struct{ d Deps }

func (t *listSectionsTool) Name() string { return "list_sections" }
func (t *listSectionsTool) Definition() Definition {
	return Definition{
		Name:        "list_sections",
		Description: "List canonical section references for a local corpus handle.",
		Parameters:  map[string]ParamDef{"handle": {Type: "string", Required: true}},
		Category:    "retrieval",
		Guideline:   "Prefer list_sections then summarize_section over get_url_content when a section is identifiable.",
	}
}
func (t *listSectionsTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	handle, err := parseStringParam(args, "handle", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	if !urlnorm.IsHandle(handle) {
		return &Result{OK: false, Error: "list_sections only operates on local corpus handles"}, nil
	}
	entry, ok, err := t.d.Cache.Get(handle)
	if err != nil || !ok {
		return &Result{OK: false, Error: "not found"}, nil
	}
	sections := chunk.ExtractSections(entry.ContentText)
	idx := chunk.BuildSectionIndex(sections)
	var refs []string
	for _, s := range idx.Canonical() {
		refs = append(refs, fmt.Sprintf("%s#section=%s", handle, s.SectionID))
	}
	return &Result{OK: true, Value: refs}, nil
}

// --- summarize_section (local-corpus only) ---

type summarizeSectionTool struct{ d Deps }

func (t *summarizeSectionTool) Name() string { return "summarize_section" }
func (t *summarizeSectionTool) Definition() Definition {
	return Definition{
		Name:        "summarize_section",
		Description: "Summarize one canonical section of a local corpus document.",
		Parameters: map[string]ParamDef{
			"section_ref": {Type: "string"},
			"section_id":  {Type: "string"},
		},
		Category: "retrieval",
	}
}
func (t *summarizeSectionTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	sectionRef, _ := parseStringParam(args, "section_ref", false)
	sectionID, _ := parseStringParam(args, "section_id", false)
	if sectionRef == "" && sectionID == "" {
		return &Result{OK: false, Error: "one of section_ref or section_id is required"}, nil
	}

	var handle, targetID string
	if sectionRef != "" {
		handle = strings.SplitN(sectionRef, "#section=", 2)[0]
		targetID = parseSectionRef(sectionRef)
	} else {
		targetID = sectionID
	}
	if handle == "" {
		return &Result{OK: false, Error: "summarize_section requires a section_ref with a corpus handle"}, nil
	}

	entry, ok, err := t.d.Cache.Get(handle)
	if err != nil || !ok {
		return &Result{OK: false, Error: "not found"}, nil
	}
	sections := chunk.ExtractSections(entry.ContentText)
	idx := chunk.BuildSectionIndex(sections)
	section, ok := idx.Resolve(targetID)
	if !ok {
		return &Result{OK: false, Error: fmt.Sprintf("unknown section %q", targetID)}, nil
	}
	length := section.ByteEnd - section.ByteStart
	if err := RejectTinySection(section.Canonical, length, chunk.MinSectionBytes); err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	text := entry.ContentText[section.ByteStart:section.ByteEnd]
	return &Result{OK: true, Value: summarizeText(text, 800)}, nil
}

// --- save_finding ---

type saveFindingTool struct{ d Deps }

func (t *saveFindingTool) Name() string { return "save_finding" }
func (t *saveFindingTool) Definition() Definition {
	return Definition{
		Name:        "save_finding",
		Description: "Persist a research insight to memory, scoped to the active session.",
		Parameters:  map[string]ParamDef{"text": {Type: "string", Required: true}},
		Category:    "memory",
	}
}
func (t *saveFindingTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	text, err := parseStringParam(args, "text", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	sessionID := ""
	if t.d.SessionID != nil {
		sessionID = t.d.SessionID()
	}
	id, err := t.d.Index.SaveFinding(ctx, sessionID, text, t.d.Clock.Now())
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	return &Result{OK: true, Value: id}, nil
}

// --- query_research_memory ---

type queryResearchMemoryTool struct{ d Deps }

func (t *queryResearchMemoryTool) Name() string { return "query_research_memory" }
func (t *queryResearchMemoryTool) Definition() Definition {
	return Definition{
		Name:        "query_research_memory",
		Description: "Semantically search research findings, scoped to the active session when present.",
		Parameters:  map[string]ParamDef{"query": {Type: "string", Required: true}},
		Category:    "memory",
	}
}
func (t *queryResearchMemoryTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query, err := parseStringParam(args, "query", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	sessionID := ""
	if t.d.SessionID != nil {
		sessionID = t.d.SessionID()
	}
	results, err := t.d.Index.QueryResearchMemory(ctx, sessionID, query, 5)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	return &Result{OK: true, Value: results}, nil
}

// --- save_memory ---

type saveMemoryTool struct{ d Deps }

func (t *saveMemoryTool) Name() string { return "save_memory" }
func (t *saveMemoryTool) Definition() Definition {
	return Definition{
		Name:        "save_memory",
		Description: "Save a global user memory, deduplicating against near-identical existing entries.",
		Parameters: map[string]ParamDef{
			"text": {Type: "string", Required: true},
			"tags": {Type: "array", Items: "string"},
		},
		Category: "memory",
	}
}
func (t *saveMemoryTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	text, err := parseStringParam(args, "text", true)
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	tags, _ := parseStringArrayParam(args, "tags", false)
	id, err := t.d.Index.SaveMemory(ctx, text, tags, t.d.Clock.Now())
	if err != nil {
		return &Result{OK: false, Error: err.Error()}, nil
	}
	return &Result{OK: true, Value: id}, nil
}

// --- shared helpers ---

func stripHTML(body string) string {
	var b strings.Builder
	inTag := false
	for _, r := range body {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func extractLinks(body string) []datatypes.Link {
	var links []datatypes.Link
	rest := body
	for {
		i := strings.Index(rest, "href=\"")
		if i < 0 {
			break
		}
		rest = rest[i+len("href=\""):]
		j := strings.Index(rest, "\"")
		if j < 0 {
			break
		}
		url := rest[:j]
		if strings.HasPrefix(url, "http") {
			links = append(links, datatypes.Link{URL: url})
		}
		rest = rest[j:]
	}
	return links
}

func summarizeText(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "..."
}
