package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northlight-ai/corex/internal/cache"
	"github.com/northlight-ai/corex/internal/index"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/storage/badger"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t)%7) + float32(j)*0.01
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) ModelID() string { return "fake-embed-v1" }
func (f *fakeEmbedder) Dimensions() int { return f.dim }

type fakeFetcher struct {
	bodies map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*llm.FetchResult, error) {
	return &llm.FetchResult{URL: url, StatusCode: 200, Body: []byte(f.bodies[url]), ContentType: "text/html", FetchedAt: time.Now()}, nil
}

type fakeSearch struct{ urls []string }

func (f *fakeSearch) Search(ctx context.Context, query string, limit int) ([]string, error) {
	return f.urls, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	db, err := badger.Open(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c, err := cache.New(db, nil, llm.SystemClock{}, nil)
	require.NoError(t, err)

	idx, err := index.Open(index.Config{DBPath: ":memory:", EmbeddingDim: 4}, &fakeEmbedder{dim: 4}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	c.SetInvalidator(idx)

	return Deps{
		Cache:     c,
		Index:     idx,
		Fetcher:   &fakeFetcher{bodies: map[string]string{"https://example.com/a": `<p>hello <a href="https://example.com/b">b</a></p>`}},
		Search:    &fakeSearch{urls: []string{"https://example.com/a"}},
		SessionID: func() string { return "session-1" },
	}
}

func TestWebSearchTool(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, newTestDeps(t))

	res := r.Dispatch(context.Background(), "web_search", map[string]any{"query": "hello"})
	require.True(t, res.OK)
	require.Equal(t, []string{"https://example.com/a"}, res.Value)
}

func TestWebSearchToolMissingProvider(t *testing.T) {
	deps := newTestDeps(t)
	deps.Search = nil
	r := NewRegistry()
	RegisterBuiltins(r, deps)

	res := r.Dispatch(context.Background(), "web_search", map[string]any{"query": "hello"})
	require.False(t, res.OK)
}

func TestGetURLContentCachesAndStrips(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	RegisterBuiltins(r, deps)

	res := r.Dispatch(context.Background(), "get_url_content", map[string]any{"urls": []any{"https://example.com/a"}})
	require.True(t, res.OK)
	out := res.Value.(map[string]string)
	require.Contains(t, out["https://example.com/a"], "hello b")

	entry, ok, err := deps.Cache.Get("https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, entry.ContentText, "hello")
}

func TestGetURLContentRejectsLocalPath(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, newTestDeps(t))

	res := r.Dispatch(context.Background(), "get_url_content", map[string]any{"urls": []any{"/etc/passwd"}})
	require.False(t, res.OK)
}

func TestGetURLDetailsExtractsLinks(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, newTestDeps(t))

	res := r.Dispatch(context.Background(), "get_url_details", map[string]any{"urls": []any{"https://example.com/a"}})
	require.True(t, res.OK)
}

func TestExtractLinksReadsFromCache(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	RegisterBuiltins(r, deps)

	_, err := deps.Cache.Put("https://example.com/a", "body", nil, time.Hour)
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), "extract_links", map[string]any{"urls": []any{"https://example.com/a"}})
	require.True(t, res.OK)
}

func TestSaveFindingAndQueryResearchMemory(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, newTestDeps(t))
	ctx := context.Background()

	res := r.Dispatch(ctx, "save_finding", map[string]any{"text": "the sky is blue at noon"})
	require.True(t, res.OK)
	require.NotEmpty(t, res.Value)

	res = r.Dispatch(ctx, "query_research_memory", map[string]any{"query": "sky color"})
	require.True(t, res.OK)
}

func TestSaveMemory(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, newTestDeps(t))

	res := r.Dispatch(context.Background(), "save_memory", map[string]any{"text": "prefers dark mode", "tags": []any{"preference"}})
	require.True(t, res.OK)
	require.NotEmpty(t, res.Value)
}

func TestListSectionsRejectsNonHandle(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, newTestDeps(t))

	res := r.Dispatch(context.Background(), "list_sections", map[string]any{"handle": "https://example.com/a"})
	require.False(t, res.OK)
}

func TestListSectionsAndSummarizeSection(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	RegisterBuiltins(r, deps)

	longBody := "# Intro\n\n" + repeat("word ", 100) + "\n\n# Details\n\n" + repeat("more words ", 100)
	entry, err := deps.Cache.Put("corpus://cache/doc-1", longBody, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entry.CacheID)

	res := r.Dispatch(context.Background(), "list_sections", map[string]any{"handle": "corpus://cache/doc-1"})
	require.True(t, res.OK)
	refs := res.Value.([]string)
	require.NotEmpty(t, refs)

	res = r.Dispatch(context.Background(), "summarize_section", map[string]any{"section_ref": refs[0]})
	require.True(t, res.OK)
}

func TestSummarizeSectionRejectsTinySection(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	RegisterBuiltins(r, deps)

	_, err := deps.Cache.Put("corpus://cache/doc-2", "# Tiny\n\nshort", nil, 0)
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), "summarize_section", map[string]any{"section_ref": "corpus://cache/doc-2#section=tiny"})
	require.False(t, res.OK)
}

func TestParseSectionRefLegacyForm(t *testing.T) {
	require.Equal(t, "intro", parseSectionRef("corpus://cache/doc-1#section=intro"))
	require.Equal(t, "intro", parseSectionRef("corpus://cache/doc-1/intro"))
}

func TestStripHTML(t *testing.T) {
	require.Equal(t, "hello world", stripHTML("<p>hello <b>world</b></p>"))
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
