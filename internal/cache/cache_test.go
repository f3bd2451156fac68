package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/storage/badger"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) Invalidate(cacheID string, kind InvalidationKind) error {
	r.calls = append(r.calls, cacheID+":"+string(kind))
	return nil
}

func newTestCache(t *testing.T) (*Cache, *recordingInvalidator, *fakeClock) {
	t.Helper()
	db, err := badger.Open(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	clk := &fakeClock{t: time.Now()}
	inv := &recordingInvalidator{}
	c, err := New(db, inv, clk, nil)
	require.NoError(t, err)
	return c, inv, clk
}

func TestPutGetRoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t)
	entry, err := c.Put("https://example.com/a", "hello world", nil, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, entry.CacheID)

	got, ok, err := c.Get("https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello world", got.ContentText)
}

func TestPutInvalidatesOnContentChange(t *testing.T) {
	c, inv, _ := newTestCache(t)
	_, err := c.Put("https://example.com/a", "v1", nil, time.Hour)
	require.NoError(t, err)
	require.Empty(t, inv.calls, "first write has no prior content to invalidate")

	_, err = c.Put("https://example.com/a", "v2", nil, time.Hour)
	require.NoError(t, err)
	require.Len(t, inv.calls, 1)
	require.Contains(t, inv.calls[0], "chunks")
}

func TestPutDoesNotInvalidateOnUnchangedContent(t *testing.T) {
	c, inv, _ := newTestCache(t)
	_, err := c.Put("https://example.com/a", "same", nil, time.Hour)
	require.NoError(t, err)
	_, err = c.Put("https://example.com/a", "same", nil, time.Hour)
	require.NoError(t, err)
	require.Empty(t, inv.calls)
}

func TestIsFreshRespectsTTL(t *testing.T) {
	c, _, clk := newTestCache(t)
	_, err := c.Put("https://example.com/a", "x", nil, time.Minute)
	require.NoError(t, err)

	fresh, err := c.IsFresh("https://example.com/a")
	require.NoError(t, err)
	require.True(t, fresh)

	clk.t = clk.t.Add(2 * time.Minute)
	fresh, err = c.IsFresh("https://example.com/a")
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestBulkExpire(t *testing.T) {
	c, _, clk := newTestCache(t)
	_, err := c.Put("https://example.com/a", "x", nil, time.Minute)
	require.NoError(t, err)

	clk.t = clk.t.Add(time.Hour)
	n, err := c.BulkExpire(clk.t)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := c.Get("https://example.com/a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLinksHashInvalidation(t *testing.T) {
	c, inv, _ := newTestCache(t)
	_, err := c.Put("https://example.com/a", "body", []datatypes.Link{{URL: "https://x.com"}}, time.Hour)
	require.NoError(t, err)
	_, err = c.Put("https://example.com/a", "body", []datatypes.Link{{URL: "https://y.com"}}, time.Hour)
	require.NoError(t, err)

	found := false
	for _, call := range inv.calls {
		if call[len(call)-5:] == "links" {
			found = true
		}
	}
	require.True(t, found, "expected a links invalidation call, got %v", inv.calls)
}

func TestNewRehydratesURLIndexFromPersistedRows(t *testing.T) {
	db, err := badger.Open(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first, err := New(db, nil, llm.SystemClock{}, nil)
	require.NoError(t, err)
	entry, err := first.Put("https://example.com/a", "hello", nil, time.Hour)
	require.NoError(t, err)

	// A fresh Cache over the same store (simulating a process restart)
	// must resolve the URL to the same id without another Put.
	second, err := New(db, nil, llm.SystemClock{}, nil)
	require.NoError(t, err)
	got, ok, err := second.Get("https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry.CacheID, got.CacheID)
}

var _ llm.Clock = (*fakeClock)(nil)
