package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northlight-ai/corex/internal/chunk"
)

// fakeEmbedder returns a deterministic low-dimensional vector derived from
// text length (mod 7) and component position, or from vec when it is set,
// so related tests can assert ordering without
// pulling in a real embedding model.
type fakeEmbedder struct {
	dim int
	vec func(string) []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.vec != nil {
			out[i] = f.vec(t)
			continue
		}
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t)%7) + float32(j)*0.01
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) ModelID() string  { return "fake-embed-v1" }
func (f *fakeEmbedder) Dimensions() int  { return f.dim }

func newTestIndex(t *testing.T, embedder *fakeEmbedder) *HybridIndex {
	t.Helper()
	idx, err := Open(Config{DBPath: ":memory:", EmbeddingDim: embedder.dim}, embedder, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHasChunksForModelFreshness(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{dim: 8})
	ctx := context.Background()

	has, err := idx.HasChunksForModel(ctx, "cache-1", "model-a")
	require.NoError(t, err)
	require.False(t, has)

	err = idx.StoreChunks(ctx, "cache-1", testPieces("hello world this is a test"), nil, "model-a")
	require.NoError(t, err)

	has, err = idx.HasChunksForModel(ctx, "cache-1", "model-a")
	require.NoError(t, err)
	require.True(t, has)

	has, err = idx.HasChunksForModel(ctx, "cache-1", "model-b")
	require.NoError(t, err)
	require.False(t, has)
}

func TestStoreChunksIdempotent(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{dim: 8})
	ctx := context.Background()
	pieces := testPieces("alpha beta gamma")

	require.NoError(t, idx.StoreChunks(ctx, "cache-1", pieces, nil, "model-a"))
	require.NoError(t, idx.StoreChunks(ctx, "cache-1", pieces, nil, "model-a"))

	var count int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE cache_id = ?`, "cache-1").Scan(&count))
	require.Equal(t, len(pieces), count)
}

func TestInvalidateDropsChunks(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{dim: 8})
	ctx := context.Background()
	require.NoError(t, idx.StoreChunks(ctx, "cache-1", testPieces("one two three"), nil, "model-a"))

	require.NoError(t, idx.Invalidate("cache-1", "chunks"))

	has, err := idx.HasChunksForModel(ctx, "cache-1", "model-a")
	require.NoError(t, err)
	require.False(t, has)
}

func TestSaveMemoryDedup(t *testing.T) {
	fixed := []float32{1, 0, 0, 0}
	embedder := &fakeEmbedder{dim: 4, vec: func(string) []float32 { return fixed }}
	idx := newTestIndex(t, embedder)
	ctx := context.Background()
	now := time.Now()

	id1, err := idx.SaveMemory(ctx, "likes dark mode", nil, now)
	require.NoError(t, err)

	id2, err := idx.SaveMemory(ctx, "likes dark mode", nil, now.Add(time.Minute))
	require.NoError(t, err)

	require.Equal(t, id1, id2, "near-duplicate save should update, not insert")

	var count int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM user_memories`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestSessionFindingsCascade(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{dim: 4})
	ctx := context.Background()

	_, err := idx.SaveFinding(ctx, "session-1", "finding one", time.Now())
	require.NoError(t, err)
	_, err = idx.SaveFinding(ctx, "session-1", "finding two", time.Now())
	require.NoError(t, err)

	require.NoError(t, idx.DeleteSessionFindings(ctx, "session-1"))

	var count int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM findings WHERE session_id = ?`, "session-1").Scan(&count))
	require.Equal(t, 0, count)
}

func testPieces(text string) []chunk.Piece {
	return []chunk.Piece{{Index: 0, Text: text, TokenCount: len(text) / 4}}
}

// erroringQueryBackend wraps the real embedded sqlite-vec backend so
// Upsert still writes to the vec0 tables, but Query always fails,
// simulating a remote backend (e.g. Weaviate) that is reachable for health
// checks but errors on the actual ANN call.
type erroringQueryBackend struct {
	inner VectorBackend
}

func (b erroringQueryBackend) Upsert(ctx context.Context, collection Collection, rowID int64, embedding []float32) error {
	return b.inner.Upsert(ctx, collection, rowID, embedding)
}
func (b erroringQueryBackend) Delete(ctx context.Context, collection Collection, rowID int64) error {
	return b.inner.Delete(ctx, collection, rowID)
}
func (erroringQueryBackend) Query(ctx context.Context, collection Collection, query []float32, k int) ([]VectorMatch, error) {
	return nil, fmt.Errorf("erroringQueryBackend: query unavailable")
}
func (erroringQueryBackend) Available(ctx context.Context) bool { return true }

func TestQueryResearchMemoryDegradesToRelationalScanOnBackendError(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(schemaSQL(embedder.dim))
	require.NoError(t, err)

	backend := erroringQueryBackend{inner: newSQLiteVecBackend(db)}
	idx := &HybridIndex{db: db, vectors: backend, embedder: embedder, logger: slog.Default(), cfg: Config{DenseWeight: 0.6}}
	ctx := context.Background()

	_, err = idx.SaveFinding(ctx, "session-1", "the answer is forty-two", time.Now())
	require.NoError(t, err)

	hits, err := idx.QueryResearchMemory(ctx, "session-1", "what is the answer", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits, "relational fallback should still surface the saved finding")
}
