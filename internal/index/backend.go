package index

import "context"

// Collection names the four vector collections the hybrid index maintains.
type Collection string

const (
	CollectionChunks      Collection = "chunks"
	CollectionLinks       Collection = "links"
	CollectionFindings    Collection = "findings"
	CollectionUserMemory  Collection = "user_memories"
)

// VectorMatch is one nearest-neighbor hit.
type VectorMatch struct {
	RowID    int64
	Distance float64
}

// VectorBackend is the pluggable ANN surface. The embedded sqlite-vec
// backend lives in the same process and database file, so it is available
// whenever that database is; a remote backend (e.g. Weaviate) may be configured
// instead and can fail independently of the relational store, which is
// what triggers the fallback-to-relational-scan path.
type VectorBackend interface {
	Upsert(ctx context.Context, collection Collection, rowID int64, embedding []float32) error
	Delete(ctx context.Context, collection Collection, rowID int64) error
	Query(ctx context.Context, collection Collection, query []float32, k int) ([]VectorMatch, error)
	// Available reports whether the backend can currently serve queries.
	// The embedded backend returns false only when its database fails a
	// ping; a remote backend may return false after a failed health probe.
	Available(ctx context.Context) bool
}
