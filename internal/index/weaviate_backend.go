package index

import (
	"context"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	wvgrpc "github.com/weaviate/weaviate/entities/models"
)

// weaviateBackend is the optional remote VectorBackend. It is selected by
// configuration when an external Weaviate instance is available. When the
// instance is unreachable the hybrid index falls back to its relational
// cosine scan rather than failing the caller's query; vectors written
// through this backend live only in Weaviate, so that scan finds no
// embeddings for them and the degraded search ranks on lexical scores.
type weaviateBackend struct {
	client     *weaviate.Client
	classNames map[Collection]string
}

// NewWeaviateBackend builds a VectorBackend backed by a running Weaviate
// instance, one class per collection.
func NewWeaviateBackend(host, scheme string) (VectorBackend, error) {
	cfg := weaviate.Config{Host: host, Scheme: scheme}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("index: weaviate client: %w", err)
	}
	return &weaviateBackend{
		client: client,
		classNames: map[Collection]string{
			CollectionChunks:     "CorexChunk",
			CollectionLinks:      "CorexLink",
			CollectionFindings:   "CorexFinding",
			CollectionUserMemory: "CorexUserMemory",
		},
	}, nil
}

func (b *weaviateBackend) class(c Collection) string {
	return b.classNames[c]
}

func (b *weaviateBackend) Upsert(ctx context.Context, collection Collection, rowID int64, embedding []float32) error {
	id := rowIDToUUID(rowID)
	_, err := b.client.Data().Creator().
		WithClassName(b.class(collection)).
		WithID(id).
		WithVector(embedding).
		WithProperties(map[string]any{"rowid": rowID}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("index: weaviate upsert: %w", err)
	}
	return nil
}

func (b *weaviateBackend) Delete(ctx context.Context, collection Collection, rowID int64) error {
	id := rowIDToUUID(rowID)
	err := b.client.Data().Deleter().
		WithClassName(b.class(collection)).
		WithID(id).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("index: weaviate delete: %w", err)
	}
	return nil
}

func (b *weaviateBackend) Query(ctx context.Context, collection Collection, query []float32, k int) ([]VectorMatch, error) {
	nearVector := b.client.GraphQL().NearVectorArgBuilder().WithVector(query)
	result, err := b.client.GraphQL().Get().
		WithClassName(b.class(collection)).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(graphql.Field{Name: "rowid"}, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: weaviate query: %w", err)
	}
	return parseWeaviateMatches(result, b.class(collection)), nil
}

func (b *weaviateBackend) Available(ctx context.Context) bool {
	ready, err := b.client.Misc().ReadyChecker().Do(ctx)
	return err == nil && ready
}

// rowIDToUUID derives a deterministic UUID-shaped string from a rowid so
// Weaviate objects round-trip to the same relational row without a
// separate id-mapping table.
func rowIDToUUID(rowID int64) string {
	s := strconv.FormatInt(rowID, 16)
	for len(s) < 32 {
		s = "0" + s
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
}

// parseWeaviateMatches is isolated so unit tests can exercise the shape
// without a live Weaviate instance; it defensively returns nil on any
// unexpected GraphQL response structure rather than panicking.
func parseWeaviateMatches(result *wvgrpc.GraphQLResponse, className string) []VectorMatch {
	if result == nil || result.Data == nil {
		return nil
	}
	getData, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := getData[className].([]any)
	if !ok {
		return nil
	}
	var out []VectorMatch
	for _, raw := range items {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var m VectorMatch
		if rid, ok := obj["rowid"].(float64); ok {
			m.RowID = int64(rid)
		}
		if additional, ok := obj["_additional"].(map[string]any); ok {
			if d, ok := additional["distance"].(float64); ok {
				m.Distance = d
			}
		}
		out = append(out, m)
	}
	return out
}
