// Package index implements the hybrid vector store: dense embeddings plus
// lexical (FTS5/BM25-shaped) search, diversity filtering, and per-model
// freshness tracking, backed by a relational SQLite database augmented
// with sqlite-vec virtual tables (or an optional remote vector backend).
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/northlight-ai/corex/internal/cache"
	"github.com/northlight-ai/corex/internal/chunk"
	"github.com/northlight-ai/corex/internal/llm"
)

// DedupThreshold is the cosine similarity above which save_memory updates
// an existing row instead of inserting a new one.
const DedupThreshold = 0.90

// NearDuplicateThreshold is the pairwise cosine above which the diversity
// filter rejects a candidate already covered by a selected result.
const NearDuplicateThreshold = 0.95

// Config configures one HybridIndex instance.
type Config struct {
	DBPath        string
	EmbeddingDim  int
	DenseWeight   float64 // default weight when callers don't override
}

// HybridIndex is the dense+lexical retrieval store described by the data
// model: it references Cache rows by id only (no back-pointer), so
// invalidation is always a forward call from Cache into HybridIndex.
type HybridIndex struct {
	db       *sql.DB
	vectors  VectorBackend
	embedder llm.EmbeddingClient
	logger   *slog.Logger
	cfg      Config
}

// Open creates/opens the relational+vector schema at cfg.DBPath. When
// vectorBackend is nil, the embedded sqlite-vec backend is used.
func Open(cfg Config, embedder llm.EmbeddingClient, vectorBackend VectorBackend, logger *slog.Logger) (*HybridIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", cfg.DBPath, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: wal mode: %w", err)
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = embedder.Dimensions()
	}
	if _, err := db.Exec(schemaSQL(cfg.EmbeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	if cfg.DenseWeight == 0 {
		cfg.DenseWeight = 0.6
	}

	vb := vectorBackend
	if vb == nil {
		vb = newSQLiteVecBackend(db)
	}

	return &HybridIndex{db: db, vectors: vb, embedder: embedder, logger: logger, cfg: cfg}, nil
}

func (idx *HybridIndex) Close() error { return idx.db.Close() }

// Invalidate implements cache.Invalidator: it is called by Cache before a
// content or links hash change is committed.
func (idx *HybridIndex) Invalidate(cacheID string, kind cache.InvalidationKind) error {
	ctx := context.Background()
	switch kind {
	case cache.InvalidateChunks:
		return idx.dropChunks(ctx, cacheID)
	case cache.InvalidateLinks:
		return idx.dropLinks(ctx, cacheID)
	default:
		return fmt.Errorf("index: unknown invalidation kind %q", kind)
	}
}

func (idx *HybridIndex) dropChunks(ctx context.Context, cacheID string) error {
	rows, err := idx.db.QueryContext(ctx, `SELECT rowid FROM chunks WHERE cache_id = ?`, cacheID)
	if err != nil {
		return fmt.Errorf("index: select chunks for invalidation: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return err
		}
		rowIDs = append(rowIDs, r)
	}
	rows.Close()

	for _, r := range rowIDs {
		if err := idx.vectors.Delete(ctx, CollectionChunks, r); err != nil {
			idx.logger.Warn("index: vector delete failed during invalidation", slog.Int64("rowid", r), slog.Any("err", err))
		}
	}
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM chunks WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("index: delete chunks: %w", err)
	}
	return nil
}

func (idx *HybridIndex) dropLinks(ctx context.Context, cacheID string) error {
	rows, err := idx.db.QueryContext(ctx, `SELECT rowid FROM link_vectors WHERE cache_id = ?`, cacheID)
	if err != nil {
		return fmt.Errorf("index: select links for invalidation: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return err
		}
		rowIDs = append(rowIDs, r)
	}
	rows.Close()
	for _, r := range rowIDs {
		if err := idx.vectors.Delete(ctx, CollectionLinks, r); err != nil {
			idx.logger.Warn("index: vector delete failed during invalidation", slog.Int64("rowid", r), slog.Any("err", err))
		}
	}
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM link_vectors WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("index: delete links: %w", err)
	}
	return nil
}

// StoreChunks upserts a full set of chunks for (cacheID, modelID):
// existing rows for the same pair are deleted first so storage is
// idempotent on repeated calls with identical content_hash and model.
func (idx *HybridIndex) StoreChunks(ctx context.Context, cacheID string, pieces []chunk.Piece, sectionIDs map[int]string, modelID string) error {
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	embeddings, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("index: embed chunks: %w", err)
	}
	if len(embeddings) != len(pieces) {
		return fmt.Errorf("index: embedder returned %d vectors for %d chunks", len(embeddings), len(pieces))
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE cache_id = ? AND model_id = ?`, cacheID, modelID); err != nil {
		return fmt.Errorf("index: delete stale chunks: %w", err)
	}

	rowIDs := make([]int64, len(pieces))
	for i, p := range pieces {
		chunkID := fmt.Sprintf("chunk:%s:%d", cacheID, p.Index)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (chunk_id, cache_id, idx, content, token_count, section_id, model_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chunkID, cacheID, p.Index, p.Text, p.TokenCount, sectionIDs[p.Index], modelID)
		if err != nil {
			return fmt.Errorf("index: insert chunk %s: %w", chunkID, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("index: last insert id: %w", err)
		}
		rowIDs[i] = rowID
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	// Vectors are written after the commit: the vector backend writes
	// through idx.db, not through tx, so it cannot run while tx holds the
	// database's write lock.
	for i, rowID := range rowIDs {
		if err := idx.vectors.Upsert(ctx, CollectionChunks, rowID, normalize(embeddings[i])); err != nil {
			return fmt.Errorf("index: upsert vector for chunk:%s:%d: %w", cacheID, pieces[i].Index, err)
		}
	}
	return nil
}

// HasChunksForModel implements the freshness check: callers must re-embed
// when this returns false before serving results for modelID.
func (idx *HybridIndex) HasChunksForModel(ctx context.Context, cacheID, modelID string) (bool, error) {
	var count int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE cache_id = ? AND model_id = ?`, cacheID, modelID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("index: has chunks for model: %w", err)
	}
	return count > 0, nil
}

// SearchResult is one hit returned from SearchChunks.
type SearchResult struct {
	ChunkID   string
	Text      string
	Score     float64
	SourceURL string
	SectionID string
	Degraded  bool
}

// SearchOptions configures one SearchChunks call.
type SearchOptions struct {
	URLs        []string // cache ids to restrict to; empty means unrestricted
	SectionID   string
	K           int
	DenseWeight float64 // 0 means use the index default
	ModelID     string
}

// SearchChunks performs the hybrid dense+lexical query with diversity
// filtering described in the component design: dense and lexical score
// lists are each min-max normalized, blended by denseWeight, then a greedy
// diversity pass suppresses near-duplicate chunks. The embeddings that pass
// compares are read from vec_chunks, so with a remote vector backend
// configured it has no vectors to compare and suppresses nothing.
func (idx *HybridIndex) SearchChunks(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if opts.K <= 0 {
		opts.K = 5
	}
	denseWeight := opts.DenseWeight
	if denseWeight == 0 {
		denseWeight = idx.cfg.DenseWeight
	}

	embeddings, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}
	queryVec := normalize(embeddings[0])

	fanOut := opts.K * 4
	if fanOut < 20 {
		fanOut = 20
	}

	denseScores := map[string]float64{}
	degraded := false

	if idx.vectors.Available(ctx) {
		matches, err := idx.vectors.Query(ctx, CollectionChunks, queryVec, fanOut)
		if err != nil {
			idx.logger.Warn("index: vector backend query failed, degrading to relational scan", slog.Any("err", err))
			degraded = true
		} else {
			for _, m := range matches {
				denseScores[rowKey(m.RowID)] = 1.0 - m.Distance
			}
		}
	} else {
		degraded = true
	}

	rowsByKey, err := idx.loadChunkRows(ctx, opts)
	if err != nil {
		return nil, err
	}

	if degraded {
		denseScores = idx.relationalCosineScan(rowsByKey, queryVec)
	}

	lexicalScores, err := idx.lexicalScores(ctx, query, opts, fanOut)
	if err != nil {
		idx.logger.Warn("index: lexical search failed, continuing dense-only", slog.Any("err", err))
		lexicalScores = map[string]float64{}
	}

	normDense := minMaxNormalize(denseScores)
	normLex := minMaxNormalize(lexicalScores)

	var candidates []scoredCandidate
	seen := map[string]bool{}
	for k := range normDense {
		seen[k] = true
	}
	for k := range normLex {
		seen[k] = true
	}
	for k := range seen {
		row, ok := rowsByKey[k]
		if !ok {
			continue
		}
		if opts.SectionID != "" && row.sectionID != opts.SectionID {
			continue
		}
		final := denseWeight*normDense[k] + (1-denseWeight)*normLex[k]
		candidates = append(candidates, scoredCandidate{key: k, final: final})
	}

	sortScoredDesc(candidates)

	selected := make([]SearchResult, 0, opts.K)
	var selectedVecs [][]float32
	for _, c := range candidates {
		if len(selected) >= opts.K {
			break
		}
		row := rowsByKey[c.key]
		vec := row.embedding
		if vec == nil {
			var blob []byte
			if err := idx.db.QueryRowContext(ctx, `SELECT embedding FROM vec_chunks WHERE rowid = ?`, row.rowID).Scan(&blob); err == nil && len(blob) > 0 {
				vec = deserializeFloat32(blob)
			}
		}
		if vec != nil && isNearDuplicate(vec, selectedVecs) {
			continue
		}
		selected = append(selected, SearchResult{
			ChunkID:   row.chunkID,
			Text:      row.content,
			Score:     c.final,
			SourceURL: row.cacheID,
			SectionID: row.sectionID,
			Degraded:  degraded,
		})
		if vec != nil {
			selectedVecs = append(selectedVecs, vec)
		}
	}
	return selected, nil
}

func isNearDuplicate(candidate []float32, selected [][]float32) bool {
	for _, s := range selected {
		if cosineSimilarity(candidate, s) >= NearDuplicateThreshold {
			return true
		}
	}
	return false
}

type chunkRow struct {
	rowID     int64
	chunkID   string
	cacheID   string
	content   string
	sectionID string
	embedding []float32 // populated only by the relational fallback scan
}

func rowKey(rowID int64) string { return fmt.Sprintf("r%d", rowID) }

func (idx *HybridIndex) loadChunkRows(ctx context.Context, opts SearchOptions) (map[string]chunkRow, error) {
	query := `SELECT rowid, chunk_id, cache_id, content, section_id FROM chunks WHERE 1=1`
	var args []any
	if opts.ModelID != "" {
		query += ` AND model_id = ?`
		args = append(args, opts.ModelID)
	}
	if len(opts.URLs) > 0 {
		query += ` AND cache_id IN (` + placeholders(len(opts.URLs)) + `)`
		for _, u := range opts.URLs {
			args = append(args, u)
		}
	}
	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: load chunk rows: %w", err)
	}
	defer rows.Close()

	out := make(map[string]chunkRow)
	for rows.Next() {
		var r chunkRow
		var sectionID sql.NullString
		if err := rows.Scan(&r.rowID, &r.chunkID, &r.cacheID, &r.content, &sectionID); err != nil {
			return nil, fmt.Errorf("index: scan chunk row: %w", err)
		}
		r.sectionID = sectionID.String
		out[rowKey(r.rowID)] = r
	}
	return out, rows.Err()
}

// relationalCosineScan is the degraded path used when the vector backend
// is unavailable or errors: it reads the vec0 BLOB column of vec_chunks
// directly and computes cosine in Go. Only the embedded sqlite-vec backend
// writes vectors into vec_chunks; with a remote backend configured the
// table holds none, so this scan yields no dense scores and the degraded
// search ranks on lexical scores alone.
func (idx *HybridIndex) relationalCosineScan(rows map[string]chunkRow, query []float32) map[string]float64 {
	scores := make(map[string]float64, len(rows))
	for key, row := range rows {
		var blob []byte
		err := idx.db.QueryRow(`SELECT embedding FROM vec_chunks WHERE rowid = ?`, row.rowID).Scan(&blob)
		if err != nil || len(blob) == 0 {
			continue
		}
		vec := deserializeFloat32(blob)
		row.embedding = vec
		rows[key] = row
		scores[key] = cosineSimilarity(query, vec)
	}
	return scores
}

// relationalFindingsScan serves QueryResearchMemory when the vector backend
// errors or reports an empty collection, computing cosine similarity
// against every embedding in vec_findings directly. Findings volume is
// small relative to chunks, so an in-process full scan is acceptable here.
func (idx *HybridIndex) relationalFindingsScan(ctx context.Context, query []float32, limit int) ([]VectorMatch, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT rowid, embedding FROM vec_findings`)
	if err != nil {
		return nil, fmt.Errorf("index: scan vec_findings: %w", err)
	}
	defer rows.Close()

	var scored []VectorMatch
	for rows.Next() {
		var rowID int64
		var blob []byte
		if err := rows.Scan(&rowID, &blob); err != nil {
			return nil, err
		}
		if len(blob) == 0 {
			continue
		}
		sim := cosineSimilarity(query, deserializeFloat32(blob))
		scored = append(scored, VectorMatch{RowID: rowID, Distance: 1.0 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Distance < scored[j].Distance })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (idx *HybridIndex) lexicalScores(ctx context.Context, query string, opts SearchOptions, limit int) (map[string]float64, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT c.rowid, -bm25(chunks_fts) AS rank FROM chunks_fts
		 JOIN chunks c ON c.rowid = chunks_fts.rowid
		 WHERE chunks_fts MATCH ? ORDER BY rank DESC LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: fts query: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var rowID int64
		var rank float64
		if err := rows.Scan(&rowID, &rank); err != nil {
			return nil, err
		}
		out[rowKey(rowID)] = rank
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

type scoredCandidate struct {
	key   string
	final float64
}

func sortScoredDesc(s []scoredCandidate) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].final > s[j-1].final; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// SaveMemory persists a global user memory, updating an existing
// near-duplicate row (cosine >= DedupThreshold) in place instead of
// inserting a new one.
func (idx *HybridIndex) SaveMemory(ctx context.Context, text string, tags []string, now time.Time) (string, error) {
	embeddings, err := idx.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("index: embed memory: %w", err)
	}
	vec := normalize(embeddings[0])

	if idx.vectors.Available(ctx) {
		matches, err := idx.vectors.Query(ctx, CollectionUserMemory, vec, 1)
		if err == nil && len(matches) > 0 && (1.0-matches[0].Distance) >= DedupThreshold {
			var memoryID string
			if err := idx.db.QueryRowContext(ctx, `SELECT memory_id FROM user_memories WHERE rowid = ?`, matches[0].RowID).Scan(&memoryID); err == nil {
				_, err = idx.db.ExecContext(ctx, `UPDATE user_memories SET content = ?, tags = ?, updated_at = ? WHERE rowid = ?`,
					text, joinTags(tags), now, matches[0].RowID)
				if err != nil {
					return "", fmt.Errorf("index: update memory: %w", err)
				}
				if err := idx.vectors.Upsert(ctx, CollectionUserMemory, matches[0].RowID, vec); err != nil {
					return "", fmt.Errorf("index: re-upsert memory vector: %w", err)
				}
				return memoryID, nil
			}
		}
	}

	memoryID := uuid.NewString()
	res, err := idx.db.ExecContext(ctx, `INSERT INTO user_memories (memory_id, content, tags, updated_at) VALUES (?, ?, ?, ?)`,
		memoryID, text, joinTags(tags), now)
	if err != nil {
		return "", fmt.Errorf("index: insert memory: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	if err := idx.vectors.Upsert(ctx, CollectionUserMemory, rowID, vec); err != nil {
		return "", fmt.Errorf("index: upsert memory vector: %w", err)
	}
	return memoryID, nil
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

// SaveFinding persists a research insight, scoped to sessionID when
// non-empty.
func (idx *HybridIndex) SaveFinding(ctx context.Context, sessionID, text string, now time.Time) (string, error) {
	embeddings, err := idx.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("index: embed finding: %w", err)
	}
	vec := normalize(embeddings[0])

	findingID := uuid.NewString()
	var sessionCol any
	if sessionID != "" {
		sessionCol = sessionID
	}
	res, err := idx.db.ExecContext(ctx, `INSERT INTO findings (finding_id, session_id, content, created_at) VALUES (?, ?, ?, ?)`,
		findingID, sessionCol, text, now)
	if err != nil {
		return "", fmt.Errorf("index: insert finding: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	if err := idx.vectors.Upsert(ctx, CollectionFindings, rowID, vec); err != nil {
		return "", fmt.Errorf("index: upsert finding vector: %w", err)
	}
	return findingID, nil
}

// QueryResearchMemory semantically searches findings, scoped to sessionID
// when non-empty (empty searches only global findings per the data
// model's session-vs-global distinction).
func (idx *HybridIndex) QueryResearchMemory(ctx context.Context, sessionID, query string, k int) ([]string, error) {
	if k <= 0 {
		k = 5
	}
	embeddings, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("index: embed research memory query: %w", err)
	}
	vec := normalize(embeddings[0])
	fanOut := k * 4

	var matches []VectorMatch
	degraded := false
	if idx.vectors.Available(ctx) {
		matches, err = idx.vectors.Query(ctx, CollectionFindings, vec, fanOut)
		if err != nil {
			idx.logger.Warn("index: vector backend query failed for findings, degrading to relational scan", slog.Any("err", err))
			degraded = true
		} else if len(matches) == 0 {
			degraded = true
		}
	} else {
		degraded = true
	}
	if degraded {
		matches, err = idx.relationalFindingsScan(ctx, vec, fanOut)
		if err != nil {
			return nil, fmt.Errorf("index: relational findings scan: %w", err)
		}
	}

	var out []string
	for _, m := range matches {
		var content string
		var rowSession sql.NullString
		err := idx.db.QueryRowContext(ctx, `SELECT content, session_id FROM findings WHERE rowid = ?`, m.RowID).Scan(&content, &rowSession)
		if err != nil {
			continue
		}
		if sessionID != "" && rowSession.String != sessionID {
			continue
		}
		if sessionID == "" && rowSession.Valid && rowSession.String != "" {
			continue
		}
		out = append(out, content)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// DeleteSessionFindings removes all findings for sessionID, vector entries
// first, matching the cascade-delete ordering requirement (vector deletes
// before local writes, to avoid holding write locks during vector-store
// RPCs).
func (idx *HybridIndex) DeleteSessionFindings(ctx context.Context, sessionID string) error {
	rows, err := idx.db.QueryContext(ctx, `SELECT rowid FROM findings WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("index: select session findings: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return err
		}
		rowIDs = append(rowIDs, r)
	}
	rows.Close()

	for _, r := range rowIDs {
		if err := idx.vectors.Delete(ctx, CollectionFindings, r); err != nil {
			idx.logger.Warn("index: vector delete failed during session cascade", slog.Int64("rowid", r), slog.Any("err", err))
		}
	}
	_, err = idx.db.ExecContext(ctx, `DELETE FROM findings WHERE session_id = ?`, sessionID)
	return err
}
