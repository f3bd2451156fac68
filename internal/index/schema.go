package index

import "fmt"

// schemaSQL returns the DDL for the hybrid index's relational and virtual
// tables. embeddingDim sizes the vec0 virtual tables; it must match the
// configured EmbeddingClient's Dimensions().
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
    rowid INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE,
    cache_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL,
    section_id TEXT,
    model_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_cache ON chunks(cache_id, model_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    rowid INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content,
    content='chunks',
    content_rowid='rowid',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS link_vectors (
    rowid INTEGER PRIMARY KEY,
    link_id TEXT NOT NULL UNIQUE,
    cache_id TEXT NOT NULL,
    anchor_text TEXT,
    url TEXT NOT NULL,
    model_id TEXT NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_links USING vec0(
    rowid INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);

CREATE TABLE IF NOT EXISTS findings (
    rowid INTEGER PRIMARY KEY,
    finding_id TEXT NOT NULL UNIQUE,
    session_id TEXT,
    content TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_session ON findings(session_id);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_findings USING vec0(
    rowid INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);

CREATE TABLE IF NOT EXISTS user_memories (
    rowid INTEGER PRIMARY KEY,
    memory_id TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    tags TEXT,
    updated_at DATETIME NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_user_memories USING vec0(
    rowid INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);
`, embeddingDim)
}
