package index

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// sqliteVecBackend is the default, embedded VectorBackend: vec0 virtual
// tables in the same database file as the relational store. It reports
// itself unavailable only when that database fails a ping, since there is
// no network hop to fail.
type sqliteVecBackend struct {
	db *sql.DB
}

func newSQLiteVecBackend(db *sql.DB) *sqliteVecBackend {
	return &sqliteVecBackend{db: db}
}

func vecTable(c Collection) (string, error) {
	switch c {
	case CollectionChunks:
		return "vec_chunks", nil
	case CollectionLinks:
		return "vec_links", nil
	case CollectionFindings:
		return "vec_findings", nil
	case CollectionUserMemory:
		return "vec_user_memories", nil
	default:
		return "", fmt.Errorf("index: unknown collection %q", c)
	}
}

func (b *sqliteVecBackend) Upsert(ctx context.Context, collection Collection, rowID int64, embedding []float32) error {
	table, err := vecTable(collection)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (rowid, embedding) VALUES (?, ?)`, table),
		rowID, serializeFloat32(embedding))
	if err != nil {
		return fmt.Errorf("index: vec upsert %s: %w", table, err)
	}
	return nil
}

func (b *sqliteVecBackend) Delete(ctx context.Context, collection Collection, rowID int64) error {
	table, err := vecTable(collection)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, table), rowID)
	if err != nil {
		return fmt.Errorf("index: vec delete %s: %w", table, err)
	}
	return nil
}

func (b *sqliteVecBackend) Query(ctx context.Context, collection Collection, query []float32, k int) ([]VectorMatch, error) {
	table, err := vecTable(collection)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance`, table),
		serializeFloat32(query), k)
	if err != nil {
		return nil, fmt.Errorf("index: vec query %s: %w", table, err)
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.RowID, &m.Distance); err != nil {
			return nil, fmt.Errorf("index: vec scan %s: %w", table, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *sqliteVecBackend) Available(ctx context.Context) bool {
	return b.db.PingContext(ctx) == nil
}
