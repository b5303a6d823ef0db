// Package chunks stores embedded document fragments in SQLite and serves
// nearest-neighbour search over them. It backs the document side of
// retrieval: notes live in the link graph, external documents live here.
package chunks

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/llm"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chunks (
    chunk_id   TEXT PRIMARY KEY,
    doc_id     TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    text       TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT '',
    embedding  BLOB
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
`

// Chunk is one embedded fragment of a document.
type Chunk struct {
	ChunkID   string
	DocID     string
	Title     string
	Text      string
	Source    string
	Embedding []float32
}

// Hit is one search result. Distance is cosine distance, lower is closer.
type Hit struct {
	ChunkID  string
	DocID    string
	Title    string
	Text     string
	Source   string
	Distance float64
}

// Store persists chunks and answers similarity queries.
type Store struct {
	conn     *sql.DB
	embedder llm.Embedder
}

// Open opens (or creates) the chunk database at dsn.
func Open(dsn string, embedder llm.Embedder) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("chunks: open database: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("chunks: apply schema: %w", err)
	}
	return &Store{conn: conn, embedder: embedder}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("chunks: close database: %w", err)
	}
	return nil
}

// Put inserts or replaces a chunk. If the chunk carries no embedding it
// is embedded from its text first.
func (s *Store) Put(ctx context.Context, c Chunk) error {
	if c.ChunkID == "" {
		return fmt.Errorf("chunks: chunk id is required")
	}
	if len(c.Embedding) == 0 {
		vec, err := s.embedder.EmbedText(ctx, c.Text)
		if err != nil {
			return fmt.Errorf("chunks: embed chunk %s: %w", c.ChunkID, err)
		}
		c.Embedding = vec
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, doc_id, title, text, source, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			doc_id = excluded.doc_id,
			title = excluded.title,
			text = excluded.text,
			source = excluded.source,
			embedding = excluded.embedding`,
		c.ChunkID, c.DocID, c.Title, c.Text, c.Source, encodeVector(c.Embedding))
	if err != nil {
		return fmt.Errorf("chunks: put %s: %w", c.ChunkID, err)
	}
	return nil
}

// Search embeds the query and returns the limit nearest chunks by cosine
// distance, closest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	qvec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chunks: embed query: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT chunk_id, doc_id, title, text, source, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("chunks: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var blob []byte
		if err := rows.Scan(&h.ChunkID, &h.DocID, &h.Title, &h.Text, &h.Source, &blob); err != nil {
			return nil, fmt.Errorf("chunks: scan: %w", err)
		}
		vec := decodeVector(blob)
		if len(vec) == 0 {
			continue
		}
		h.Distance = 1 - Cosine(qvec, vec)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunks: search rows: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteDoc removes every chunk belonging to a document.
func (s *Store) DeleteDoc(ctx context.Context, docID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("chunks: delete doc %s: %w", docID, err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("chunks: count: %w", err)
	}
	return n, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// zero-length or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
