package search

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	// Import the postgres driver.
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/hrygo/mnemos/memory"
)

// PgvectorBackend is a postgres-backed search backend using pgvector for
// similarity and tsvector ranking for the lexical component. The backend
// performs fused scoring itself, so hybrid search needs no local re-rank.
type PgvectorBackend struct {
	db       *sql.DB
	embedder memory.EmbeddingService
	model    string

	mu     sync.RWMutex
	corpus Corpus
	dirty  bool
}

const pgvectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS knowledge_chunk (
	user_id TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding vector(%d),
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED,
	PRIMARY KEY (user_id, doc_id)
);
CREATE INDEX IF NOT EXISTS idx_knowledge_chunk_tsv ON knowledge_chunk USING GIN (tsv);
`

// NewPgvector opens a postgres connection and ensures the chunk table.
func NewPgvector(dsn string, embedder memory.EmbeddingService, modelTag string) (*PgvectorBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pgvector backend requires an embedder")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(pgvectorSchema, embedder.Dimensions())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pgvector schema: %w", err)
	}
	return &PgvectorBackend{db: db, embedder: embedder, model: modelTag}, nil
}

var _ memory.Backend = (*PgvectorBackend)(nil)

// BindCorpus attaches the content source for reindexing.
func (b *PgvectorBackend) BindCorpus(c Corpus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.corpus = c
	b.dirty = true
}

// Query runs fused cosine + ts_rank scoring in one SQL pass.
func (b *PgvectorBackend) Query(ctx context.Context, req *memory.QueryRequest) ([]*memory.RawHit, error) {
	vec, err := b.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT doc_id, content,
			0.8 * (1 - (embedding <=> $1)) +
			0.2 * ts_rank(tsv, plainto_tsquery('simple', $2)) AS score
		FROM knowledge_chunk
		WHERE user_id = $3
		ORDER BY score DESC
		LIMIT $4`,
		pgvector.NewVector(vec), req.Query, req.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}
	defer rows.Close()

	var hits []*memory.RawHit
	for rows.Next() {
		var hit memory.RawHit
		if err := rows.Scan(&hit.Path, &hit.Snippet, &hit.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		if hit.Score < req.MinScore {
			continue
		}
		hit.Source = "fused"
		hits = append(hits, &hit)
	}
	return hits, rows.Err()
}

// Reindex replaces the stored chunks with a fresh corpus snapshot.
func (b *PgvectorBackend) Reindex(ctx context.Context, req *memory.ReindexRequest) error {
	b.mu.RLock()
	corpus := b.corpus
	b.mu.RUnlock()
	if corpus == nil {
		return fmt.Errorf("pgvector reindex: no corpus bound")
	}

	docs, err := corpus.SnapshotDocuments(ctx)
	if err != nil {
		return fmt.Errorf("pgvector reindex: snapshot: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgvector reindex: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunk`); err != nil {
		return fmt.Errorf("pgvector reindex: clear: %w", err)
	}
	for i, doc := range docs {
		vec, err := b.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("pgvector reindex: embed %s: %w", doc.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO knowledge_chunk (user_id, doc_id, title, content, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			doc.UserID, doc.ID, doc.Title, doc.Content, pgvector.NewVector(vec))
		if err != nil {
			return fmt.Errorf("pgvector reindex: insert %s: %w", doc.ID, err)
		}
		if req.OnProgress != nil {
			req.OnProgress(i+1, len(docs))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgvector reindex: commit: %w", err)
	}

	b.mu.Lock()
	b.dirty = false
	b.mu.Unlock()
	return nil
}

func (b *PgvectorBackend) Status(ctx context.Context) (*memory.BackendStatus, error) {
	var files int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunk`).Scan(&files); err != nil {
		return nil, fmt.Errorf("pgvector status: %w", err)
	}
	b.mu.RLock()
	dirty := b.dirty
	b.mu.RUnlock()
	return &memory.BackendStatus{
		Files:    files,
		Chunks:   files,
		Dirty:    dirty,
		Provider: "pgvector",
		Model:    b.model,
	}, nil
}

func (b *PgvectorBackend) Close() error {
	return b.db.Close()
}
