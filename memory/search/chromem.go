package search

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/hrygo/mnemos/memory"
)

// IndexableDocument is one unit of content a backend pulls from the owning
// provider during (re)indexing.
type IndexableDocument struct {
	UserID   string
	ID       string
	Title    string
	Content  string
	Metadata map[string]string
}

// Corpus supplies the documents to index. The knowledge provider implements
// this; the backend pulls a full snapshot on every reindex.
type Corpus interface {
	SnapshotDocuments(ctx context.Context) ([]*IndexableDocument, error)
}

// ChromemBackend is an embedded vector search backend built on chromem-go,
// a pure Go vector database. Each user gets an isolated collection.
type ChromemBackend struct {
	embedder memory.EmbeddingService
	model    string

	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	corpus      Corpus
	files       int
	chunks      int
	dirty       bool
	syncing     bool
}

// NewChromem creates a chromem backend. A nil embedder falls back to the
// deterministic hash embedder.
func NewChromem(embedder memory.EmbeddingService, modelTag string) *ChromemBackend {
	if embedder == nil {
		embedder = NewHashEmbedder(256)
		if modelTag == "" {
			modelTag = "hash-bow-256"
		}
	}
	return &ChromemBackend{
		embedder:    embedder,
		model:       modelTag,
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

var _ memory.Backend = (*ChromemBackend)(nil)

// BindCorpus attaches the content source. Reindex fails until a corpus is
// bound. MarkDirty flags pending content changes until the next reindex.
func (b *ChromemBackend) BindCorpus(c Corpus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.corpus = c
	b.dirty = true
}

// MarkDirty records that indexed content is stale.
func (b *ChromemBackend) MarkDirty() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = true
}

func (b *ChromemBackend) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return b.embedder.Embed(ctx, text)
	}
}

// Query searches the caller's collection. An unknown user or an empty
// collection yields no hits rather than an error.
func (b *ChromemBackend) Query(ctx context.Context, req *memory.QueryRequest) ([]*memory.RawHit, error) {
	b.mu.RLock()
	col, ok := b.collections[req.UserID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	n := req.MaxResults
	if n <= 0 || n > count {
		// chromem rejects nResults larger than the collection.
		n = count
	}

	results, err := col.Query(ctx, req.Query, n, req.Filter, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]*memory.RawHit, 0, len(results))
	for _, res := range results {
		if res.Similarity < req.MinScore {
			continue
		}
		hits = append(hits, &memory.RawHit{
			Path:    res.ID,
			Score:   res.Similarity,
			Snippet: res.Content,
			Source:  "vector",
		})
	}
	return hits, nil
}

// Reindex rebuilds every user collection from a fresh corpus snapshot.
func (b *ChromemBackend) Reindex(ctx context.Context, req *memory.ReindexRequest) error {
	b.mu.Lock()
	corpus := b.corpus
	if corpus == nil {
		b.mu.Unlock()
		return fmt.Errorf("chromem reindex: no corpus bound")
	}
	if b.syncing && !req.Force {
		b.mu.Unlock()
		return fmt.Errorf("chromem reindex: sync already in progress")
	}
	b.syncing = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.syncing = false
		b.mu.Unlock()
	}()

	docs, err := corpus.SnapshotDocuments(ctx)
	if err != nil {
		return fmt.Errorf("chromem reindex: snapshot: %w", err)
	}

	db := chromem.NewDB()
	collections := make(map[string]*chromem.Collection)
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		col, ok := collections[doc.UserID]
		if !ok {
			col, err = db.CreateCollection("user_"+doc.UserID, nil, b.embeddingFunc())
			if err != nil {
				return fmt.Errorf("chromem reindex: create collection: %w", err)
			}
			collections[doc.UserID] = col
		}

		meta := map[string]string{"title": doc.Title}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		err = col.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: meta,
		})
		if err != nil {
			return fmt.Errorf("chromem reindex: add document %s: %w", doc.ID, err)
		}
		if req.OnProgress != nil {
			req.OnProgress(i+1, len(docs))
		}
	}

	b.mu.Lock()
	b.db = db
	b.collections = collections
	b.files = len(docs)
	b.chunks = len(docs)
	b.dirty = false
	b.mu.Unlock()
	return nil
}

func (b *ChromemBackend) Status(ctx context.Context) (*memory.BackendStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &memory.BackendStatus{
		Files:    b.files,
		Chunks:   b.chunks,
		Dirty:    b.dirty,
		Syncing:  b.syncing,
		Provider: "chromem",
		Model:    b.model,
	}, nil
}

func (b *ChromemBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collections = make(map[string]*chromem.Collection)
	b.db = chromem.NewDB()
	return nil
}
