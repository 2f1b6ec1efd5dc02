// Package knowledge provides the knowledge memory domain: per-user
// documents with a processing lifecycle, vector/hybrid search, an
// entity-relationship graph, community clusters, and graph-augmented
// question answering.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/mnemos/internal/usershard"
	"github.com/hrygo/mnemos/memory"
	"github.com/hrygo/mnemos/memory/search"
)

func init() {
	memory.MustRegister(memory.DomainKnowledge, "memory", func(cfg memory.Config) (memory.Provider, error) {
		return New(cfg)
	})
}

// userGraph holds one user's documents and graph tables. Access is guarded
// by the usershard lock of the owning Map.
type userGraph struct {
	docs          map[string]*memory.Document
	contents      map[string]string
	entities      map[string]*memory.Entity
	relationships map[string]*memory.Relationship
	communities   []*memory.Community
}

func newUserGraph() *userGraph {
	return &userGraph{
		docs:          make(map[string]*memory.Document),
		contents:      make(map[string]string),
		entities:      make(map[string]*memory.Entity),
		relationships: make(map[string]*memory.Relationship),
	}
}

// Provider is the in-memory knowledge provider.
type Provider struct {
	memory.Lifecycle

	users     *usershard.Map[*userGraph]
	search    memory.Searcher
	clusterer Clusterer
	logger    *slog.Logger
	metrics   memory.Metrics
	rebuilds  singleflight.Group
}

// New creates an in-memory knowledge provider. cfg.Search may be nil, which
// puts search and indexing into degraded mode.
func New(cfg memory.Config) (*Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		users:     usershard.New(newUserGraph),
		search:    cfg.Search,
		clusterer: noopClusterer{},
		logger:    logger.With("provider", "knowledge/memory"),
		metrics:   cfg.Metrics,
	}, nil
}

var _ memory.KnowledgeProvider = (*Provider)(nil)
var _ search.Corpus = (*Provider)(nil)

// SetClusterer swaps the community detection strategy. Must be called
// before Initialize.
func (p *Provider) SetClusterer(c Clusterer) {
	if c != nil {
		p.clusterer = c
	}
}

func (p *Provider) Initialize(ctx context.Context) error {
	if p.Start() {
		p.logger.Info("knowledge provider initialized", "search", p.search != nil)
	}
	return nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.Stop() {
		p.logger.Info("knowledge provider shut down")
	}
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*memory.Health, error) {
	start := time.Now()
	if !p.Ready() {
		return &memory.Health{Status: memory.HealthUnhealthy, Latency: time.Since(start)}, nil
	}

	details := map[string]string{"users": strconv.Itoa(len(p.users.Keys()))}
	status := memory.HealthHealthy
	if p.search == nil {
		// Searches degrade to empty results; the provider still serves
		// structural operations.
		status = memory.HealthDegraded
		details["search"] = "no backend configured"
	} else if bs, err := p.search.Status(ctx); err != nil {
		status = memory.HealthDegraded
		details["search"] = err.Error()
	} else {
		details["search"] = bs.Provider
		details["indexed_files"] = strconv.Itoa(bs.Files)
	}
	return &memory.Health{Status: status, Latency: time.Since(start), Details: details}, nil
}

func (p *Provider) observe(op string, start time.Time, err error) {
	if p.metrics != nil {
		p.metrics.ObserveOp(memory.DomainKnowledge, op, time.Since(start), err)
	}
}

// AddDocument stores a document in the pending state. When the caller
// inlines body text under Metadata["content"], it is lifted out of the
// metadata into the provider's content table and ContentRef is pointed at
// it; otherwise ContentRef is taken as an external pointer and kept opaque.
func (p *Provider) AddDocument(ctx context.Context, userID string, doc *memory.Document) (id string, err error) {
	start := time.Now()
	defer func() { p.observe("add_document", start, err) }()
	if err = p.Guard(); err != nil {
		return "", err
	}

	stored := *doc
	stored.ID = uuid.New().String()
	stored.Status = memory.StatusPending
	stored.CreatedAt = time.Now()
	stored.ProcessedAt = nil
	stored.ChunkCount = 0

	var content string
	if stored.Metadata != nil {
		if body, ok := stored.Metadata["content"]; ok {
			content = body
			meta := make(map[string]string, len(stored.Metadata)-1)
			for k, v := range stored.Metadata {
				if k != "content" {
					meta[k] = v
				}
			}
			stored.Metadata = meta
			stored.ContentRef = "mem://" + stored.ID
			if stored.Size == 0 {
				stored.Size = int64(len(body))
			}
		}
	}

	p.users.Mutate(userID, func(g *userGraph) {
		g.docs[stored.ID] = &stored
		if content != "" {
			g.contents[stored.ID] = content
		}
	})
	return stored.ID, nil
}

func (p *Provider) GetDocument(ctx context.Context, userID, docID string) (*memory.Document, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	var doc *memory.Document
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		if d, found := g.docs[docID]; found {
			clone := *d
			doc = &clone
		}
	})
	if doc == nil {
		return nil, memory.ErrNotFound
	}
	return doc, nil
}

// DeleteDocument is an idempotent no-op when the document is absent.
func (p *Provider) DeleteDocument(ctx context.Context, userID, docID string) (err error) {
	start := time.Now()
	defer func() { p.observe("delete_document", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	p.users.Mutate(userID, func(g *userGraph) {
		delete(g.docs, docID)
		delete(g.contents, docID)
	})
	return nil
}

func (p *Provider) ListDocuments(ctx context.Context, userID string, opts *memory.ListDocumentsOptions) ([]*memory.Document, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &memory.ListDocumentsOptions{}
	}

	var docs []*memory.Document
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		for _, d := range g.docs {
			if opts.Status != "" && d.Status != opts.Status {
				continue
			}
			if opts.Source != "" && d.Source != opts.Source {
				continue
			}
			clone := *d
			docs = append(docs, &clone)
		}
	})

	sortDocuments(docs, opts.SortBy, opts.Ascending)
	return paginate(docs, opts.Offset, opts.Limit), nil
}

func (p *Provider) GetDocumentStatus(ctx context.Context, userID, docID string) (memory.DocumentStatus, error) {
	doc, err := p.GetDocument(ctx, userID, docID)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

// IndexDocument runs the document through the backend. The status machine
// is pending -> processing -> indexed | failed; ProcessedAt is set only
// when leaving processing.
func (p *Provider) IndexDocument(ctx context.Context, userID, docID string) error {
	return p.index(ctx, userID, docID, "index document")
}

func (p *Provider) ReindexDocument(ctx context.Context, userID, docID string) error {
	return p.index(ctx, userID, docID, "reindex document")
}

func (p *Provider) index(ctx context.Context, userID, docID, reason string) (err error) {
	start := time.Now()
	defer func() { p.observe("index_document", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	if p.search == nil {
		return memory.ErrBackendUnavailable
	}

	var size int64
	found := false
	p.users.Mutate(userID, func(g *userGraph) {
		doc, ok := g.docs[docID]
		if !ok {
			return
		}
		found = true
		doc.Status = memory.StatusProcessing
		doc.ProcessedAt = nil
		size = doc.Size
	})
	if !found {
		return memory.ErrNotFound
	}

	indexErr := p.search.Reindex(ctx, &memory.ReindexRequest{Reason: reason})

	model := ""
	if status, serr := p.search.Status(ctx); serr == nil {
		model = status.Model
	}

	now := time.Now()
	p.users.Mutate(userID, func(g *userGraph) {
		doc, ok := g.docs[docID]
		if !ok {
			return
		}
		doc.ProcessedAt = &now
		if indexErr != nil {
			doc.Status = memory.StatusFailed
			return
		}
		doc.Status = memory.StatusIndexed
		doc.ChunkCount = chunkCount(size)
		doc.EmbeddingModel = model
	})

	if indexErr != nil {
		err = fmt.Errorf("index document %s: %w", docID, indexErr)
		return err
	}
	return nil
}

// ReindexAll resyncs the backend once and then forces every document of
// the user to indexed.
func (p *Provider) ReindexAll(ctx context.Context, userID string) (err error) {
	start := time.Now()
	defer func() { p.observe("reindex_all", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	if p.search == nil {
		return memory.ErrBackendUnavailable
	}

	p.users.Mutate(userID, func(g *userGraph) {
		for _, doc := range g.docs {
			doc.Status = memory.StatusProcessing
			doc.ProcessedAt = nil
		}
	})

	if err = p.search.Reindex(ctx, &memory.ReindexRequest{Reason: "full resync", Force: true}); err != nil {
		now := time.Now()
		p.users.Mutate(userID, func(g *userGraph) {
			for _, doc := range g.docs {
				doc.Status = memory.StatusFailed
				doc.ProcessedAt = &now
			}
		})
		return fmt.Errorf("reindex all for %s: %w", userID, err)
	}

	model := ""
	if status, serr := p.search.Status(ctx); serr == nil {
		model = status.Model
	}
	now := time.Now()
	p.users.Mutate(userID, func(g *userGraph) {
		for _, doc := range g.docs {
			doc.Status = memory.StatusIndexed
			doc.ProcessedAt = &now
			doc.ChunkCount = chunkCount(doc.Size)
			doc.EmbeddingModel = model
		}
	})
	return nil
}

// SnapshotDocuments implements search.Corpus: it hands the backend every
// user's content for index rebuilds.
func (p *Provider) SnapshotDocuments(ctx context.Context) ([]*search.IndexableDocument, error) {
	var docs []*search.IndexableDocument
	for _, userID := range p.users.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.users.View(userID, func(g *userGraph, ok bool) {
			if !ok {
				return
			}
			for id, doc := range g.docs {
				content := g.contents[id]
				if content == "" {
					content = doc.Title
				}
				docs = append(docs, &search.IndexableDocument{
					UserID:   userID,
					ID:       id,
					Title:    doc.Title,
					Content:  content,
					Metadata: map[string]string{"source": string(doc.Source)},
				})
			}
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// SearchSimilar delegates to the hybrid search service and enriches hits
// with document titles the backend does not carry.
func (p *Provider) SearchSimilar(ctx context.Context, userID, query string, opts *memory.SearchOptions) ([]*memory.SearchResult, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}
	if p.search == nil {
		return []*memory.SearchResult{}, nil
	}
	results, err := p.search.SearchSimilar(ctx, userID, query, opts)
	if err != nil {
		return nil, err
	}
	p.attachTitles(userID, results)
	return results, nil
}

func (p *Provider) SearchHybrid(ctx context.Context, userID, query string, opts *memory.SearchOptions) ([]*memory.SearchResult, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}
	if p.search == nil {
		return []*memory.SearchResult{}, nil
	}
	results, err := p.search.SearchHybrid(ctx, userID, query, opts)
	if err != nil {
		return nil, err
	}
	p.attachTitles(userID, results)
	return results, nil
}

func (p *Provider) attachTitles(userID string, results []*memory.SearchResult) {
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		for _, res := range results {
			if doc, found := g.docs[res.DocumentID]; found {
				res.DocumentTitle = doc.Title
			}
		}
	})
}

func chunkCount(size int64) int {
	const chunkBytes = 1000
	n := int(size/chunkBytes) + 1
	return n
}

func sortDocuments(docs []*memory.Document, sortBy string, ascending bool) {
	less := func(a, b *memory.Document) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch sortBy {
	case "title":
		less = func(a, b *memory.Document) bool { return a.Title < b.Title }
	case "size":
		less = func(a, b *memory.Document) bool { return a.Size < b.Size }
	case "status":
		less = func(a, b *memory.Document) bool { return a.Status < b.Status }
	case "", "created_at":
	default:
		// Unknown sort fields fall back to creation time.
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if ascending {
			return less(docs[i], docs[j])
		}
		return less(docs[j], docs[i])
	})
}

func paginate(docs []*memory.Document, offset, limit int) []*memory.Document {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(docs) {
		return []*memory.Document{}
	}
	docs = docs[offset:]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

// transcript renders a role-tagged conversation body.
func transcript(messages []memory.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
