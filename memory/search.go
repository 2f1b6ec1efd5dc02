package memory

import "context"

// SearchResult is one normalized hit of a similarity or hybrid search.
// Results are ephemeral and never persisted. Score is backend-defined but
// consistently ordered within one call.
type SearchResult struct {
	ID            string            `json:"id"`
	Content       string            `json:"content"`
	Score         float32           `json:"score"`
	DocumentID    string            `json:"document_id"`
	DocumentTitle string            `json:"document_title"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SearchOptions bounds a search call.
type SearchOptions struct {
	Limit    int               `json:"limit"`
	MinScore float32           `json:"min_score"`
	Filter   map[string]string `json:"filter,omitempty"`
}

// RawHit is one hit as produced by the external search backend, before
// normalization.
type RawHit struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Snippet   string  `json:"snippet"`
	Source    string  `json:"source"` // origin of the hit: vector, lexical, fused
}

// QueryRequest is a backend query, bounded by MaxResults and MinScore.
type QueryRequest struct {
	UserID     string            `json:"user_id"`
	Query      string            `json:"query"`
	MaxResults int               `json:"max_results"`
	MinScore   float32           `json:"min_score"`
	Filter     map[string]string `json:"filter,omitempty"`
}

// ReindexRequest asks the backend to (re)build its index.
type ReindexRequest struct {
	Reason     string                `json:"reason"`
	Force      bool                  `json:"force"`
	OnProgress func(done, total int) `json:"-"`
}

// BackendStatus reports the state of the search backend index.
type BackendStatus struct {
	Files    int    `json:"files"`
	Chunks   int    `json:"chunks"`
	Dirty    bool   `json:"dirty"`
	Syncing  bool   `json:"syncing"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Backend is the contract the external vector/lexical search collaborator
// must provide. Implementations live in the search subpackage.
type Backend interface {
	Query(ctx context.Context, req *QueryRequest) ([]*RawHit, error)
	Reindex(ctx context.Context, req *ReindexRequest) error
	Status(ctx context.Context) (*BackendStatus, error)
	Close() error
}

// Searcher is the hybrid search service consumed by the knowledge domain.
// A nil Searcher (or a Searcher without a backend) degrades: searches
// return empty result sets and never raise an error.
type Searcher interface {
	// SearchSimilar runs vector similarity search, normalized and sorted by
	// descending score.
	SearchSimilar(ctx context.Context, userID, query string, opts *SearchOptions) ([]*SearchResult, error)
	// SearchHybrid adds lexical re-ranking where available and degrades
	// transparently to vector-only otherwise.
	SearchHybrid(ctx context.Context, userID, query string, opts *SearchOptions) ([]*SearchResult, error)
	// Reindex forwards an index maintenance request to the backend. Without
	// a backend it fails with ErrBackendUnavailable.
	Reindex(ctx context.Context, req *ReindexRequest) error
	Status(ctx context.Context) (*BackendStatus, error)
}
