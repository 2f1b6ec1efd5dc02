package memory

import (
	"context"
	"time"
)

// DocumentSource records where a knowledge document came from.
type DocumentSource string

const (
	SourceUpload       DocumentSource = "upload"
	SourceConversation DocumentSource = "conversation"
	SourceWeb          DocumentSource = "web"
	SourceNote         DocumentSource = "note"
)

// DocumentStatus is the processing lifecycle state of a document.
// Transitions: pending -> processing -> indexed | failed.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is a knowledge document tracked through its processing
// lifecycle. ContentRef is an opaque pointer to externally stored content.
// ProcessedAt is set only when leaving the processing state.
type Document struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Source         DocumentSource    `json:"source"`
	ContentRef     string            `json:"content_ref"`
	MimeType       string            `json:"mime_type"`
	Size           int64             `json:"size"`
	Status         DocumentStatus    `json:"status"`
	ChunkCount     int               `json:"chunk_count"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}

// ListDocumentsOptions filters, sorts, and paginates a document listing.
type ListDocumentsOptions struct {
	Status    DocumentStatus // "" means all
	Source    DocumentSource // "" means all
	SortBy    string         // created_at (default), title, size, status
	Ascending bool
	Offset    int
	Limit     int // 0 means no limit
}

// Entity is a node of the per-user knowledge graph. MentionCount increments
// on each reference in ingested text.
type Entity struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Properties   map[string]any `json:"properties,omitempty"`
	MentionCount int            `json:"mention_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Relationship is a weighted, typed edge between two entities. Deleting
// either endpoint entity cascades to the relationship.
type Relationship struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Weight     float64        `json:"weight"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EntityPatch is a partial update to an entity.
type EntityPatch struct {
	Name       *string        `json:"name,omitempty"`
	Type       *string        `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// RelationshipPatch is a partial update to a relationship.
type RelationshipPatch struct {
	Type       *string        `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Weight     *float64       `json:"weight,omitempty"`
}

// GraphPattern narrows a graph query. The zero value matches the whole
// per-user graph.
type GraphPattern struct {
	EntityType string `json:"entity_type,omitempty"`
}

// GraphView is a node/edge snapshot of (part of) the per-user graph.
// When filtered by entity type, edges are kept if at least one endpoint is
// in the node set, so boundary context is preserved.
type GraphView struct {
	Nodes []*Entity       `json:"nodes"`
	Edges []*Relationship `json:"edges"`
}

// EntityContext is the 1-hop neighborhood of an entity.
type EntityContext struct {
	Entity           *Entity         `json:"entity"`
	Neighbors        []*Entity       `json:"neighbors"`
	Relationships    []*Relationship `json:"relationships"`
	RelatedDocuments []*Document     `json:"related_documents"`
}

// Community is a derived cluster of entities at a hierarchy level with a
// generated summary. Communities are rebuilt on demand and never mutated
// directly by callers.
type Community struct {
	ID        string   `json:"id"`
	Level     int      `json:"level"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	EntityIDs []string `json:"entity_ids"`
}

// Answer is the result of graph-augmented question answering.
type Answer struct {
	Answer     string          `json:"answer"`
	Evidence   []*SearchResult `json:"evidence"`
	Entities   []*Entity       `json:"entities"`
	Confidence float32         `json:"confidence"`
}

// ImportResult reports what a conversation import produced.
type ImportResult struct {
	DocumentID      string   `json:"document_id"`
	EntityIDs       []string `json:"entity_ids"`
	RelationshipIDs []string `json:"relationship_ids"`
}

// KnowledgeProvider manages per-user documents, the entity-relationship
// graph, community clusters, and graph-augmented answering.
type KnowledgeProvider interface {
	Provider

	// AddDocument stores a document in the pending state. ID, CreatedAt,
	// and Status are set server-side.
	AddDocument(ctx context.Context, userID string, doc *Document) (string, error)
	GetDocument(ctx context.Context, userID, docID string) (*Document, error)
	// DeleteDocument removes a document; absent ids are an idempotent no-op.
	DeleteDocument(ctx context.Context, userID, docID string) error
	ListDocuments(ctx context.Context, userID string, opts *ListDocumentsOptions) ([]*Document, error)
	GetDocumentStatus(ctx context.Context, userID, docID string) (DocumentStatus, error)
	// IndexDocument runs the document through the search backend. Without a
	// backend it fails with ErrBackendUnavailable rather than silently
	// succeeding.
	IndexDocument(ctx context.Context, userID, docID string) error
	ReindexDocument(ctx context.Context, userID, docID string) error
	// ReindexAll resyncs the backend and forces every document of the user
	// to indexed.
	ReindexAll(ctx context.Context, userID string) error

	AddEntity(ctx context.Context, userID string, entity *Entity) (string, error)
	GetEntity(ctx context.Context, userID, entityID string) (*Entity, error)
	UpdateEntity(ctx context.Context, userID, entityID string, patch *EntityPatch) error
	// DeleteEntity cascades: every relationship touching the entity as
	// source or target is deleted too. Absent ids are an idempotent no-op.
	DeleteEntity(ctx context.Context, userID, entityID string) error

	AddRelationship(ctx context.Context, userID string, rel *Relationship) (string, error)
	GetRelationship(ctx context.Context, userID, relID string) (*Relationship, error)
	UpdateRelationship(ctx context.Context, userID, relID string, patch *RelationshipPatch) error
	DeleteRelationship(ctx context.Context, userID, relID string) error

	QueryGraph(ctx context.Context, userID string, pattern *GraphPattern) (*GraphView, error)
	// GetEntityContext traverses one hop regardless of depth; deeper
	// traversal is an extension point, not a guaranteed property.
	GetEntityContext(ctx context.Context, userID, entityID string, depth int) (*EntityContext, error)

	BuildCommunities(ctx context.Context, userID string) ([]*Community, error)
	GetCommunities(ctx context.Context, userID string) ([]*Community, error)

	SearchSimilar(ctx context.Context, userID, query string, opts *SearchOptions) ([]*SearchResult, error)
	SearchHybrid(ctx context.Context, userID, query string, opts *SearchOptions) ([]*SearchResult, error)

	AnswerWithGraph(ctx context.Context, userID, question string) (*Answer, error)
	ImportConversation(ctx context.Context, userID, sessionID string, messages []Message) (*ImportResult, error)
}
