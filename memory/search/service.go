// Package search implements the hybrid search service and the search
// backend implementations (embedded chromem, postgres/pgvector).
//
// The service normalizes raw backend hits into SearchResult records and
// carries the degraded-mode contract: without a backend, searches return
// empty result sets and never raise an error, while index maintenance
// reports ErrBackendUnavailable explicitly.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/hrygo/mnemos/memory"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultLimit    = 10
	vectorWeight    = 0.75
	lexicalWeight   = 0.25
	snippetMaxBytes = 400
)

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds every backend call. A slow backend cannot stall a
// caller past this deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRateLimit caps backend queries per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// Service is the hybrid search service consumed by the knowledge domain.
type Service struct {
	backend memory.Backend
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a search service. backend may be nil, which puts the service
// in degraded mode.
func New(backend memory.Backend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ memory.Searcher = (*Service)(nil)

// SearchSimilar runs vector similarity search through the backend and
// normalizes the hits. No backend means an empty result set, not an error.
func (s *Service) SearchSimilar(ctx context.Context, userID, query string, opts *memory.SearchOptions) ([]*memory.SearchResult, error) {
	if s.backend == nil {
		return []*memory.SearchResult{}, nil
	}
	hits, err := s.query(ctx, userID, query, opts)
	if err != nil {
		return nil, err
	}
	return s.normalize(hits, opts), nil
}

// SearchHybrid re-ranks vector hits with a lexical term-overlap component.
// When the backend is syncing or its status is unknown the lexical pass is
// skipped and the call degrades transparently to vector-only.
func (s *Service) SearchHybrid(ctx context.Context, userID, query string, opts *memory.SearchOptions) ([]*memory.SearchResult, error) {
	if s.backend == nil {
		return []*memory.SearchResult{}, nil
	}
	hits, err := s.query(ctx, userID, query, opts)
	if err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) > 0 && s.fusionAvailable(ctx) {
		for _, hit := range hits {
			overlap := termOverlap(hit.Snippet, terms)
			hit.Score = vectorWeight*hit.Score + lexicalWeight*overlap
			if hit.Source == "" || hit.Source == "vector" {
				hit.Source = "fused"
			}
		}
	}
	return s.normalize(hits, opts), nil
}

// Reindex forwards an index maintenance request to the backend.
func (s *Service) Reindex(ctx context.Context, req *memory.ReindexRequest) error {
	if s.backend == nil {
		return memory.ErrBackendUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.Reindex(ctx, req)
}

// Status reports the backend index state.
func (s *Service) Status(ctx context.Context) (*memory.BackendStatus, error) {
	if s.backend == nil {
		return nil, memory.ErrBackendUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.Status(ctx)
}

func (s *Service) query(ctx context.Context, userID, query string, opts *memory.SearchOptions) ([]*memory.RawHit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	limit := defaultLimit
	var minScore float32
	var filter map[string]string
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		minScore = opts.MinScore
		filter = opts.Filter
	}

	hits, err := s.backend.Query(ctx, &memory.QueryRequest{
		UserID:     userID,
		Query:      query,
		MaxResults: limit,
		MinScore:   minScore,
		Filter:     filter,
	})
	if err != nil {
		return nil, fmt.Errorf("backend query: %w", err)
	}
	return hits, nil
}

func (s *Service) fusionAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status, err := s.backend.Status(ctx)
	if err != nil {
		s.logger.Debug("backend status unavailable, vector-only ranking", "error", err)
		return false
	}
	return !status.Syncing
}

// normalize turns raw hits into SearchResult records sorted by descending
// score. Ties are broken arbitrarily but stably within one call.
func (s *Service) normalize(hits []*memory.RawHit, opts *memory.SearchOptions) []*memory.SearchResult {
	var minScore float32
	limit := 0
	if opts != nil {
		minScore = opts.MinScore
		limit = opts.Limit
	}

	results := make([]*memory.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		results = append(results, &memory.SearchResult{
			ID:         fmt.Sprintf("%s#%d-%d", hit.Path, hit.StartLine, hit.EndLine),
			Content:    truncate(hit.Snippet, snippetMaxBytes),
			Score:      hit.Score,
			DocumentID: hit.Path,
			Metadata: map[string]string{
				"source": hit.Source,
			},
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// termOverlap is the fraction of query terms present in the snippet.
func termOverlap(snippet string, terms []string) float32 {
	lower := strings.ToLower(snippet)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
