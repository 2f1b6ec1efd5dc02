package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemos/memory"
)

// fakeBackend scripts raw hits and a status for service tests.
type fakeBackend struct {
	hits      []*memory.RawHit
	queryErr  error
	status    memory.BackendStatus
	statusErr error

	lastQuery *memory.QueryRequest
	reindexed int
}

func (f *fakeBackend) Query(ctx context.Context, req *memory.QueryRequest) ([]*memory.RawHit, error) {
	f.lastQuery = req
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.hits, nil
}

func (f *fakeBackend) Reindex(ctx context.Context, req *memory.ReindexRequest) error {
	f.reindexed++
	return nil
}

func (f *fakeBackend) Status(ctx context.Context) (*memory.BackendStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status := f.status
	return &status, nil
}

func (f *fakeBackend) Close() error { return nil }

func TestSearchWithoutBackend(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	results, err := s.SearchSimilar(ctx, "u1", "anything", nil)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results, err = s.SearchHybrid(ctx, "u1", "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, s.Reindex(ctx, &memory.ReindexRequest{}), memory.ErrBackendUnavailable)
	_, err = s.Status(ctx)
	assert.ErrorIs(t, err, memory.ErrBackendUnavailable)
}

func TestSearchSimilarNormalizes(t *testing.T) {
	fb := &fakeBackend{hits: []*memory.RawHit{
		{Path: "doc-a", StartLine: 1, EndLine: 4, Score: 0.4, Snippet: "lower scoring chunk", Source: "vector"},
		{Path: "doc-b", StartLine: 2, EndLine: 9, Score: 0.9, Snippet: "best chunk", Source: "vector"},
	}}
	s := New(fb)

	results, err := s.SearchSimilar(context.Background(), "u1", "chunk", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// sorted by descending score
	assert.Equal(t, "doc-b", results[0].DocumentID)
	assert.Equal(t, "doc-b#2-9", results[0].ID)
	assert.Equal(t, "best chunk", results[0].Content)
	assert.Equal(t, "vector", results[0].Metadata["source"])
	assert.Equal(t, "doc-a", results[1].DocumentID)
}

func TestSearchSimilarMinScoreAndLimit(t *testing.T) {
	fb := &fakeBackend{hits: []*memory.RawHit{
		{Path: "a", Score: 0.9, Snippet: "x"},
		{Path: "b", Score: 0.5, Snippet: "y"},
		{Path: "c", Score: 0.1, Snippet: "z"},
	}}
	s := New(fb)

	results, err := s.SearchSimilar(context.Background(), "u1", "q", &memory.SearchOptions{MinScore: 0.3, Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].DocumentID)
}

func TestSearchSimilarBackendError(t *testing.T) {
	fb := &fakeBackend{queryErr: errors.New("connection reset")}
	s := New(fb)

	_, err := s.SearchSimilar(context.Background(), "u1", "q", nil)
	assert.Error(t, err)
}

func TestSearchHybridFusion(t *testing.T) {
	fb := &fakeBackend{hits: []*memory.RawHit{
		{Path: "match", Score: 0.5, Snippet: "the quick brown fox", Source: "vector"},
		{Path: "nomatch", Score: 0.5, Snippet: "unrelated text", Source: "vector"},
	}}
	s := New(fb)

	results, err := s.SearchHybrid(context.Background(), "u1", "quick fox", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// the lexically overlapping hit outranks the equal-vector-score one
	assert.Equal(t, "match", results[0].DocumentID)
	assert.Equal(t, "fused", results[0].Metadata["source"])
	assert.InDelta(t, 0.75*0.5+0.25*1.0, float64(results[0].Score), 0.001)
	assert.InDelta(t, 0.75*0.5, float64(results[1].Score), 0.001)
}

func TestSearchHybridDegradesWhileSyncing(t *testing.T) {
	fb := &fakeBackend{
		hits:   []*memory.RawHit{{Path: "a", Score: 0.5, Snippet: "the quick brown fox", Source: "vector"}},
		status: memory.BackendStatus{Syncing: true},
	}
	s := New(fb)

	results, err := s.SearchHybrid(context.Background(), "u1", "quick fox", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// vector score untouched, no fusion happened
	assert.InDelta(t, 0.5, float64(results[0].Score), 0.001)
	assert.Equal(t, "vector", results[0].Metadata["source"])
}

func TestSearchHybridDegradesOnStatusError(t *testing.T) {
	fb := &fakeBackend{
		hits:      []*memory.RawHit{{Path: "a", Score: 0.5, Snippet: "the quick brown fox", Source: "vector"}},
		statusErr: errors.New("status unavailable"),
	}
	s := New(fb)

	results, err := s.SearchHybrid(context.Background(), "u1", "quick fox", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, float64(results[0].Score), 0.001)
}

func TestQueryDefaultsAndPassthrough(t *testing.T) {
	fb := &fakeBackend{}
	s := New(fb)

	_, err := s.SearchSimilar(context.Background(), "u7", "hello", nil)
	require.NoError(t, err)
	require.NotNil(t, fb.lastQuery)
	assert.Equal(t, "u7", fb.lastQuery.UserID)
	assert.Equal(t, defaultLimit, fb.lastQuery.MaxResults)

	_, err = s.SearchSimilar(context.Background(), "u7", "hello", &memory.SearchOptions{Limit: 3, MinScore: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 3, fb.lastQuery.MaxResults)
	assert.InDelta(t, 0.2, float64(fb.lastQuery.MinScore), 0.001)
}

func TestSnippetTruncation(t *testing.T) {
	long := make([]byte, snippetMaxBytes*2)
	for i := range long {
		long[i] = 'a'
	}
	fb := &fakeBackend{hits: []*memory.RawHit{{Path: "a", Score: 0.5, Snippet: string(long)}}}
	s := New(fb)

	results, err := s.SearchSimilar(context.Background(), "u1", "q", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Content, snippetMaxBytes)
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	// "é" is two bytes; cutting inside it must back up to the boundary.
	assert.Equal(t, "h", truncate("héllo", 2))
	assert.Equal(t, "hé", truncate("héllo", 3))

	long := strings.Repeat("世", snippetMaxBytes)
	cut := truncate(long, snippetMaxBytes)
	assert.True(t, utf8.ValidString(cut))
	assert.LessOrEqual(t, len(cut), snippetMaxBytes)
}

func TestTermOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, float64(termOverlap("the quick brown fox", []string{"quick", "fox"})), 0.001)
	assert.InDelta(t, 0.5, float64(termOverlap("the quick brown fox", []string{"quick", "owl"})), 0.001)
	assert.InDelta(t, 0.0, float64(termOverlap("unrelated", []string{"quick", "owl"})), 0.001)
}
