package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemos/memory"
)

func TestAnswerWithGraph(t *testing.T) {
	fs := &fakeSearcher{results: []*memory.SearchResult{
		{ID: "d1#0-0", DocumentID: "d1", Content: "Ada Lovelace wrote the first program for the Analytical Engine.", Score: 0.8},
		{ID: "d2#0-0", DocumentID: "d2", Content: "Babbage designed the machine.", Score: 0.4},
	}}
	p := newProvider(t, fs)
	ctx := context.Background()

	adaID := addEntity(t, p, "u1", "Ada Lovelace", "person")
	addEntity(t, p, "u1", "Turing", "person")

	ans, err := p.AnswerWithGraph(ctx, "u1", "Who wrote the first program?")
	require.NoError(t, err)

	assert.Len(t, ans.Evidence, 2)
	assert.Equal(t, "Ada Lovelace wrote the first program for the Analytical Engine.", ans.Answer)
	assert.InDelta(t, 0.2+0.75*0.8, float64(ans.Confidence), 0.001)

	// only entities mentioned in the evidence are attached
	require.Len(t, ans.Entities, 1)
	assert.Equal(t, adaID, ans.Entities[0].ID)
}

func TestAnswerWithGraphNoEvidence(t *testing.T) {
	p := newProvider(t, &fakeSearcher{})
	ctx := context.Background()

	ans, err := p.AnswerWithGraph(ctx, "u1", "Anything at all?")
	require.NoError(t, err)
	assert.NotEmpty(t, ans.Answer)
	assert.InDelta(t, 0.1, float64(ans.Confidence), 0.001)
	assert.Empty(t, ans.Evidence)
	assert.Empty(t, ans.Entities)
}

func TestAnswerWithGraphDegradedMode(t *testing.T) {
	p := newProvider(t, nil)

	ans, err := p.AnswerWithGraph(context.Background(), "u1", "question")
	require.NoError(t, err)
	assert.Empty(t, ans.Evidence)
	assert.InDelta(t, 0.1, float64(ans.Confidence), 0.001)
}

func TestConfidenceFromScore(t *testing.T) {
	assert.InDelta(t, 0.2, float64(confidenceFromScore(0)), 0.001)
	assert.InDelta(t, 0.575, float64(confidenceFromScore(0.5)), 0.001)
	assert.InDelta(t, 0.95, float64(confidenceFromScore(1)), 0.001)
	assert.InDelta(t, 0.95, float64(confidenceFromScore(2)), 0.001)
}

func TestImportConversation(t *testing.T) {
	p := newProvider(t, nil)
	ctx := context.Background()

	adaID := addEntity(t, p, "u1", "Ada", "person")

	res, err := p.ImportConversation(ctx, "u1", "sess-42", []memory.Message{
		{Role: memory.RoleUser, Content: "Tell me about Ada."},
		{Role: memory.RoleAssistant, Content: "Ada was a mathematician."},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.DocumentID)
	assert.Empty(t, res.EntityIDs)
	assert.Empty(t, res.RelationshipIDs)

	doc, err := p.GetDocument(ctx, "u1", res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, memory.SourceConversation, doc.Source)
	assert.Equal(t, "conversation://sess-42", doc.ContentRef)
	assert.Equal(t, memory.StatusPending, doc.Status)
	assert.Equal(t, "sess-42", doc.Metadata["session_id"])

	// mention counting touches matching entities
	ent, err := p.GetEntity(ctx, "u1", adaID)
	require.NoError(t, err)
	assert.Equal(t, 1, ent.MentionCount)

	// the transcript body is part of the indexable corpus
	docs, err := p.SnapshotDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "user: Tell me about Ada.")
	assert.Contains(t, docs[0].Content, "assistant: Ada was a mathematician.")
}

// staticClusterer groups every entity into one community per call.
type staticClusterer struct {
	calls int
}

func (c *staticClusterer) Cluster(entities []*memory.Entity, rels []*memory.Relationship) []*memory.Community {
	c.calls++
	if len(entities) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	return []*memory.Community{{ID: "c1", Level: 0, Title: "everyone", EntityIDs: ids}}
}

func TestBuildCommunities(t *testing.T) {
	p, err := New(memory.Config{})
	require.NoError(t, err)
	clusterer := &staticClusterer{}
	p.SetClusterer(clusterer)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	defer p.Shutdown(ctx)

	// empty graph yields an empty set, not an error
	communities, err := p.BuildCommunities(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, communities)

	e1 := addEntity(t, p, "u1", "Ada", "person")
	e2 := addEntity(t, p, "u1", "Babbage", "person")

	communities, err = p.BuildCommunities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, communities, 1)
	assert.ElementsMatch(t, []string{e1, e2}, communities[0].EntityIDs)

	got, err := p.GetCommunities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "everyone", got[0].Title)

	// other users have no communities
	got, err = p.GetCommunities(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDefaultClustererIsEmpty(t *testing.T) {
	p := newProvider(t, nil)
	ctx := context.Background()

	addEntity(t, p, "u1", "Ada", "person")

	communities, err := p.BuildCommunities(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, communities)

	got, err := p.GetCommunities(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
