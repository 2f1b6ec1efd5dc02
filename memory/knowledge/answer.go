package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hrygo/mnemos/memory"
)

const answerEvidenceLimit = 5

// AnswerWithGraph answers a question from hybrid search evidence plus the
// entities the evidence mentions. It never fails just because nothing
// matches; an empty evidence set yields a low-confidence "not found"
// answer.
func (p *Provider) AnswerWithGraph(ctx context.Context, userID, question string) (ans *memory.Answer, err error) {
	start := time.Now()
	defer func() { p.observe("answer_with_graph", start, err) }()
	if err = p.Guard(); err != nil {
		return nil, err
	}

	evidence, err := p.SearchHybrid(ctx, userID, question, &memory.SearchOptions{Limit: answerEvidenceLimit})
	if err != nil {
		return nil, fmt.Errorf("gather evidence: %w", err)
	}

	ans = &memory.Answer{
		Evidence: evidence,
		Entities: p.mentionedEntities(userID, evidence),
	}
	if len(evidence) == 0 {
		ans.Answer = "No stored knowledge matches the question."
		ans.Confidence = 0.1
		return ans, nil
	}

	top := evidence[0]
	ans.Answer = top.Content
	ans.Confidence = confidenceFromScore(top.Score)
	return ans, nil
}

// mentionedEntities returns the user's entities whose names appear in the
// evidence text, ordered by mention count then id.
func (p *Provider) mentionedEntities(userID string, evidence []*memory.SearchResult) []*memory.Entity {
	var blob strings.Builder
	for _, ev := range evidence {
		blob.WriteString(strings.ToLower(ev.Content))
		blob.WriteString("\n")
	}
	text := blob.String()

	out := []*memory.Entity{}
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		for _, ent := range g.entities {
			name := strings.ToLower(ent.Name)
			if name != "" && strings.Contains(text, name) {
				out = append(out, cloneEntity(ent))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].MentionCount != out[j].MentionCount {
			return out[i].MentionCount > out[j].MentionCount
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func confidenceFromScore(score float32) float32 {
	c := 0.2 + 0.75*score
	if c > 0.95 {
		c = 0.95
	}
	if c < 0.2 {
		c = 0.2
	}
	return c
}

// ImportConversation stores a session transcript as a conversation-sourced
// document and counts entity mentions in it. Entity and relationship
// extraction from free text is not attempted, so the derived id lists stay
// empty.
func (p *Provider) ImportConversation(ctx context.Context, userID, sessionID string, messages []memory.Message) (res *memory.ImportResult, err error) {
	start := time.Now()
	defer func() { p.observe("import_conversation", start, err) }()
	if err = p.Guard(); err != nil {
		return nil, err
	}

	body := transcript(messages)
	doc := &memory.Document{
		Title:      "Conversation " + sessionID,
		Source:     memory.SourceConversation,
		ContentRef: "conversation://" + sessionID,
		MimeType:   "text/plain",
		Size:       int64(len(body)),
		Metadata:   map[string]string{"session_id": sessionID},
	}
	docID, err := p.AddDocument(ctx, userID, doc)
	if err != nil {
		return nil, fmt.Errorf("store transcript: %w", err)
	}

	lower := strings.ToLower(body)
	p.users.Mutate(userID, func(g *userGraph) {
		g.contents[docID] = body
		for _, ent := range g.entities {
			name := strings.ToLower(ent.Name)
			if name != "" && strings.Contains(lower, name) {
				ent.MentionCount++
				ent.UpdatedAt = bump(ent.UpdatedAt)
			}
		}
	})

	return &memory.ImportResult{
		DocumentID:      docID,
		EntityIDs:       []string{},
		RelationshipIDs: []string{},
	}, nil
}
