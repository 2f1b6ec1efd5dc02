package knowledge

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/mnemos/memory"
)

func (p *Provider) AddEntity(ctx context.Context, userID string, entity *memory.Entity) (id string, err error) {
	start := time.Now()
	defer func() { p.observe("add_entity", start, err) }()
	if err = p.Guard(); err != nil {
		return "", err
	}

	now := time.Now()
	stored := *entity
	stored.ID = uuid.New().String()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Properties != nil {
		stored.Properties = cloneProps(stored.Properties)
	}

	p.users.Mutate(userID, func(g *userGraph) {
		g.entities[stored.ID] = &stored
	})
	return stored.ID, nil
}

func (p *Provider) GetEntity(ctx context.Context, userID, entityID string) (*memory.Entity, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}
	var ent *memory.Entity
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		if e, found := g.entities[entityID]; found {
			ent = cloneEntity(e)
		}
	})
	if ent == nil {
		return nil, memory.ErrNotFound
	}
	return ent, nil
}

func (p *Provider) UpdateEntity(ctx context.Context, userID, entityID string, patch *memory.EntityPatch) (err error) {
	start := time.Now()
	defer func() { p.observe("update_entity", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	found := false
	p.users.Mutate(userID, func(g *userGraph) {
		ent, ok := g.entities[entityID]
		if !ok {
			return
		}
		found = true
		if patch.Name != nil {
			ent.Name = *patch.Name
		}
		if patch.Type != nil {
			ent.Type = *patch.Type
		}
		if patch.Properties != nil {
			ent.Properties = cloneProps(patch.Properties)
		}
		ent.UpdatedAt = bump(ent.UpdatedAt)
	})
	if !found {
		return memory.ErrNotFound
	}
	return nil
}

// DeleteEntity removes the entity and cascades to every relationship that
// references it as source or target. Absent ids are a no-op.
func (p *Provider) DeleteEntity(ctx context.Context, userID, entityID string) (err error) {
	start := time.Now()
	defer func() { p.observe("delete_entity", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	p.users.Mutate(userID, func(g *userGraph) {
		if _, ok := g.entities[entityID]; !ok {
			return
		}
		delete(g.entities, entityID)
		for id, rel := range g.relationships {
			if rel.SourceID == entityID || rel.TargetID == entityID {
				delete(g.relationships, id)
			}
		}
	})
	return nil
}

// AddRelationship rejects edges whose endpoints are not stored entities.
func (p *Provider) AddRelationship(ctx context.Context, userID string, rel *memory.Relationship) (id string, err error) {
	start := time.Now()
	defer func() { p.observe("add_relationship", start, err) }()
	if err = p.Guard(); err != nil {
		return "", err
	}

	stored := *rel
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	if stored.Properties != nil {
		stored.Properties = cloneProps(stored.Properties)
	}

	endpointsOK := false
	p.users.Mutate(userID, func(g *userGraph) {
		_, srcOK := g.entities[stored.SourceID]
		_, dstOK := g.entities[stored.TargetID]
		if !srcOK || !dstOK {
			return
		}
		endpointsOK = true
		g.relationships[stored.ID] = &stored
	})
	if !endpointsOK {
		return "", memory.ErrNotFound
	}
	return stored.ID, nil
}

func (p *Provider) GetRelationship(ctx context.Context, userID, relID string) (*memory.Relationship, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}
	var rel *memory.Relationship
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		if r, found := g.relationships[relID]; found {
			rel = cloneRelationship(r)
		}
	})
	if rel == nil {
		return nil, memory.ErrNotFound
	}
	return rel, nil
}

func (p *Provider) UpdateRelationship(ctx context.Context, userID, relID string, patch *memory.RelationshipPatch) (err error) {
	start := time.Now()
	defer func() { p.observe("update_relationship", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	found := false
	p.users.Mutate(userID, func(g *userGraph) {
		rel, ok := g.relationships[relID]
		if !ok {
			return
		}
		found = true
		if patch.Type != nil {
			rel.Type = *patch.Type
		}
		if patch.Properties != nil {
			rel.Properties = cloneProps(patch.Properties)
		}
		if patch.Weight != nil {
			rel.Weight = *patch.Weight
		}
	})
	if !found {
		return memory.ErrNotFound
	}
	return nil
}

func (p *Provider) DeleteRelationship(ctx context.Context, userID, relID string) (err error) {
	start := time.Now()
	defer func() { p.observe("delete_relationship", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	p.users.Mutate(userID, func(g *userGraph) {
		delete(g.relationships, relID)
	})
	return nil
}

// QueryGraph snapshots the user's graph. A pattern with an entity type
// keeps matching nodes plus every edge with at least one endpoint among
// them, so the boundary of the filtered subgraph stays visible.
func (p *Provider) QueryGraph(ctx context.Context, userID string, pattern *memory.GraphPattern) (*memory.GraphView, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	view := &memory.GraphView{Nodes: []*memory.Entity{}, Edges: []*memory.Relationship{}}
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		keep := make(map[string]bool, len(g.entities))
		for id, ent := range g.entities {
			if pattern != nil && pattern.EntityType != "" && ent.Type != pattern.EntityType {
				continue
			}
			keep[id] = true
			view.Nodes = append(view.Nodes, cloneEntity(ent))
		}
		for _, rel := range g.relationships {
			if keep[rel.SourceID] || keep[rel.TargetID] {
				view.Edges = append(view.Edges, cloneRelationship(rel))
			}
		}
	})

	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })
	sort.Slice(view.Edges, func(i, j int) bool { return view.Edges[i].ID < view.Edges[j].ID })
	return view, nil
}

// GetEntityContext returns the 1-hop neighborhood. The depth parameter is
// accepted for forward compatibility but deeper traversal is not performed.
func (p *Provider) GetEntityContext(ctx context.Context, userID, entityID string, depth int) (*memory.EntityContext, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	var ectx *memory.EntityContext
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		ent, found := g.entities[entityID]
		if !found {
			return
		}
		ectx = &memory.EntityContext{
			Entity:           cloneEntity(ent),
			Neighbors:        []*memory.Entity{},
			Relationships:    []*memory.Relationship{},
			RelatedDocuments: []*memory.Document{},
		}

		seen := make(map[string]bool)
		for _, rel := range g.relationships {
			var other string
			switch entityID {
			case rel.SourceID:
				other = rel.TargetID
			case rel.TargetID:
				other = rel.SourceID
			default:
				continue
			}
			ectx.Relationships = append(ectx.Relationships, cloneRelationship(rel))
			if neighbor, ok := g.entities[other]; ok && !seen[other] {
				seen[other] = true
				ectx.Neighbors = append(ectx.Neighbors, cloneEntity(neighbor))
			}
		}

		name := strings.ToLower(ent.Name)
		for id, doc := range g.docs {
			text := strings.ToLower(doc.Title + " " + g.contents[id])
			if name != "" && strings.Contains(text, name) {
				clone := *doc
				ectx.RelatedDocuments = append(ectx.RelatedDocuments, &clone)
			}
		}
	})
	if ectx == nil {
		return nil, memory.ErrNotFound
	}

	sort.Slice(ectx.Neighbors, func(i, j int) bool { return ectx.Neighbors[i].ID < ectx.Neighbors[j].ID })
	sort.Slice(ectx.Relationships, func(i, j int) bool { return ectx.Relationships[i].ID < ectx.Relationships[j].ID })
	sort.Slice(ectx.RelatedDocuments, func(i, j int) bool { return ectx.RelatedDocuments[i].ID < ectx.RelatedDocuments[j].ID })
	return ectx, nil
}

func cloneEntity(e *memory.Entity) *memory.Entity {
	clone := *e
	clone.Properties = cloneProps(e.Properties)
	return &clone
}

func cloneRelationship(r *memory.Relationship) *memory.Relationship {
	clone := *r
	clone.Properties = cloneProps(r.Properties)
	return &clone
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// bump guarantees a strictly later timestamp even when the wall clock has
// not advanced between updates.
func bump(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
